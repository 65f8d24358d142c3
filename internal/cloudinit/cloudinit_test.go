package cloudinit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRenderUserData(t *testing.T) {
	content, err := RenderUserData(DefaultUserData())
	require.NoError(t, err)

	text := string(content)
	assert.True(t, strings.HasPrefix(text, "#cloud-config\n"))
	assert.Contains(t, text, "name: ubuntu")
	assert.Contains(t, text, PublicKeyPlaceholder)
	assert.Contains(t, text, "ssh_pwauth: true")
	assert.Contains(t, text, "openssh-server")

	// the document after the header must stay valid YAML
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(content, &doc))
	assert.Contains(t, doc, "users")
	assert.Contains(t, doc, "runcmd")
}

func TestRenderMetaData(t *testing.T) {
	content, err := RenderMetaData("test-vm")
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "instance-id: test-vm")
	assert.Contains(t, text, "local-hostname: test-vm")
}

func TestWriteSeedFiles(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteSeedFiles(dir, "test-vm"))

	assert.FileExists(t, filepath.Join(dir, UserDataFile))
	assert.FileExists(t, filepath.Join(dir, MetaDataFile))
}

func TestInjectPublicKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteSeedFiles(dir, "test-vm"))

	key := "ssh-rsa AAAAB3NzaC1yc2ETESTKEY user@host"
	require.NoError(t, InjectPublicKey(dir, key+"\n"))

	content, err := os.ReadFile(filepath.Join(dir, UserDataFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), key)
	assert.NotContains(t, string(content), PublicKeyPlaceholder)

	// a second injection is a no-op
	require.NoError(t, InjectPublicKey(dir, key))
	again, err := os.ReadFile(filepath.Join(dir, UserDataFile))
	require.NoError(t, err)
	assert.Equal(t, content, again)
}
