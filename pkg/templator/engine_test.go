package templator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RenderToBytes(t *testing.T) {
	engine := NewEngine()
	require.NoError(t, engine.Register("greeting", "hello {{.Who}}"))

	assert.True(t, engine.HasTemplate("greeting"))
	assert.False(t, engine.HasTemplate("missing"))

	out, err := engine.RenderToBytes("greeting", struct{ Who string }{Who: "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))

	_, err = engine.RenderToBytes("missing", nil)
	assert.Error(t, err)
}

func TestEngine_Register_InvalidTemplate(t *testing.T) {
	engine := NewEngine()

	err := engine.Register("broken", "{{.Unclosed")
	assert.Error(t, err)
}

func TestEngine_RenderToFile(t *testing.T) {
	engine := NewEngine()
	require.NoError(t, engine.Register("script", "#!/bin/sh\necho {{.Msg}}\n"))

	path := filepath.Join(t.TempDir(), "out.sh")
	require.NoError(t, engine.RenderToFile("script", path, 0o755, struct{ Msg string }{Msg: "ok"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho ok\n", string(content))
}
