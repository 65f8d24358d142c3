package templator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScriptData() ScriptData {
	return ScriptData{
		VMName:     "test-vm",
		VMDir:      "/home/user/vms/test-vm",
		RAM:        "1G",
		CPUs:       "1",
		SSHPort:    2223,
		QEMUBinary: "qemu-system-x86_64",
		HasSeedISO: true,
	}
}

func TestControlScripts_Render(t *testing.T) {
	scripts, err := NewControlScripts()
	require.NoError(t, err)

	start, err := scripts.Render(StartScript, testScriptData())
	require.NoError(t, err)

	text := string(start)
	assert.True(t, strings.HasPrefix(text, "#!/bin/bash\n"))
	assert.Contains(t, text, `SSH_PORT="2223"`)
	assert.Contains(t, text, `VM_NAME="test-vm"`)
	assert.Contains(t, text, `RAM="1G"`)
	assert.Contains(t, text, "qemu-system-x86_64")
	assert.Contains(t, text, "cloud-init.iso")
	assert.Contains(t, text, "-daemonize")
	assert.Contains(t, text, `-pidfile "$VM_NAME.pid"`)
}

func TestControlScripts_Render_NoSeedISO(t *testing.T) {
	scripts, err := NewControlScripts()
	require.NoError(t, err)

	data := testScriptData()
	data.HasSeedISO = false

	start, err := scripts.Render(StartScript, data)
	require.NoError(t, err)
	assert.NotContains(t, string(start), "cloud-init.iso")
}

// All three scripts must embed the exact same profile values.
func TestControlScripts_CrossScriptConsistency(t *testing.T) {
	scripts, err := NewControlScripts()
	require.NoError(t, err)

	data := testScriptData()

	for _, script := range []string{StartScript, StopScript, StatusScript} {
		content, err := scripts.Render(script, data)
		require.NoError(t, err)

		text := string(content)
		assert.Contains(t, text, `VM_NAME="test-vm"`, script)
		assert.Contains(t, text, `VM_DIR="/home/user/vms/test-vm"`, script)
	}

	// port shows up in the scripts that reference SSH
	for _, script := range []string{StartScript, StatusScript} {
		content, err := scripts.Render(script, data)
		require.NoError(t, err)
		assert.Contains(t, string(content), `SSH_PORT="2223"`, script)
	}
}

func TestControlScripts_WriteAll(t *testing.T) {
	scripts, err := NewControlScripts()
	require.NoError(t, err)

	dir := t.TempDir()
	data := testScriptData()
	data.VMDir = dir

	require.NoError(t, scripts.WriteAll(dir, data))

	for _, script := range []string{StartScript, StopScript, StatusScript} {
		path := filepath.Join(dir, script)
		info, err := os.Stat(path)
		require.NoError(t, err, script)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm(), script)
	}
}
