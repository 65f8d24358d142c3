package templator

import (
	"embed"
	"fmt"
	"path/filepath"
)

//go:embed templates/*.tmpl
var scriptTemplates embed.FS

const (
	StartScript  = "start-vm"
	StopScript   = "stop-vm"
	StatusScript = "status-vm"
)

// ScriptData carries the resolved VM profile values substituted into the
// generated control scripts. All three scripts are rendered from the same
// data so the embedded name/port/directory values stay consistent.
type ScriptData struct {
	VMName     string
	VMDir      string
	RAM        string
	CPUs       string
	SSHPort    int
	QEMUBinary string
	HasSeedISO bool
}

// ControlScripts renders the per-VM start/stop/status management scripts.
type ControlScripts struct {
	engine *Engine
}

func NewControlScripts() (*ControlScripts, error) {
	engine := NewEngine()

	for name, file := range map[string]string{
		StartScript:  "templates/start-vm.sh.tmpl",
		StopScript:   "templates/stop-vm.sh.tmpl",
		StatusScript: "templates/status-vm.sh.tmpl",
	} {
		text, err := scriptTemplates.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", file, err)
		}
		if err := engine.Register(name, string(text)); err != nil {
			return nil, err
		}
	}

	return &ControlScripts{engine: engine}, nil
}

// Render produces the content of one control script without touching the
// filesystem.
func (c *ControlScripts) Render(script string, data ScriptData) ([]byte, error) {
	return c.engine.RenderToBytes(script, data)
}

// WriteAll renders all three scripts into dir as independently executable
// files.
func (c *ControlScripts) WriteAll(dir string, data ScriptData) error {
	for _, script := range []string{StartScript, StopScript, StatusScript} {
		path := filepath.Join(dir, script)
		if err := c.engine.RenderToFile(script, path, 0o755, data); err != nil {
			return fmt.Errorf("failed to generate %s: %w", script, err)
		}
	}
	return nil
}
