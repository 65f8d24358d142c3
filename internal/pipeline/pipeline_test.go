package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabiome/hatchery/internal/config"
	"github.com/terabiome/hatchery/pkg/executor"
	"github.com/terabiome/hatchery/pkg/executor/isomaster"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor mimics the side effects of the external tools so the
// skip-if-exists checks behave as they would against real invocations.
type fakeExecutor struct {
	calls   [][]string
	failFor map[string]error
}

func (f *fakeExecutor) Name() string { return "fake" }

func (f *fakeExecutor) Execute(ctx context.Context, stdout, stderr io.Writer, command string, args ...string) (int, error) {
	f.calls = append(f.calls, append([]string{command}, args...))

	if err, ok := f.failFor[command]; ok {
		return 1, err
	}

	switch command {
	case "mkdir":
		os.MkdirAll(args[len(args)-1], 0o755)
	case "qemu-img":
		if args[0] == "convert" {
			os.WriteFile(args[len(args)-1], []byte("disk"), 0o644)
		}
	case "ssh-keygen":
		for i, a := range args {
			if a == "-f" {
				keyPath := args[i+1]
				os.WriteFile(keyPath, []byte("private"), 0o600)
				os.WriteFile(keyPath+".pub", []byte("ssh-rsa AAAATESTKEY test@host\n"), 0o644)
			}
		}
	case "rm":
		os.Remove(args[len(args)-1])
	}
	return 0, nil
}

func (f *fakeExecutor) countCalls(command string, subcommand string) int {
	n := 0
	for _, call := range f.calls {
		if call[0] != command {
			continue
		}
		if subcommand == "" || (len(call) > 1 && call[1] == subcommand) {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, dest, wantSHA256 string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte("cloud image"), 0o644)
}

type fakeMasterer struct {
	available   bool
	masterCalls int
}

func (f *fakeMasterer) Name() string    { return "fake-masterer" }
func (f *fakeMasterer) Available() bool { return f.available }

func (f *fakeMasterer) Master(ctx context.Context, exec executor.Executor, opts isomaster.Options) error {
	f.masterCalls++
	return os.WriteFile(opts.OutputPath, []byte("iso"), 0o644)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()

	return &config.Config{
		Profile: config.Profile{
			Name:     "test-vm",
			Dir:      filepath.Join(base, "vms", "test-vm"),
			DiskSize: "20G",
			RAM:      "1G",
			CPUs:     "1",
			SSHPort:  2223,
		},
		ImageURL:   "https://cloud-images.example.com/jammy.img",
		ImageName:  "jammy-server-cloudimg-amd64.img",
		SSHKeyPath: filepath.Join(base, "id_rsa"),
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

func testPipeline(cfg *config.Config, fake *fakeExecutor, fetcher *fakeFetcher, masterer isomaster.Masterer) *Pipeline {
	p := New(cfg, fake, fetcher, []isomaster.Masterer{masterer}, discardLogger())
	p.detectQEMU = func() (string, error) { return "qemu-system-x86_64", nil }
	return p
}

func TestRun_FullProvisioning(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeExecutor{}
	fetcher := &fakeFetcher{}
	masterer := &fakeMasterer{available: true}

	p := testPipeline(cfg, fake, fetcher, masterer)
	require.NoError(t, p.Run(context.Background()))

	dir := cfg.Profile.Dir
	assert.FileExists(t, filepath.Join(dir, cfg.ImageName))
	assert.FileExists(t, filepath.Join(dir, "test-vm.qcow2"))
	assert.FileExists(t, filepath.Join(dir, "user-data"))
	assert.FileExists(t, filepath.Join(dir, "meta-data"))
	assert.FileExists(t, filepath.Join(dir, "cloud-init.iso"))

	userData, err := os.ReadFile(filepath.Join(dir, "user-data"))
	require.NoError(t, err)
	assert.Contains(t, string(userData), "name: ubuntu")
	assert.Contains(t, string(userData), "ssh-rsa AAAATESTKEY test@host")

	startScript, err := os.ReadFile(filepath.Join(dir, "start-vm"))
	require.NoError(t, err)
	assert.Contains(t, string(startScript), `SSH_PORT="2223"`)
	assert.Contains(t, string(startScript), `VM_NAME="test-vm"`)

	for _, script := range []string{"start-vm", "stop-vm", "status-vm"} {
		info, err := os.Stat(filepath.Join(dir, script))
		require.NoError(t, err, script)
		assert.NotZero(t, info.Mode().Perm()&0o111, "%s must be executable", script)
	}

	// key was generated and the ISO remastered with it
	assert.Equal(t, 1, fake.countCalls("ssh-keygen", ""))
	assert.Equal(t, 2, masterer.masterCalls)
	assert.False(t, p.Degraded())
	assert.Equal(t, "qemu-system-x86_64", p.QEMUBinary())
}

func TestRun_SecondRunSkipsExpensiveSteps(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeExecutor{}
	fetcher := &fakeFetcher{}
	masterer := &fakeMasterer{available: true}

	p := testPipeline(cfg, fake, fetcher, masterer)
	require.NoError(t, p.Run(context.Background()))

	firstFiles := listDir(t, cfg.Profile.Dir)

	require.NoError(t, p.Run(context.Background()))

	// artifact set is unchanged
	assert.Equal(t, firstFiles, listDir(t, cfg.Profile.Dir))

	// download, conversion, resize and key generation ran exactly once
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, fake.countCalls("qemu-img", "convert"))
	assert.Equal(t, 1, fake.countCalls("qemu-img", "resize"))
	assert.Equal(t, 1, fake.countCalls("ssh-keygen", ""))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_DegradedWithoutMasteringTools(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeExecutor{}
	fetcher := &fakeFetcher{}
	masterer := &fakeMasterer{available: false}

	p := testPipeline(cfg, fake, fetcher, masterer)
	require.NoError(t, p.Run(context.Background()))

	dir := cfg.Profile.Dir
	assert.FileExists(t, filepath.Join(dir, "test-vm.qcow2"))
	assert.FileExists(t, filepath.Join(dir, "start-vm"))
	assert.NoFileExists(t, filepath.Join(dir, "cloud-init.iso"))
	assert.True(t, p.Degraded())

	// the generated start script must not reference the absent ISO
	startScript, err := os.ReadFile(filepath.Join(dir, "start-vm"))
	require.NoError(t, err)
	assert.NotContains(t, string(startScript), "cloud-init.iso")

	// the public key still lands in user-data
	userData, err := os.ReadFile(filepath.Join(dir, "user-data"))
	require.NoError(t, err)
	assert.Contains(t, string(userData), "ssh-rsa AAAATESTKEY test@host")
}

func TestRun_MissingQEMUIsFatal(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeExecutor{}
	fetcher := &fakeFetcher{}

	p := testPipeline(cfg, fake, fetcher, &fakeMasterer{available: true})
	p.detectQEMU = func() (string, error) { return "", errors.New("QEMU is not installed") }

	err := p.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "QEMU is not installed")

	// nothing else ran
	assert.NoDirExists(t, cfg.Profile.Dir)
	assert.Zero(t, fetcher.calls)
}

func TestRun_ToolFailurePropagates(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeExecutor{failFor: map[string]error{"qemu-img": errors.New("exit status 1")}}
	fetcher := &fakeFetcher{}

	p := testPipeline(cfg, fake, fetcher, &fakeMasterer{available: true})

	err := p.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure-disk")

	// earlier artifacts stay in place so a re-run can resume
	assert.FileExists(t, cfg.BaseImagePath())
}

func TestRun_ExistingSSHKeyIsNotRegenerated(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SSHKeyPath, []byte("existing"), 0o600))
	require.NoError(t, os.WriteFile(cfg.SSHKeyPath+".pub", []byte("ssh-rsa AAAAEXISTING user@host\n"), 0o644))

	fake := &fakeExecutor{}
	fetcher := &fakeFetcher{}

	p := testPipeline(cfg, fake, fetcher, &fakeMasterer{available: true})
	require.NoError(t, p.Run(context.Background()))

	assert.Zero(t, fake.countCalls("ssh-keygen", ""))

	userData, err := os.ReadFile(filepath.Join(cfg.Profile.Dir, "user-data"))
	require.NoError(t, err)
	assert.Contains(t, string(userData), "ssh-rsa AAAAEXISTING user@host")
}
