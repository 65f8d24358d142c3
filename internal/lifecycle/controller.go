// Package lifecycle manages the running VM process through its PID file:
// starting the daemonized QEMU instance, stopping it, and reporting status
// with stale-state self-healing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/terabiome/hatchery/internal/config"
	"github.com/terabiome/hatchery/internal/probe"
	"github.com/terabiome/hatchery/internal/qemu"
	"github.com/terabiome/hatchery/pkg/executor"
)

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

type SSHState string

const (
	SSHUnknown    SSHState = ""
	SSHAccessible SSHState = "ACCESSIBLE"
	SSHNotReady   SSHState = "NOT READY"
)

// Status is the observed VM state. PID is zero when the process was found
// only through the pattern scan. ClearedStale records the stale-PID-file
// cleanup side effect.
type Status struct {
	State        State
	PID          int
	SSH          SSHState
	ClearedStale bool
}

var ErrAlreadyRunning = errors.New("VM is already running")

const pidFileWait = 5 * time.Second

type Controller struct {
	profile    config.Profile
	qemuBinary string
	sshKeyPath string
	exec       executor.Executor
	logger     *slog.Logger

	// swapped in tests to avoid dialing the network
	probeSSH func(ctx context.Context) SSHState

	opCounter metric.Int64Counter
}

func NewController(cfg *config.Config, qemuBinary string, exec executor.Executor, logger *slog.Logger) *Controller {
	meter := otel.Meter("hatchery/lifecycle")

	opCounter, err := meter.Int64Counter(
		"hatchery.lifecycle.op",
		metric.WithDescription("Number of VM lifecycle operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		logger.Warn("failed to create opCounter metric", slog.String("error", err.Error()))
	}

	c := &Controller{
		profile:    cfg.Profile,
		qemuBinary: qemuBinary,
		sshKeyPath: cfg.SSHKeyPath,
		exec:       exec,
		logger:     logger.With(slog.String("component", "lifecycle"), slog.String("vm", cfg.Profile.Name)),
		opCounter:  opCounter,
	}
	c.probeSSH = c.dialSSH
	return c
}

func (c *Controller) countOp(ctx context.Context, op string) {
	if c.opCounter != nil {
		c.opCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// Start launches the VM daemonized and returns its PID. A live process
// discovered through either the PID file or the pattern scan makes Start
// refuse with ErrAlreadyRunning rather than launch a duplicate. The check
// and the launch are serialized against concurrent invocations by an
// advisory lock, not made atomic against processes started by other means.
func (c *Controller) Start(ctx context.Context) (int, error) {
	c.countOp(ctx, "start")

	unlock, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	pidPath := c.profile.PIDFilePath()

	pid, alive, err := probe.PIDFileAlive(pidPath)
	if err != nil {
		return 0, err
	}
	if alive {
		return pid, fmt.Errorf("%w (pid %d), ssh -p %d ubuntu@localhost", ErrAlreadyRunning, pid, c.profile.SSHPort)
	}
	if pid == 0 {
		found, err := probe.ProcessPatternAlive(ctx, c.exec, qemu.ProcessPattern(c.profile.Name))
		if err != nil {
			return 0, err
		}
		if found {
			return 0, fmt.Errorf("%w (no pid file), ssh -p %d ubuntu@localhost", ErrAlreadyRunning, c.profile.SSHPort)
		}
	} else {
		// stale pid file from a dead process; clear it before relaunching
		c.logger.Info("removing stale pid file", slog.Int("pid", pid))
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	opts := qemu.RunOptions{
		Name:       c.profile.Name,
		MachineArg: "type=pc,accel=kvm",
		CPUModel:   "host",
		CPUs:       c.profile.CPUs,
		Memory:     c.profile.RAM,
		DiskPath:   c.profile.DiskPath(),
		SSHPort:    c.profile.SSHPort,
		Daemonize:  true,
		PIDFile:    pidPath,
	}
	if probe.FileExists(c.profile.SeedISOPath()) {
		opts.SeedISO = c.profile.SeedISOPath()
	}

	c.logger.Info("starting VM", slog.Int("ssh_port", c.profile.SSHPort))
	result, err := executor.RunAndCapture(ctx, c.exec, c.qemuBinary, qemu.BuildArgs(opts)...)
	if err != nil {
		return 0, fmt.Errorf("failed to start VM: %w\nstderr: %s", err, result.Stderr)
	}

	pid, err = c.awaitPIDFile(ctx, pidPath)
	if err != nil {
		return 0, err
	}

	c.logger.Info("VM started", slog.Int("pid", pid))
	return pid, nil
}

// awaitPIDFile waits for QEMU to write its PID file, the success signal for
// a daemonized launch.
func (c *Controller) awaitPIDFile(ctx context.Context, pidPath string) (int, error) {
	deadline := time.Now().Add(pidFileWait)
	for {
		pid, alive, err := probe.PIDFileAlive(pidPath)
		if err == nil && alive {
			return pid, nil
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("VM failed to start: pid file %s not created", pidPath)
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Stop terminates the VM. Direct SIGTERM by PID is attempted first; when
// signaling fails the fallback kills by process pattern. The PID file is
// removed regardless of which path succeeded.
func (c *Controller) Stop(ctx context.Context) error {
	c.countOp(ctx, "stop")

	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	pidPath := c.profile.PIDFilePath()
	defer os.Remove(pidPath)

	pid, alive, err := probe.PIDFileAlive(pidPath)
	if err != nil {
		c.logger.Warn("unreadable pid file, falling back to pattern kill", slog.String("error", err.Error()))
		return c.patternKill(ctx)
	}

	if alive {
		if killErr := syscall.Kill(pid, syscall.SIGTERM); killErr != nil {
			c.logger.Warn("failed to signal VM, falling back to pattern kill",
				slog.Int("pid", pid),
				slog.String("error", killErr.Error()),
			)
			return c.patternKill(ctx)
		}
		c.logger.Info("VM stopped", slog.Int("pid", pid))
		return nil
	}

	if pid > 0 {
		c.logger.Info("pid file was stale, checking for stray processes", slog.Int("pid", pid))
	} else {
		c.logger.Info("no pid file, checking for stray processes")
	}
	return c.patternKill(ctx)
}

func (c *Controller) patternKill(ctx context.Context) error {
	result, err := executor.RunAndCapture(ctx, c.exec, "pkill", "-f", qemu.ProcessPattern(c.profile.Name))
	if err != nil {
		// pkill exits 1 when no process matched, which is fine here.
		if result.ExitCode == 1 {
			return nil
		}
		return fmt.Errorf("pattern kill failed: %w", err)
	}
	return nil
}

// Status reports the observed state. A stale PID file is cleared as a side
// effect and reported as STOPPED. When the VM is running, a bounded SSH
// probe distinguishes a booted guest from one still coming up.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	c.countOp(ctx, "status")

	pidPath := c.profile.PIDFilePath()

	pid, alive, err := probe.PIDFileAlive(pidPath)
	if err != nil {
		return Status{}, err
	}

	switch {
	case alive:
		st := Status{State: StateRunning, PID: pid}
		st.SSH = c.probeSSH(ctx)
		return st, nil

	case pid > 0:
		c.logger.Info("removing stale pid file", slog.Int("pid", pid))
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Status{}, fmt.Errorf("failed to remove stale pid file: %w", err)
		}
		return Status{State: StateStopped, ClearedStale: true}, nil
	}

	found, err := probe.ProcessPatternAlive(ctx, c.exec, qemu.ProcessPattern(c.profile.Name))
	if err != nil {
		return Status{}, err
	}
	if found {
		return Status{State: StateRunning}, nil
	}
	return Status{State: StateStopped}, nil
}
