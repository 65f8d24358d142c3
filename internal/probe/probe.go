// Package probe answers existence questions about provisioning artifacts
// and VM processes without mutating anything. Clearing stale state is left
// to callers.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/terabiome/hatchery/pkg/executor"
)

func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PIDFileAlive reads a PID file and checks process liveness. A missing file
// returns (0, false, nil); a file naming a dead process returns the PID with
// alive=false, which is how callers detect staleness.
func PIDFileAlive(path string) (pid int, alive bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read pid file %s: %w", path, err)
	}

	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr != nil || pid <= 0 {
		return 0, false, fmt.Errorf("pid file %s does not contain a valid pid", path)
	}

	return pid, ProcessAlive(pid), nil
}

// ProcessAlive probes a PID with signal 0.
func ProcessAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// ProcessPatternAlive scans the process table for a command line matching
// pattern. It is the fallback when no authoritative PID file exists, e.g.
// after unexpected termination.
func ProcessPatternAlive(ctx context.Context, exec executor.Executor, pattern string) (bool, error) {
	result, err := executor.RunAndCapture(ctx, exec, "pgrep", "-f", pattern)
	if err != nil {
		// pgrep exits 1 when nothing matched.
		if result.ExitCode == 1 {
			return false, nil
		}
		return false, fmt.Errorf("process scan failed: %w", err)
	}

	return strings.TrimSpace(result.Stdout) != "", nil
}
