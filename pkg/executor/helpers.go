package executor

import (
	"bytes"
	"context"
	"os/exec"
)

func RunAndCapture(ctx context.Context, exec Executor, command string, args ...string) (*Result, error) {
	var outBuf, errBuf bytes.Buffer

	exitCode, err := exec.Execute(ctx, &outBuf, &errBuf, command, args...)

	return &Result{
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Error:    err,
	}, err
}

// LookPath reports whether the named tool resolves on PATH. It has no side
// effects and does not run the tool.
func LookPath(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}
