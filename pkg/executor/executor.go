package executor

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports that the requested command does not exist on the
// system. Callers that want to tell "tool missing" apart from "tool failed"
// check for it with errors.Is.
var ErrNotFound = errors.New("command not found")

// Executor runs a single external command to completion.
type Executor interface {
	Execute(ctx context.Context, stdout, stderr io.Writer, command string, args ...string) (exitCode int, err error)
	Name() string
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Error    error
}
