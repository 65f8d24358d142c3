// Package isomaster models ISO9660 mastering as a ranked set of
// interchangeable external tools. genisoimage and mkisofs take the same
// arguments for the options used here, so both are driven by one
// implementation parameterized on the tool name.
package isomaster

import (
	"context"
	"errors"
	"fmt"

	"github.com/terabiome/hatchery/pkg/executor"
)

// ErrNoMasterer reports that none of the candidate mastering tools is
// installed. Callers may treat this as a degraded condition rather than a
// failure.
var ErrNoMasterer = errors.New("no ISO mastering tool available")

type Options struct {
	OutputPath string
	VolumeID   string
	Files      []string
}

// Masterer builds an ISO image from a set of seed files.
type Masterer interface {
	Name() string
	Available() bool
	Master(ctx context.Context, exec executor.Executor, opts Options) error
}

type tool struct {
	name string
}

func (t tool) Name() string {
	return t.name
}

func (t tool) Available() bool {
	return executor.LookPath(t.name)
}

func (t tool) Master(ctx context.Context, exec executor.Executor, opts Options) error {
	args := []string{
		"-output", opts.OutputPath,
		"-volid", opts.VolumeID,
		"-joliet",
		"-rock",
	}
	args = append(args, opts.Files...)

	result, err := executor.RunAndCapture(ctx, exec, t.name, args...)
	if err != nil {
		return fmt.Errorf("%s failed: %w\nstdout: %s\nstderr: %s",
			t.name, err, result.Stdout, result.Stderr)
	}

	return nil
}

func Genisoimage() Masterer {
	return tool{name: "genisoimage"}
}

func Mkisofs() Masterer {
	return tool{name: "mkisofs"}
}

// Ranked returns the candidate tools in preference order.
func Ranked() []Masterer {
	return []Masterer{Genisoimage(), Mkisofs()}
}

// Select picks the first available tool from the ranked candidates.
func Select(ranked []Masterer) (Masterer, error) {
	for _, m := range ranked {
		if m.Available() {
			return m, nil
		}
	}
	return nil, ErrNoMasterer
}
