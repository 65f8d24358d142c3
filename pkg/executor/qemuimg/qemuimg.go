package qemuimg

import (
	"context"
	"fmt"

	"github.com/terabiome/hatchery/pkg/executor"
)

type ConvertOptions struct {
	SourcePath   string
	SourceFormat string
	OutputPath   string
	OutputFormat string
}

// Convert copies an image into a new file, transcoding between formats.
func Convert(ctx context.Context, exec executor.Executor, opts ConvertOptions) error {
	args := []string{
		"convert",
		"-f", opts.SourceFormat,
		"-O", opts.OutputFormat,
		opts.SourcePath,
		opts.OutputPath,
	}

	result, err := executor.RunAndCapture(ctx, exec, "qemu-img", args...)
	if err != nil {
		return fmt.Errorf("qemu-img convert failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return nil
}

// Resize grows (or shrinks) an existing image to the given size, e.g. "20G".
func Resize(ctx context.Context, exec executor.Executor, path, size string) error {
	result, err := executor.RunAndCapture(ctx, exec, "qemu-img", "resize", path, size)
	if err != nil {
		return fmt.Errorf("qemu-img resize failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return nil
}

type CreateOptions struct {
	Path   string
	Size   string
	Format string
}

// Create allocates a new blank image.
func Create(ctx context.Context, exec executor.Executor, opts CreateOptions) error {
	format := opts.Format
	if format == "" {
		format = "qcow2"
	}

	result, err := executor.RunAndCapture(ctx, exec, "qemu-img", "create", "-f", format, opts.Path, opts.Size)
	if err != nil {
		return fmt.Errorf("qemu-img create failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return nil
}

func Info(ctx context.Context, exec executor.Executor, path string) (string, error) {
	result, err := executor.RunAndCapture(ctx, exec, "qemu-img", "info", path)
	if err != nil {
		return "", fmt.Errorf("qemu-img info failed: %w\nstderr: %s", err, result.Stderr)
	}
	return result.Stdout, nil
}
