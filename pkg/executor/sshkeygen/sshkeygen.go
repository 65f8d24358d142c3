package sshkeygen

import (
	"context"
	"fmt"

	"github.com/terabiome/hatchery/pkg/executor"
)

// Generate creates an RSA keypair at keyPath with an empty passphrase.
// The public half lands at keyPath + ".pub".
func Generate(ctx context.Context, exec executor.Executor, keyPath string) error {
	args := []string{
		"-t", "rsa",
		"-b", "4096",
		"-f", keyPath,
		"-N", "",
	}

	result, err := executor.RunAndCapture(ctx, exec, "ssh-keygen", args...)
	if err != nil {
		return fmt.Errorf("ssh-keygen failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return nil
}
