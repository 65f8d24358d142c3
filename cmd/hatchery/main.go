package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/terabiome/hatchery/internal/config"
	"github.com/terabiome/hatchery/internal/download"
	"github.com/terabiome/hatchery/internal/lifecycle"
	"github.com/terabiome/hatchery/internal/pipeline"
	"github.com/terabiome/hatchery/internal/qemu"
	"github.com/terabiome/hatchery/pkg/executor"
	"github.com/terabiome/hatchery/pkg/executor/isomaster"
	"github.com/terabiome/hatchery/pkg/logger"
	"github.com/terabiome/hatchery/pkg/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.TelemetryEnabled {
		tel, err := telemetry.Initialize("hatchery")
		if err != nil {
			log.Error("failed to initialize telemetry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	app := &cli.App{
		Name:                 "hatchery",
		Usage:                "Provision and manage headless Ubuntu virtual machines with QEMU",
		EnableBashCompletion: true,
		// No-argument invocation runs the full provisioning pipeline.
		Action: func(cliCtx *cli.Context) error {
			return runProvision(ctx, cfg, log)
		},
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "Run the full idempotent provisioning pipeline",
				Action: func(cliCtx *cli.Context) error {
					return runProvision(ctx, cfg, log)
				},
			},
			{
				Name:  "start",
				Usage: "Start the provisioned VM in the background",
				Action: func(cliCtx *cli.Context) error {
					return runStart(ctx, cfg, log)
				},
			},
			{
				Name:  "stop",
				Usage: "Stop the running VM",
				Action: func(cliCtx *cli.Context) error {
					return runStop(ctx, cfg, log)
				},
			},
			{
				Name:  "status",
				Usage: "Show VM state and SSH reachability",
				Action: func(cliCtx *cli.Context) error {
					return runStatus(ctx, cfg, log)
				},
			},
			runCmd(ctx, log),
			createDiskCmd(ctx, log),
			listMachinesCmd(ctx, log),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runProvision(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	exec := executor.NewLocal(log)
	fetcher := download.NewFetcher(log)

	p := pipeline.New(cfg, exec, fetcher, isomaster.Ranked(), log)
	if err := p.Run(ctx); err != nil {
		return err
	}

	fmt.Println("")
	fmt.Printf("VM Directory: %s\n", cfg.Profile.Dir)
	fmt.Printf("SSH Port:     %d\n", cfg.Profile.SSHPort)
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  hatchery start     # Start the VM")
	fmt.Println("  hatchery status    # Check VM status and SSH connectivity")
	fmt.Println("  hatchery stop      # Stop the VM")
	fmt.Println("")
	fmt.Printf("SSH into the VM once booted:\n")
	fmt.Printf("  ssh -p %d ubuntu@localhost\n", cfg.Profile.SSHPort)
	return nil
}

func newController(cfg *config.Config, log *slog.Logger) (*lifecycle.Controller, error) {
	binary, err := qemu.Detect()
	if err != nil {
		return nil, err
	}
	return lifecycle.NewController(cfg, binary, executor.NewLocal(log), log), nil
}

func runStart(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := newController(cfg, log)
	if err != nil {
		return err
	}

	pid, err := c.Start(ctx)
	if errors.Is(err, lifecycle.ErrAlreadyRunning) {
		fmt.Println("VM is already running!")
		fmt.Printf("SSH into it with: ssh -p %d ubuntu@localhost\n", cfg.Profile.SSHPort)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("VM started successfully (PID: %d)\n", pid)
	fmt.Printf("SSH: ssh -p %d ubuntu@localhost\n", cfg.Profile.SSHPort)
	return nil
}

func runStop(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := newController(cfg, log)
	if err != nil {
		return err
	}

	if err := c.Stop(ctx); err != nil {
		return err
	}

	fmt.Println("VM stopped")
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	c, err := newController(cfg, log)
	if err != nil {
		return err
	}

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("=== VM Status ===")
	switch st.State {
	case lifecycle.StateRunning:
		if st.PID > 0 {
			fmt.Printf("Status: RUNNING (PID: %d)\n", st.PID)
			fmt.Printf("SSH: ssh -p %d ubuntu@localhost\n", cfg.Profile.SSHPort)
			if st.SSH != lifecycle.SSHUnknown {
				fmt.Printf("SSH: %s\n", st.SSH)
			}
		} else {
			fmt.Println("Status: RUNNING (no PID file)")
		}
	case lifecycle.StateStopped:
		if st.ClearedStale {
			fmt.Println("Status: STOPPED (stale PID file removed)")
		} else {
			fmt.Println("Status: STOPPED")
		}
	}
	return nil
}
