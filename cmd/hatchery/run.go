package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/terabiome/hatchery/internal/probe"
	"github.com/terabiome/hatchery/internal/qemu"
	"github.com/terabiome/hatchery/pkg/executor"
	"github.com/terabiome/hatchery/pkg/executor/qemuimg"
)

// runCmd runs a one-off foreground VM with ad-hoc options, independent of
// the provisioned profile.
func runCmd(ctx context.Context, log *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a virtual machine in the foreground",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "disk", Aliases: []string{"d"}, Usage: "Path to disk image file"},
			&cli.StringFlag{Name: "cdrom", Aliases: []string{"c"}, Usage: "Path to CD-ROM/ISO image"},
			&cli.StringFlag{Name: "memory", Aliases: []string{"m"}, Value: "1G", Usage: "Amount of RAM"},
			&cli.StringFlag{Name: "cores", Value: "1", Usage: "Number of CPU cores"},
			&cli.StringFlag{Name: "boot", Aliases: []string{"b"}, Usage: "Boot order (c=disk, d=cdrom, n=network)"},
			&cli.StringFlag{Name: "vnc", Usage: "Enable VNC display (e.g. :1)"},
			&cli.StringFlag{Name: "display", Usage: "Display type (sdl, gtk, vnc, none)"},
			&cli.BoolFlag{Name: "network", Usage: "Enable network (NAT)"},
			&cli.StringFlag{Name: "network-device", Value: "e1000", Usage: "Network device type"},
			&cli.BoolFlag{Name: "enable-kvm", Value: true, Usage: "Enable KVM acceleration"},
			&cli.StringFlag{Name: "qemu-args", Usage: "Additional QEMU arguments"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Show the command that would be executed"},
		},
		Action: func(cliCtx *cli.Context) error {
			binary, err := qemu.Detect()
			if err != nil {
				return err
			}

			if disk := cliCtx.String("disk"); disk != "" && !probe.FileExists(disk) {
				return fmt.Errorf("disk image not found: %s", disk)
			}
			if cdrom := cliCtx.String("cdrom"); cdrom != "" && !probe.FileExists(cdrom) {
				return fmt.Errorf("CD-ROM image not found: %s", cdrom)
			}

			opts := qemu.RunOptions{
				Memory:    cliCtx.String("memory"),
				CPUs:      cliCtx.String("cores"),
				DiskPath:  cliCtx.String("disk"),
				CDROM:     cliCtx.String("cdrom"),
				Boot:      cliCtx.String("boot"),
				VNC:       cliCtx.String("vnc"),
				Display:   cliCtx.String("display"),
				EnableKVM: cliCtx.Bool("enable-kvm"),
				ExtraArgs: qemu.SplitExtraArgs(cliCtx.String("qemu-args")),
			}
			if cliCtx.Bool("network") {
				opts.NetDevice = cliCtx.String("network-device")
			}

			args := qemu.BuildArgs(opts)

			if cliCtx.Bool("dry-run") {
				fmt.Println("Would execute:", binary, strings.Join(args, " "))
				return nil
			}

			exec := executor.NewLocal(log)
			if _, err := exec.Execute(ctx, os.Stdout, os.Stderr, binary, args...); err != nil {
				return err
			}
			return nil
		},
	}
}

func createDiskCmd(ctx context.Context, log *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "create-disk",
		Usage: "Create a new blank disk image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Path for the new disk image"},
			&cli.StringFlag{Name: "size", Aliases: []string{"s"}, Required: true, Usage: "Size of the disk (e.g. 20G, 500M)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "qcow2", Usage: "Disk format"},
		},
		Action: func(cliCtx *cli.Context) error {
			exec := executor.NewLocal(log)

			opts := qemuimg.CreateOptions{
				Path:   cliCtx.String("path"),
				Size:   cliCtx.String("size"),
				Format: cliCtx.String("format"),
			}
			if err := qemuimg.Create(ctx, exec, opts); err != nil {
				return err
			}

			fmt.Printf("Created disk image: %s (%s)\n", opts.Path, opts.Size)
			return nil
		},
	}
}

func listMachinesCmd(ctx context.Context, log *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "list-machines",
		Usage: "List available machine types",
		Action: func(cliCtx *cli.Context) error {
			binary, err := qemu.Detect()
			if err != nil {
				return err
			}

			exec := executor.NewLocal(log)
			if _, err := exec.Execute(ctx, os.Stdout, os.Stderr, binary, "-machine", "help"); err != nil {
				return err
			}
			return nil
		},
	}
}
