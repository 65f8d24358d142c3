// Package qemu locates the system QEMU binary and builds invocation
// argument vectors for the supported launch shapes.
package qemu

import (
	"fmt"
	"os"
	"strings"

	"github.com/terabiome/hatchery/pkg/executor"
)

// Binaries lists candidate system emulator binaries in preference order.
var Binaries = []string{
	"qemu-system-x86_64",
	"qemu-system-i386",
	"qemu-system-aarch64",
	"qemu-kvm",
}

const installHints = `QEMU is not installed. Please install it first:
  Ubuntu/Debian: sudo apt install qemu-system-x86 qemu-utils
  Fedora:        sudo dnf install qemu-system-x86 qemu-img
  Arch:          sudo pacman -S qemu-system-x86 qemu-img`

// Detect returns the first QEMU system binary found on PATH. The error
// carries per-platform install remediation text and is meant to abort
// provisioning outright.
func Detect() (string, error) {
	for _, binary := range Binaries {
		if executor.LookPath(binary) {
			return binary, nil
		}
	}
	return "", fmt.Errorf("%s", installHints)
}

// KVMAvailable reports whether /dev/kvm exists and is accessible to the
// current user. Existence alone is not enough, opening it is what fails
// when the user lacks the kvm group membership.
func KVMAvailable() bool {
	f, err := os.OpenFile("/dev/kvm", os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// RunOptions describes a QEMU invocation. Zero values drop the
// corresponding arguments.
type RunOptions struct {
	Name       string
	Memory     string
	CPUs       string
	MachineArg string // e.g. "type=pc,accel=kvm"
	CPUModel   string // e.g. "host"
	DiskPath   string // attached as virtio qcow2 drive
	SeedISO    string // attached as readonly raw virtio drive
	CDROM      string
	Boot       string
	SSHPort    int // >0 adds a user netdev with a hostfwd to guest port 22
	NetDevice  string
	VNC        string
	Display    string // empty means headless with serial on stdio
	Daemonize  bool
	PIDFile    string
	EnableKVM  bool
	ExtraArgs  []string
}

// BuildArgs translates opts into a QEMU argument vector.
func BuildArgs(opts RunOptions) []string {
	var args []string

	if opts.Name != "" {
		args = append(args, "-name", opts.Name)
	}
	if opts.MachineArg != "" {
		args = append(args, "-machine", opts.MachineArg)
	}
	if opts.CPUModel != "" {
		args = append(args, "-cpu", opts.CPUModel)
	}
	if opts.CPUs != "" {
		args = append(args, "-smp", opts.CPUs)
	}
	if opts.Memory != "" {
		args = append(args, "-m", opts.Memory)
	}
	if opts.DiskPath != "" {
		args = append(args, "-drive", fmt.Sprintf("file=%s,format=qcow2,if=virtio", opts.DiskPath))
	}
	if opts.SeedISO != "" {
		args = append(args, "-drive", fmt.Sprintf("file=%s,format=raw,if=virtio,readonly=on", opts.SeedISO))
	}
	if opts.CDROM != "" {
		args = append(args, "-cdrom", opts.CDROM)
	}
	if opts.Boot != "" {
		args = append(args, "-boot", opts.Boot)
	}

	if opts.SSHPort > 0 {
		device := opts.NetDevice
		if device == "" {
			device = "virtio-net-pci"
		}
		args = append(args,
			"-netdev", fmt.Sprintf("user,id=net0,hostfwd=tcp::%d-:22", opts.SSHPort),
			"-device", fmt.Sprintf("%s,netdev=net0", device),
		)
	} else if opts.NetDevice != "" {
		args = append(args,
			"-netdev", "user,id=net0",
			"-device", fmt.Sprintf("%s,netdev=net0", opts.NetDevice),
		)
	}

	switch {
	case opts.VNC != "":
		args = append(args, "-vnc", opts.VNC)
	case opts.Display != "":
		args = append(args, "-display", opts.Display)
	default:
		args = append(args, "-display", "none")
		if !opts.Daemonize {
			args = append(args, "-serial", "stdio")
		}
	}

	if opts.EnableKVM {
		if KVMAvailable() {
			args = append(args, "-enable-kvm")
		} else {
			args = append(args, "-accel", "tcg")
		}
	}

	if opts.Daemonize {
		args = append(args, "-daemonize")
	}
	if opts.PIDFile != "" {
		args = append(args, "-pidfile", opts.PIDFile)
	}
	if len(opts.ExtraArgs) > 0 {
		args = append(args, opts.ExtraArgs...)
	}

	return args
}

// ProcessPattern returns the process-table pattern matching a QEMU instance
// launched for the named VM.
func ProcessPattern(name string) string {
	return "qemu.*" + name
}

// SplitExtraArgs parses a whitespace-separated extra-argument string, as
// accepted on the command line.
func SplitExtraArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Fields(raw)
}
