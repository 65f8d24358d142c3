package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultImageURL  = "https://cloud-images.ubuntu.com/jammy/current/jammy-server-cloudimg-amd64.img"
	defaultImageName = "jammy-server-cloudimg-amd64.img"
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
var sizeRe = regexp.MustCompile(`^[0-9]+[MGT]$`)

// Profile describes one virtual machine. It is resolved once at load time
// and passed explicitly into every component; nothing reads configuration
// globally after that.
type Profile struct {
	Name     string
	Dir      string
	DiskSize string
	RAM      string
	CPUs     string
	SSHPort  int
}

// DiskPath returns the per-VM derived disk location.
func (p Profile) DiskPath() string {
	return filepath.Join(p.Dir, p.Name+".qcow2")
}

// PIDFilePath returns the location of the VM's PID file, present only while
// the VM is believed running.
func (p Profile) PIDFilePath() string {
	return filepath.Join(p.Dir, p.Name+".pid")
}

// SeedISOPath returns the cloud-init delivery image location.
func (p Profile) SeedISOPath() string {
	return filepath.Join(p.Dir, "cloud-init.iso")
}

type Config struct {
	Profile Profile

	ImageURL    string
	ImageName   string
	ImageSHA256 string
	SSHKeyPath  string

	LogLevel         string
	LogFormat        string
	TelemetryEnabled bool
}

// BaseImagePath returns the local location of the downloaded cloud image.
func (c *Config) BaseImagePath() string {
	return filepath.Join(c.Profile.Dir, c.ImageName)
}

func Load() (*Config, error) {
	viper.SetDefault("vm_name", "ubuntu-vm")
	viper.SetDefault("vm_dir", "")
	viper.SetDefault("disk_size", "20G")
	viper.SetDefault("ram", "2G")
	viper.SetDefault("cpus", "2")
	viper.SetDefault("ssh_port", 2222)
	viper.SetDefault("image_url", defaultImageURL)
	viper.SetDefault("image_name", defaultImageName)
	viper.SetDefault("image_sha256", "")
	viper.SetDefault("ssh_key_path", "~/.ssh/id_rsa")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("telemetry_enabled", false)

	viper.SetEnvPrefix("hatchery")
	viper.AutomaticEnv()

	cfg := &Config{
		Profile: Profile{
			Name:     viper.GetString("vm_name"),
			Dir:      viper.GetString("vm_dir"),
			DiskSize: viper.GetString("disk_size"),
			RAM:      viper.GetString("ram"),
			CPUs:     viper.GetString("cpus"),
			SSHPort:  viper.GetInt("ssh_port"),
		},
		ImageURL:         viper.GetString("image_url"),
		ImageName:        viper.GetString("image_name"),
		ImageSHA256:      viper.GetString("image_sha256"),
		SSHKeyPath:       viper.GetString("ssh_key_path"),
		LogLevel:         viper.GetString("log_level"),
		LogFormat:        viper.GetString("log_format"),
		TelemetryEnabled: viper.GetBool("telemetry_enabled"),
	}

	if cfg.Profile.Dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		cfg.Profile.Dir = filepath.Join(cwd, "vms", cfg.Profile.Name)
	}

	keyPath, err := ExpandHome(cfg.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ssh key path: %w", err)
	}
	cfg.SSHKeyPath = keyPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !nameRe.MatchString(c.Profile.Name) {
		return fmt.Errorf("invalid vm name %q: must contain only letters, digits, dots, dashes and underscores", c.Profile.Name)
	}

	if c.Profile.SSHPort < 1 || c.Profile.SSHPort > 65535 {
		return fmt.Errorf("invalid ssh port %d: must be in range 1-65535", c.Profile.SSHPort)
	}

	if !sizeRe.MatchString(c.Profile.DiskSize) {
		return fmt.Errorf("invalid disk size %q: expected a value like 20G", c.Profile.DiskSize)
	}

	if !sizeRe.MatchString(c.Profile.RAM) {
		return fmt.Errorf("invalid ram %q: expected a value like 2G", c.Profile.RAM)
	}

	if c.Profile.CPUs == "" {
		return fmt.Errorf("cpus must not be empty")
	}

	if c.ImageURL == "" {
		return fmt.Errorf("image_url must not be empty")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// ExpandHome resolves a leading ~/ against the current user's home
// directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
