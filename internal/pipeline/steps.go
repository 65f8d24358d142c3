package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/terabiome/hatchery/internal/cloudinit"
	"github.com/terabiome/hatchery/internal/probe"
	"github.com/terabiome/hatchery/pkg/executor/fileops"
	"github.com/terabiome/hatchery/pkg/executor/isomaster"
	"github.com/terabiome/hatchery/pkg/executor/qemuimg"
	"github.com/terabiome/hatchery/pkg/executor/sshkeygen"
	"github.com/terabiome/hatchery/pkg/templator"
)

// checkQEMU is a hard precondition: without a system emulator nothing else
// is worth doing, so its failure aborts the whole pipeline.
func (p *Pipeline) checkQEMU(ctx context.Context, log *slog.Logger) error {
	binary, err := p.detectQEMU()
	if err != nil {
		return err
	}

	p.qemuBinary = binary
	log.Debug("found QEMU binary", slog.String("binary", binary))
	return nil
}

func (p *Pipeline) ensureDirectories(ctx context.Context, log *slog.Logger) error {
	if probe.DirExists(p.cfg.Profile.Dir) {
		log.Debug("VM directory already exists")
		return nil
	}

	log.Info("creating VM directory", slog.String("dir", p.cfg.Profile.Dir))
	return fileops.CreateDirectory(ctx, p.exec, p.cfg.Profile.Dir)
}

func (p *Pipeline) ensureBaseImage(ctx context.Context, log *slog.Logger) error {
	path := p.cfg.BaseImagePath()

	if probe.FileExists(path) {
		log.Info("base image already exists, skipping download")
		return nil
	}

	log.Info("downloading Ubuntu cloud image", slog.String("url", p.cfg.ImageURL))
	return p.fetcher.Fetch(ctx, p.cfg.ImageURL, path, p.cfg.ImageSHA256)
}

func (p *Pipeline) ensureDisk(ctx context.Context, log *slog.Logger) error {
	diskPath := p.cfg.Profile.DiskPath()

	if probe.FileExists(diskPath) {
		log.Info("virtual disk already exists, skipping creation")
		return nil
	}

	log.Info("converting cloud image to VM disk", slog.String("disk", diskPath))
	if err := qemuimg.Convert(ctx, p.exec, qemuimg.ConvertOptions{
		SourcePath:   p.cfg.BaseImagePath(),
		SourceFormat: "qcow2",
		OutputPath:   diskPath,
		OutputFormat: "qcow2",
	}); err != nil {
		return err
	}

	// Resize applies only at creation time; an existing disk is never grown.
	log.Info("resizing disk", slog.String("size", p.cfg.Profile.DiskSize))
	return qemuimg.Resize(ctx, p.exec, diskPath, p.cfg.Profile.DiskSize)
}

// writeSeed always rematerializes the seed files so their content tracks
// the current profile, then masters the delivery ISO with the first
// available tool. Missing mastering tools degrade to a warning because the
// guest can still be configured manually.
func (p *Pipeline) writeSeed(ctx context.Context, log *slog.Logger) error {
	log.Info("creating cloud-init configuration")
	if err := cloudinit.WriteSeedFiles(p.cfg.Profile.Dir, p.cfg.Profile.Name); err != nil {
		return err
	}

	masterer, err := isomaster.Select(p.masterers)
	if errors.Is(err, isomaster.ErrNoMasterer) {
		log.Warn("neither genisoimage nor mkisofs found, cloud-init ISO not created")
		log.Warn("the VM will need to be configured manually during installation")
		p.degraded = true
		return nil
	}
	if err != nil {
		return err
	}

	p.masterer = masterer
	log.Debug("mastering seed ISO", slog.String("tool", masterer.Name()))
	return cloudinit.MasterSeedISO(ctx, p.exec, masterer, p.cfg.Profile.Dir)
}

// ensureSSHKey generates the keypair when missing and, in either case,
// substitutes the real public key for the placeholder in user-data. The ISO
// is then remastered, since mastering tools cannot update it in place.
func (p *Pipeline) ensureSSHKey(ctx context.Context, log *slog.Logger) error {
	keyPath := p.cfg.SSHKeyPath

	if probe.FileExists(keyPath) {
		log.Info("SSH key already exists, skipping generation")
	} else {
		log.Info("generating SSH key pair", slog.String("path", keyPath))
		if err := sshkeygen.Generate(ctx, p.exec, keyPath); err != nil {
			return err
		}
	}

	publicKey, err := os.ReadFile(keyPath + ".pub")
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}

	if err := cloudinit.InjectPublicKey(p.cfg.Profile.Dir, string(publicKey)); err != nil {
		return err
	}

	if p.masterer == nil {
		return nil
	}

	log.Debug("remastering seed ISO with injected key")
	return cloudinit.MasterSeedISO(ctx, p.exec, p.masterer, p.cfg.Profile.Dir)
}

func (p *Pipeline) writeControlScripts(ctx context.Context, log *slog.Logger) error {
	scripts, err := templator.NewControlScripts()
	if err != nil {
		return err
	}

	data := templator.ScriptData{
		VMName:     p.cfg.Profile.Name,
		VMDir:      p.cfg.Profile.Dir,
		RAM:        p.cfg.Profile.RAM,
		CPUs:       p.cfg.Profile.CPUs,
		SSHPort:    p.cfg.Profile.SSHPort,
		QEMUBinary: p.qemuBinary,
		HasSeedISO: probe.FileExists(p.cfg.Profile.SeedISOPath()),
	}

	log.Info("generating VM control scripts")
	return scripts.WriteAll(p.cfg.Profile.Dir, data)
}
