package cloudinit

import (
	"context"
	"path/filepath"

	"github.com/terabiome/hatchery/internal/probe"
	"github.com/terabiome/hatchery/pkg/executor"
	"github.com/terabiome/hatchery/pkg/executor/fileops"
	"github.com/terabiome/hatchery/pkg/executor/isomaster"
)

// MasterSeedISO builds the cloud-init.iso delivery image in dir from the
// materialized seed files. Mastering tools cannot update an image in place,
// so an existing ISO is deleted and recreated.
func MasterSeedISO(ctx context.Context, exec executor.Executor, m isomaster.Masterer, dir string) error {
	isoPath := filepath.Join(dir, SeedISOFile)

	if probe.FileExists(isoPath) {
		if err := fileops.RemoveFile(ctx, exec, isoPath); err != nil {
			return err
		}
	}

	return m.Master(ctx, exec, isomaster.Options{
		OutputPath: isoPath,
		VolumeID:   "cidata",
		Files: []string{
			filepath.Join(dir, UserDataFile),
			filepath.Join(dir, MetaDataFile),
		},
	})
}
