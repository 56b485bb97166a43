package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-disksleuth/internal/apfs"
	"github.com/deploymenttheory/go-disksleuth/internal/img"
	"github.com/deploymenttheory/go-disksleuth/internal/pool"
)

// Volume selection flags shared by the filesystem-level commands.
var (
	offsetSectors int64
	volumeName    string
	volumeIndex   int
	password      string
	snapshotName  string
)

// addVolumeFlags registers the container/volume selection flags on a
// filesystem-level command.
func addVolumeFlags(c *cobra.Command) {
	c.Flags().Int64VarP(&offsetSectors, "offset", "o", 0, "sector offset of the container in the image")
	c.Flags().StringVar(&volumeName, "volume-name", "", "volume to open, by name")
	c.Flags().IntVar(&volumeIndex, "volume", 0, "volume to open, by index")
	c.Flags().StringVarP(&password, "password", "p", "", "password for encrypted volumes")
	c.Flags().StringVar(&snapshotName, "snapshot", "", "analyse the named snapshot instead of the live filesystem")
	c.MarkFlagsMutuallyExclusive("volume", "volume-name")
}

// openImage opens the evidence image honouring the global format flags
// and the viper defaults.
func openImage(paths []string) (*img.Image, error) {
	t, err := img.ParseType(imageType)
	if err != nil {
		return nil, err
	}
	ss := sectorSize
	if ss == 0 {
		ss = viper.GetUint32("sector_size")
	}
	return img.Open(paths, t, ss)
}

// openPool opens the APFS container behind the image, at the partition
// offset given in sectors.
func openPool(paths []string) (*img.Image, *pool.Pool, error) {
	image, err := openImage(paths)
	if err != nil {
		return nil, nil, err
	}

	offset := offsetSectors * int64(image.SectorSize())
	p, err := pool.Open(image, offset, nil)
	if err != nil {
		image.Close()
		return nil, nil, err
	}
	return image, p, nil
}

// selectVolume picks the requested volume out of the container, by name
// when --volume-name is set and by index otherwise.
func selectVolume(p *pool.Pool) (*pool.Volume, error) {
	vols, err := p.Volumes()
	if err != nil {
		return nil, err
	}
	if len(vols) == 0 {
		return nil, fmt.Errorf("container has no volumes")
	}

	if volumeName != "" {
		for _, v := range vols {
			if strings.EqualFold(v.Name(), volumeName) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("no volume named %q", volumeName)
	}

	if volumeIndex < 0 || volumeIndex >= len(vols) {
		return nil, fmt.Errorf("volume index %d out of range (container has %d)", volumeIndex, len(vols))
	}
	return vols[volumeIndex], nil
}

// openFilesystem opens image, container, volume, and filesystem in one
// go, applying the password and snapshot selection flags. The caller
// closes the returned image.
func openFilesystem(paths []string) (*img.Image, *apfs.FileSystem, error) {
	image, p, err := openPool(paths)
	if err != nil {
		return nil, nil, err
	}

	vol, err := selectVolume(p)
	if err != nil {
		image.Close()
		return nil, nil, err
	}

	pw := password
	if pw == "" {
		pw = viper.GetString("password")
	}

	fs, err := apfs.Open(p, vol, &apfs.Options{Password: pw})
	if err != nil {
		image.Close()
		return nil, nil, err
	}

	if snapshotName != "" {
		if err := selectSnapshot(fs, snapshotName); err != nil {
			image.Close()
			return nil, nil, err
		}
	}
	return image, fs, nil
}

// selectSnapshot switches the filesystem to the named snapshot.
func selectSnapshot(fs *apfs.FileSystem, name string) error {
	snaps, err := fs.Snapshots()
	if err != nil {
		return err
	}
	for _, s := range snaps {
		if s.Name == name {
			return fs.SetSnapshot(s.Xid)
		}
	}
	return fmt.Errorf("no snapshot named %q", name)
}
