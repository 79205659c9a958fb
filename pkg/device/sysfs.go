package device

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/block"
	"github.com/spf13/afero"
)

const (
	sysBlockDir = "/sys/block"
	udevDataDir = "/run/udev/data"
)

// SysfsInventory lists disks through ghw and fills in the attributes ghw does
// not expose (read-only flag, partition table type) from sysfs and the udev
// database. It needs no external binaries.
type SysfsInventory struct {
	fs    afero.Fs
	block func() ([]*block.Disk, error)
}

// NewSysfsInventory creates an inventory reading the host's /sys and /run/udev.
func NewSysfsInventory(fs afero.Fs) *SysfsInventory {
	return &SysfsInventory{fs: fs, block: ghwDisks}
}

func ghwDisks() ([]*block.Disk, error) {
	info, err := ghw.Block()
	if err != nil {
		return nil, err
	}
	return info.Disks, nil
}

// Disks implements Inventory.
func (s *SysfsInventory) Disks(ctx context.Context) ([]Disk, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	raw, err := s.block()
	if err != nil {
		return nil, fmt.Errorf("%w: ghw block: %v", ErrQueryFailed, err)
	}

	disks := make([]Disk, 0, len(raw))
	for _, bd := range raw {
		d := Disk{
			Name:      bd.Name,
			Path:      "/dev/" + bd.Name,
			Type:      "disk",
			SizeBytes: int64(bd.SizeBytes),
			Removable: bd.IsRemovable,
			Transport: ghwTransport(bd),
			Model:     strings.TrimSpace(bd.Model),
		}
		for _, p := range bd.Partitions {
			if p.MountPoint != "" {
				d.Mountpoints = append(d.Mountpoints, p.MountPoint)
			}
		}

		ro, err := s.readOnly(bd.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		d.ReadOnly = ro
		d.PartitionScheme = s.partitionScheme(bd.Name)

		disks = append(disks, d)
	}
	return disks, nil
}

func (s *SysfsInventory) readOnly(name string) (bool, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(sysBlockDir, name, "ro"))
	if err != nil {
		return false, fmt.Errorf("read-only flag for %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

// partitionScheme returns ID_PART_TABLE_TYPE from the udev database, or ""
// when the disk has no table or udev has no record of it.
func (s *SysfsInventory) partitionScheme(name string) string {
	data, err := afero.ReadFile(s.fs, filepath.Join(sysBlockDir, name, "dev"))
	if err != nil {
		return ""
	}
	majMin := strings.TrimSpace(string(data))

	f, err := s.fs.Open(filepath.Join(udevDataDir, "b"+majMin))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "E:")
		if !ok {
			continue
		}
		if v, ok := strings.CutPrefix(line, "ID_PART_TABLE_TYPE="); ok {
			return v
		}
	}
	return ""
}

func ghwTransport(bd *block.Disk) string {
	if strings.Contains(bd.BusPath, "usb") {
		return "usb"
	}
	return strings.ToLower(bd.StorageController.String())
}
