// Package blockdev prepares, opens and finalizes the block device an image is
// written to.
package blockdev

import (
	"context"
	"io"
)

// Manager handles the device-level steps around a raw write.
type Manager interface {
	// UnmountPartitions unmounts every mounted partition of the disk.
	UnmountPartitions(ctx context.Context, devicePath string) error

	// OpenTarget opens the device for exclusive writing. Close flushes
	// buffered data to the medium.
	OpenTarget(ctx context.Context, devicePath string) (io.WriteCloser, error)

	// RereadPartitions asks the kernel to reload the partition table.
	RereadPartitions(ctx context.Context, devicePath string) error

	// Close cleans up resources
	Close() error
}

// MountedPartition is a mounted filesystem living on a disk.
type MountedPartition struct {
	Device     string
	Mountpoint string
}
