//go:build linux

package blockdev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

// LinuxManager drives real block devices on Linux.
type LinuxManager struct {
	mountsPath string
}

// NewManager creates a Linux block device manager
func NewManager() (Manager, error) {
	slog.Info("blockdev_init", "platform", "linux")

	if !isRoot() {
		// Members of the disk group can still write; the open will fail otherwise.
		slog.Warn("blockdev_not_root")
	}

	return &LinuxManager{mountsPath: "/proc/self/mounts"}, nil
}

// UnmountPartitions unmounts every filesystem mounted from devicePath,
// deepest mountpoint first.
func (m *LinuxManager) UnmountPartitions(ctx context.Context, devicePath string) error {
	data, err := os.ReadFile(m.mountsPath)
	if err != nil {
		slog.Error("read_mounts_failed", "path", m.mountsPath, "error", err)
		return errors.Wrap(err, "failed to read mount table")
	}

	parts, err := parseMountedPartitions(string(data), devicePath)
	if err != nil {
		return errors.Wrap(err, "failed to parse mount table")
	}
	sort.Slice(parts, func(i, j int) bool {
		return len(parts[i].Mountpoint) > len(parts[j].Mountpoint)
	})

	for _, p := range parts {
		slog.Info("unmount_partition", "device", p.Device, "mountpoint", p.Mountpoint)
		cmd := exec.CommandContext(ctx, "umount", p.Mountpoint)
		if out, err := cmd.CombinedOutput(); err != nil {
			slog.Error("unmount_failed", "device", p.Device, "mountpoint", p.Mountpoint, "error", err, "output", strings.TrimSpace(string(out)))
			return fmt.Errorf("failed to unmount %s from %s: %w: %s", p.Device, p.Mountpoint, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// OpenTarget opens devicePath with O_EXCL, which the kernel refuses while
// any partition is still mounted or claimed.
func (m *LinuxManager) OpenTarget(ctx context.Context, devicePath string) (io.WriteCloser, error) {
	f, err := os.OpenFile(devicePath, os.O_WRONLY|os.O_EXCL, 0)
	if err != nil {
		slog.Error("device_open_failed", "device", devicePath, "error", err)
		return nil, errors.Wrap(err, "failed to open device for writing")
	}
	slog.Info("device_opened", "device", devicePath)
	return &syncFile{File: f}, nil
}

// RereadPartitions runs `blockdev --rereadpt`.
func (m *LinuxManager) RereadPartitions(ctx context.Context, devicePath string) error {
	cmd := exec.CommandContext(ctx, "blockdev", "--rereadpt", devicePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("blockdev --rereadpt %s: %w: %s", devicePath, err, strings.TrimSpace(string(out)))
	}
	slog.Info("partition_table_reread", "device", devicePath)
	return nil
}

func (m *LinuxManager) Close() error {
	return nil
}

func isRoot() bool {
	return os.Geteuid() == 0
}
