// Package device discovers the removable block device an image is flashed onto.
// Inventories list the disks the kernel knows about; the Resolver narrows them
// to exactly one eligible target.
package device

import (
	"context"
	"strings"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

var (
	// ErrNoDeviceFound means zero or several disks matched the candidate filter,
	// or an explicitly requested device is unknown or unsafe to write.
	ErrNoDeviceFound = errors.New("no device found")
	// ErrQueryFailed means the OS inventory could not be run or parsed.
	ErrQueryFailed = errors.New("device query failed")
)

// Disk is one inventory row, a whole disk plus the mountpoints of its partitions.
type Disk struct {
	Name            string   `json:"name" yaml:"name"`
	Path            string   `json:"path" yaml:"path"`
	Type            string   `json:"type" yaml:"type"`
	SizeBytes       int64    `json:"size_bytes" yaml:"size_bytes"`
	ReadOnly        bool     `json:"read_only" yaml:"read_only"`
	Removable       bool     `json:"removable" yaml:"removable"`
	Transport       string   `json:"transport,omitempty" yaml:"transport,omitempty"`
	Model           string   `json:"model,omitempty" yaml:"model,omitempty"`
	PartitionScheme string   `json:"partition_scheme,omitempty" yaml:"partition_scheme,omitempty"`
	Mountpoints     []string `json:"mountpoints,omitempty" yaml:"mountpoints,omitempty"`
}

// Inventory lists the disks attached to the host.
type Inventory interface {
	Disks(ctx context.Context) ([]Disk, error)
}

// TargetDevice is the resolved write target for one flash job.
type TargetDevice struct {
	Name            string
	Path            string
	RawPath         string
	Writable        bool
	Removable       bool
	SizeBytes       int64
	Model           string
	Transport       string
	PartitionScheme string
}

// Eligible reports whether the device may be written.
func (d TargetDevice) Eligible() bool {
	return d.Writable
}

func targetFromDisk(d Disk) TargetDevice {
	return TargetDevice{
		Name:      d.Name,
		Path:      d.Path,
		RawPath:   d.Path,
		Writable:  !d.ReadOnly,
		Removable: d.Removable || isHotplugTransport(d.Transport),
		SizeBytes: d.SizeBytes,
		Model:     strings.TrimSpace(d.Model),
		Transport: d.Transport,

		PartitionScheme: d.PartitionScheme,
	}
}

func isHotplugTransport(tran string) bool {
	switch strings.ToLower(tran) {
	case "usb", "mmc", "sdio":
		return true
	}
	return false
}
