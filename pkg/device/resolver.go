package device

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

// systemMounts are mountpoints that mark a disk as hosting the running system.
var systemMounts = []string{"/", "/boot", "/boot/efi", "/boot/firmware", "[SWAP]"}

// virtualPrefixes are kernel device names that are never physical media.
var virtualPrefixes = []string{"loop", "zram", "ram", "dm-", "md", "nbd", "sr"}

// Resolver selects the target device from an Inventory.
type Resolver struct {
	inventory Inventory
	schemes   []string
}

// NewResolver creates a resolver accepting disks whose partition table type is
// one of schemes (as reported by lsblk PTTYPE, e.g. "dos" or "gpt").
func NewResolver(inventory Inventory, schemes []string) *Resolver {
	normalized := make([]string, 0, len(schemes))
	for _, s := range schemes {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(s)))
	}
	return &Resolver{inventory: inventory, schemes: normalized}
}

// Candidate is an inventory disk annotated with the filter verdict.
type Candidate struct {
	Disk     `yaml:",inline"`
	Eligible bool   `json:"eligible" yaml:"eligible"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Candidates returns every inventory disk with the reason it was rejected, if any.
func (r *Resolver) Candidates(ctx context.Context) ([]Candidate, error) {
	disks, err := r.query(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(disks))
	for _, d := range disks {
		reason := r.reject(d)
		out = append(out, Candidate{Disk: d, Eligible: reason == "", Reason: reason})
	}
	return out, nil
}

// Resolve returns the single disk matching the candidate filter.
func (r *Resolver) Resolve(ctx context.Context) (TargetDevice, error) {
	candidates, err := r.Candidates(ctx)
	if err != nil {
		return TargetDevice{}, err
	}

	var matches []Disk
	for _, c := range candidates {
		if c.Eligible {
			matches = append(matches, c.Disk)
			continue
		}
		slog.Debug("device_candidate_rejected", "device", c.Path, "reason", c.Reason)
	}

	switch len(matches) {
	case 1:
		target := targetFromDisk(matches[0])
		slog.Info("device_resolved",
			"device", target.Path,
			"writable", target.Writable,
			"removable", target.Removable,
			"size_bytes", target.SizeBytes)
		return target, nil
	case 0:
		slog.Error("device_resolution_failed", "candidates", 0, "schemes", r.schemes)
		return TargetDevice{}, fmt.Errorf("%w: no disk with partition scheme %s", ErrNoDeviceFound, strings.Join(r.schemes, "|"))
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Path)
		}
		slog.Error("device_resolution_ambiguous", "candidates", len(matches), "devices", names)
		return TargetDevice{}, fmt.Errorf("%w: %d candidates (%s), pass --device to choose one",
			ErrNoDeviceFound, len(matches), strings.Join(names, ", "))
	}
}

// Lookup resolves an explicitly requested device by path or kernel name.
// The disk does not need to match the partition scheme filter, but it must be
// a whole physical disk that does not host the running system.
func (r *Resolver) Lookup(ctx context.Context, path string) (TargetDevice, error) {
	disks, err := r.query(ctx)
	if err != nil {
		return TargetDevice{}, err
	}

	name := filepath.Base(path)
	for _, d := range disks {
		if d.Path != path && d.Name != name {
			continue
		}
		if reason := rejectUnsafe(d); reason != "" {
			slog.Error("device_lookup_refused", "device", path, "reason", reason)
			return TargetDevice{}, fmt.Errorf("%w: %s: %s", ErrNoDeviceFound, path, reason)
		}
		target := targetFromDisk(d)
		slog.Info("device_resolved",
			"device", target.Path,
			"writable", target.Writable,
			"removable", target.Removable,
			"size_bytes", target.SizeBytes,
			"explicit", true)
		return target, nil
	}

	slog.Error("device_lookup_failed", "device", path)
	return TargetDevice{}, fmt.Errorf("%w: %s is not a known disk", ErrNoDeviceFound, path)
}

func (r *Resolver) query(ctx context.Context) ([]Disk, error) {
	disks, err := r.inventory.Disks(ctx)
	if err != nil {
		slog.Error("device_query_failed", "error", err)
		if errors.Is(err, ErrQueryFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return disks, nil
}

func (r *Resolver) reject(d Disk) string {
	if reason := rejectUnsafe(d); reason != "" {
		return reason
	}
	if !slices.Contains(r.schemes, strings.ToLower(d.PartitionScheme)) {
		if d.PartitionScheme == "" {
			return "no partition table"
		}
		return fmt.Sprintf("partition scheme %s", d.PartitionScheme)
	}
	return ""
}

// rejectUnsafe returns why a disk must never be written, or "" if it may be.
func rejectUnsafe(d Disk) string {
	if d.Type != "disk" {
		return fmt.Sprintf("not a whole disk (type %s)", d.Type)
	}
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(d.Name, prefix) {
			return "virtual device"
		}
	}
	for _, mp := range d.Mountpoints {
		if slices.Contains(systemMounts, mp) {
			return fmt.Sprintf("hosts system mount %s", mp)
		}
	}
	return ""
}
