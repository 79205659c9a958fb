package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const lsblkColumns = "NAME,PATH,TYPE,SIZE,RO,RM,HOTPLUG,TRAN,MODEL,PTTYPE,MOUNTPOINT"

// LsblkInventory lists disks with `lsblk -J -b`.
type LsblkInventory struct {
	run func(ctx context.Context) ([]byte, error)
}

// NewLsblkInventory creates an inventory backed by the lsblk binary.
func NewLsblkInventory() *LsblkInventory {
	return &LsblkInventory{run: runLsblk}
}

func runLsblk(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "lsblk", "-J", "-b", "-o", lsblkColumns)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Disks implements Inventory.
func (l *LsblkInventory) Disks(ctx context.Context) ([]Disk, error) {
	out, err := l.run(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	disks, err := parseLsblk(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return disks, nil
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Type       string        `json:"type"`
	Size       flexInt       `json:"size"`
	RO         flexBool      `json:"ro"`
	RM         flexBool      `json:"rm"`
	Hotplug    flexBool      `json:"hotplug"`
	Tran       string        `json:"tran"`
	Model      string        `json:"model"`
	PTType     string        `json:"pttype"`
	Mountpoint string        `json:"mountpoint"`
	Children   []lsblkDevice `json:"children"`
}

func parseLsblk(data []byte) ([]Disk, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	disks := make([]Disk, 0, len(out.BlockDevices))
	for _, bd := range out.BlockDevices {
		path := bd.Path
		if path == "" {
			path = "/dev/" + bd.Name
		}
		d := Disk{
			Name:            bd.Name,
			Path:            path,
			Type:            bd.Type,
			SizeBytes:       int64(bd.Size),
			ReadOnly:        bool(bd.RO),
			Removable:       bool(bd.RM) || bool(bd.Hotplug),
			Transport:       bd.Tran,
			Model:           strings.TrimSpace(bd.Model),
			PartitionScheme: bd.PTType,
		}
		d.Mountpoints = collectMountpoints(bd, nil)
		disks = append(disks, d)
	}
	return disks, nil
}

func collectMountpoints(bd lsblkDevice, acc []string) []string {
	if bd.Mountpoint != "" {
		acc = append(acc, bd.Mountpoint)
	}
	for _, child := range bd.Children {
		acc = collectMountpoints(child, acc)
	}
	return acc
}

// flexBool accepts the boolean encodings used across util-linux versions:
// true/false, "0"/"1" and 0/1.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexInt accepts numbers and numeric strings; null becomes 0.
type flexInt int64

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", data, err)
	}
	*n = flexInt(v)
	return nil
}
