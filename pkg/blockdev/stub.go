//go:build !linux

package blockdev

import (
	"context"
	"fmt"
	"io"
	"runtime"
)

// StubManager refuses every operation on platforms without raw device support.
type StubManager struct{}

// NewManager returns a stub manager and an error naming the platform.
func NewManager() (Manager, error) {
	return &StubManager{}, fmt.Errorf("raw device writes not supported on %s", runtime.GOOS)
}

func (m *StubManager) UnmountPartitions(ctx context.Context, devicePath string) error {
	return fmt.Errorf("blockdev not supported on %s", runtime.GOOS)
}

func (m *StubManager) OpenTarget(ctx context.Context, devicePath string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("blockdev not supported on %s", runtime.GOOS)
}

func (m *StubManager) RereadPartitions(ctx context.Context, devicePath string) error {
	return fmt.Errorf("blockdev not supported on %s", runtime.GOOS)
}

func (m *StubManager) Close() error {
	return nil
}
