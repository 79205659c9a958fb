package blockdev

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

// FileManager writes into existing regular files, such as disk image files
// later attached with losetup. There is nothing to unmount or re-read.
type FileManager struct {
	fs afero.Fs
}

// NewFileManager creates a manager writing through fs.
func NewFileManager(fs afero.Fs) *FileManager {
	return &FileManager{fs: fs}
}

func (m *FileManager) UnmountPartitions(ctx context.Context, devicePath string) error {
	return nil
}

// OpenTarget opens an existing file for writing without truncating it.
func (m *FileManager) OpenTarget(ctx context.Context, devicePath string) (io.WriteCloser, error) {
	f, err := m.fs.OpenFile(devicePath, os.O_WRONLY, 0)
	if err != nil {
		slog.Error("file_target_open_failed", "path", devicePath, "error", err)
		return nil, errors.Wrap(err, "failed to open target file")
	}
	slog.Info("file_target_opened", "path", devicePath)
	return &syncAferoFile{File: f}, nil
}

func (m *FileManager) RereadPartitions(ctx context.Context, devicePath string) error {
	return nil
}

func (m *FileManager) Close() error {
	return nil
}

type syncAferoFile struct {
	afero.File
}

func (f *syncAferoFile) Close() error {
	syncErr := f.File.Sync()
	closeErr := f.File.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
