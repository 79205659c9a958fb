package device

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/boxel-io/boxel-flash/pkg/errors"
)

// FileResolver treats an existing regular file as the target device, for
// writing disk image files instead of physical media.
type FileResolver struct {
	fs   afero.Fs
	path string
}

// NewFileResolver creates a resolver that always resolves to path.
func NewFileResolver(fs afero.Fs, path string) *FileResolver {
	return &FileResolver{fs: fs, path: path}
}

// IsRegularFile reports whether path names an existing regular file on fs.
func IsRegularFile(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Resolve implements the resolver contract for the configured file.
func (f *FileResolver) Resolve(ctx context.Context) (TargetDevice, error) {
	return f.Lookup(ctx, f.path)
}

// Lookup returns path as a target. The file must already exist; its owner
// write bit decides writability.
func (f *FileResolver) Lookup(ctx context.Context, path string) (TargetDevice, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		slog.Error("file_target_stat_failed", "path", path, "error", err)
		if errors.Is(err, fs.ErrNotExist) {
			return TargetDevice{}, fmt.Errorf("%w: %s does not exist", ErrNoDeviceFound, path)
		}
		return TargetDevice{}, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if !info.Mode().IsRegular() {
		return TargetDevice{}, fmt.Errorf("%w: %s is not a regular file", ErrNoDeviceFound, path)
	}

	target := TargetDevice{
		Name:      filepath.Base(path),
		Path:      path,
		RawPath:   path,
		Writable:  info.Mode().Perm()&0200 != 0,
		SizeBytes: info.Size(),
		Transport: "file",
	}
	slog.Info("device_resolved", "device", path, "writable", target.Writable, "file", true)
	return target, nil
}
