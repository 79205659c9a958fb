// Package image opens disk images for flashing. Raw images are streamed as is;
// gzip, xz and 7z images are decompressed on the fly.
package image

import (
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/spf13/afero"
	"github.com/xi2/xz"

	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/security"
)

// ErrNotFound means the input image is missing, not a regular file, or unreadable.
var ErrNotFound = errors.New("input image not found")

// Format is the container format of an image file.
type Format string

const (
	FormatRaw  Format = "raw"
	FormatGzip Format = "gzip"
	FormatXZ   Format = "xz"
	Format7z   Format = "7z"
)

// DetectFormat infers the format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return FormatGzip
	case ".xz":
		return FormatXZ
	case ".7z":
		return Format7z
	default:
		return FormatRaw
	}
}

// Handle is an open image. Reads yield the uncompressed disk contents.
type Handle struct {
	Path   string
	Format Format

	size           int64
	compressedSize int64
	r              io.Reader
	closers        []io.Closer
	closed         bool
}

// Read implements io.Reader.
func (h *Handle) Read(p []byte) (int, error) {
	return h.r.Read(p)
}

// Size returns the uncompressed size in bytes, or -1 when it is not known
// until the stream has been consumed.
func (h *Handle) Size() int64 {
	return h.size
}

// CompressedSize returns the on-disk size of the image file.
func (h *Handle) CompressedSize() int64 {
	return h.compressedSize
}

// Close releases the decompressor and the underlying file. It is safe to call
// more than once.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	var first error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Source opens images from a filesystem.
type Source struct {
	fs        afero.Fs
	validator *security.Validator
}

// NewSource creates an image source reading from fs.
func NewSource(fs afero.Fs, validator *security.Validator) *Source {
	return &Source{fs: fs, validator: validator}
}

// Open validates path and returns a handle positioned at the first byte.
func (s *Source) Open(path string) (*Handle, error) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		slog.Error("image_stat_failed", "path", path, "error", err)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	if !info.Mode().IsRegular() {
		slog.Error("image_not_regular_file", "path", path, "mode", info.Mode().String())
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}

	f, err := s.fs.Open(path)
	if err != nil {
		slog.Error("image_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}

	h := &Handle{
		Path:           path,
		Format:         DetectFormat(path),
		compressedSize: info.Size(),
		closers:        []io.Closer{f},
	}

	if err := s.attach(h, f, info.Size()); err != nil {
		h.Close()
		slog.Error("image_decode_failed", "path", path, "format", h.Format, "error", err)
		return nil, errors.Wrapf(err, "open %s image %s", h.Format, path)
	}

	if s.validator != nil {
		if err := s.validator.ValidateImageSize(h.size); err != nil {
			h.Close()
			return nil, err
		}
	}

	slog.Info("image_opened",
		"path", path,
		"format", h.Format,
		"size", h.size,
		"compressed_size", h.compressedSize)
	return h, nil
}

func (s *Source) attach(h *Handle, f afero.File, fileSize int64) error {
	switch h.Format {
	case FormatGzip:
		gr, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		h.r = gr
		h.size = -1
		h.closers = append(h.closers, gr)
	case FormatXZ:
		xr, err := xz.NewReader(f, 0)
		if err != nil {
			return err
		}
		h.r = xr
		h.size = -1
	case Format7z:
		return s.attach7z(h, f, fileSize)
	default:
		h.r = f
		h.size = fileSize
	}
	return nil
}

// attach7z streams the disk image entry of a 7z archive: the first *.img entry,
// or the only regular file when there is exactly one.
func (s *Source) attach7z(h *Handle, f afero.File, fileSize int64) error {
	archive, err := sevenzip.NewReader(f, fileSize)
	if err != nil {
		return err
	}

	var entries []*sevenzip.File
	var chosen *sevenzip.File
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, entry)
		if chosen == nil && strings.EqualFold(filepath.Ext(entry.Name), ".img") {
			chosen = entry
		}
	}
	if chosen == nil && len(entries) == 1 {
		chosen = entries[0]
	}
	if chosen == nil {
		return fmt.Errorf("archive has %d files and no .img entry", len(entries))
	}

	size := chosen.FileInfo().Size()
	if s.validator != nil {
		if err := s.validator.ValidateCompressionRatio(fileSize, size); err != nil {
			return err
		}
	}

	rc, err := chosen.Open()
	if err != nil {
		return err
	}
	slog.Info("image_archive_entry", "path", h.Path, "entry", chosen.Name, "size", size)

	h.r = rc
	h.size = size
	h.closers = append(h.closers, rc)
	return nil
}
