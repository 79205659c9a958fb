// Package transfer copies an image onto a block device through a bounded
// two-stage pipeline and reports cumulative progress to an Observer.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc"

	"github.com/boxel-io/boxel-flash/pkg/device"
	"github.com/boxel-io/boxel-flash/pkg/errors"
)

const (
	// DefaultChunkSize is the size of one pipeline chunk.
	DefaultChunkSize = 1024 * 1024
	// DefaultBufferChunks is the number of chunks the pipeline may hold between stages.
	DefaultBufferChunks = 4
)

var errStopped = errors.New("pipeline stopped")

// Source is the byte producer. Size returns -1 when the length is unknown.
type Source interface {
	io.Reader
	Size() int64
}

// Observer receives the cumulative count of bytes written to the target.
type Observer interface {
	Observe(bytes int64)
}

// Targets prepares, opens and finalizes block devices.
type Targets interface {
	UnmountPartitions(ctx context.Context, devicePath string) error
	OpenTarget(ctx context.Context, devicePath string) (io.WriteCloser, error)
	RereadPartitions(ctx context.Context, devicePath string) error
}

// Result summarizes a completed or failed transfer.
type Result struct {
	BytesWritten int64
	Duration     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the pipeline chunk size in bytes.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithBufferChunks sets how many chunks may be queued between reader and writer.
func WithBufferChunks(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bufferChunks = n
		}
	}
}

// Engine runs transfers.
type Engine struct {
	targets      Targets
	chunkSize    int
	bufferChunks int
}

// New creates an engine writing through targets.
func New(targets Targets, opts ...Option) *Engine {
	e := &Engine{
		targets:      targets,
		chunkSize:    DefaultChunkSize,
		bufferChunks: DefaultBufferChunks,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Flash writes src onto target: unmount its partitions, open the raw device
// exclusively, copy, flush, and ask the kernel to re-read the partition table.
func (e *Engine) Flash(ctx context.Context, src Source, target device.TargetDevice, obs Observer) (Result, error) {
	if err := e.targets.UnmountPartitions(ctx, target.Path); err != nil {
		slog.Error("flash_unmount_failed", "device", target.Path, "error", err)
		return Result{}, &Error{Kind: ErrTargetWrite, Device: target.Path, Err: errors.Wrap(err, "unmount partitions")}
	}

	dst, err := e.targets.OpenTarget(ctx, target.RawPath)
	if err != nil {
		slog.Error("flash_open_target_failed", "device", target.RawPath, "error", err)
		return Result{}, &Error{Kind: ErrTargetWrite, Device: target.RawPath, Err: errors.Wrap(err, "open device")}
	}

	slog.Info("flash_transfer_started",
		"device", target.RawPath,
		"size", src.Size(),
		"chunk_size", e.chunkSize,
		"buffer_chunks", e.bufferChunks)

	res, copyErr := e.Copy(ctx, src, dst, obs)
	closeErr := dst.Close()

	if copyErr != nil {
		var terr *Error
		if errors.As(copyErr, &terr) {
			terr.Device = target.RawPath
		}
		slog.Error("flash_transfer_failed", "device", target.RawPath, "bytes_written", res.BytesWritten, "error", copyErr)
		return res, copyErr
	}
	if closeErr != nil {
		slog.Error("flash_flush_failed", "device", target.RawPath, "error", closeErr)
		return res, &Error{Kind: ErrTargetWrite, Offset: res.BytesWritten, Device: target.RawPath, Err: errors.Wrap(closeErr, "flush device")}
	}

	if err := e.targets.RereadPartitions(ctx, target.Path); err != nil {
		slog.Warn("flash_partition_reread_failed", "device", target.Path, "error", err)
	}

	rate := "n/a"
	if secs := res.Duration.Seconds(); secs > 0 {
		rate = humanize.IBytes(uint64(float64(res.BytesWritten)/secs)) + "/s"
	}
	slog.Info("flash_transfer_complete",
		"device", target.RawPath,
		"bytes_written", res.BytesWritten,
		"duration", res.Duration.Round(time.Millisecond),
		"rate", rate)
	return res, nil
}

// Copy streams src into dst. A reader goroutine fills fixed-size chunks from a
// pool of reusable buffers and queues them; the calling goroutine writes them
// in order and reports progress after each complete write. The first failure
// stops both stages.
func (e *Engine) Copy(ctx context.Context, src Source, dst io.Writer, obs Observer) (Result, error) {
	start := time.Now()
	size := src.Size()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, e.bufferChunks)
	// One buffer in the reader, bufferChunks queued, one in the writer.
	free := make(chan []byte, e.bufferChunks+2)
	for i := 0; i < cap(free); i++ {
		free <- make([]byte, e.chunkSize)
	}

	var readErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		defer close(chunks)
		readErr = e.read(ctx, src, free, chunks)
		if readErr != nil {
			cancel()
		}
	})

	written, writeErr := e.write(ctx, dst, chunks, free, obs)
	if writeErr != nil {
		cancel()
	}
	wg.Wait()

	res := Result{BytesWritten: written, Duration: time.Since(start)}

	var terr *Error
	switch {
	case errors.As(writeErr, &terr):
		return res, terr
	case errors.As(readErr, &terr):
		return res, terr
	case writeErr != nil || readErr != nil:
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		return res, &Error{Kind: ErrTargetWrite, Offset: written, Err: fmt.Errorf("interrupted: %w", cause)}
	}

	if size >= 0 && written < size {
		return res, &Error{
			Kind:   ErrIncompleteTransfer,
			Offset: written,
			Err:    fmt.Errorf("source ended after %d of %d bytes", written, size),
		}
	}
	if written == 0 {
		obs.Observe(0)
	}
	return res, nil
}

// read fills chunks until EOF. It returns nil at EOF, a *Error on a source
// failure, and errStopped when the pipeline was cancelled.
func (e *Engine) read(ctx context.Context, src io.Reader, free <-chan []byte, chunks chan<- []byte) error {
	var offset int64
	for {
		var buf []byte
		select {
		case <-ctx.Done():
			return errStopped
		case buf = <-free:
		}

		n, err := io.ReadFull(src, buf)
		if n > 0 {
			select {
			case <-ctx.Done():
				return errStopped
			case chunks <- buf[:n]:
			}
			offset += int64(n)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return &Error{Kind: ErrSourceRead, Offset: offset, Err: err}
		}
	}
}

// write drains chunks into dst. It returns a *Error on a write failure and
// errStopped when the pipeline was cancelled before the queue was drained.
func (e *Engine) write(ctx context.Context, dst io.Writer, chunks <-chan []byte, free chan<- []byte, obs Observer) (int64, error) {
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, errStopped
		case buf, ok := <-chunks:
			if !ok {
				return written, nil
			}
			if ctx.Err() != nil {
				return written, errStopped
			}

			n, err := dst.Write(buf)
			written += int64(n)
			if err == nil && n < len(buf) {
				err = io.ErrShortWrite
			}
			if err != nil {
				return written, &Error{Kind: ErrTargetWrite, Offset: written, Err: err}
			}

			obs.Observe(written)
			free <- buf[:cap(buf)]
		}
	}
}

type sizedReader struct {
	io.Reader
	size int64
}

func (s sizedReader) Size() int64 { return s.size }

// Sized adapts a plain reader to Source. Pass -1 when the size is unknown.
func Sized(r io.Reader, size int64) Source {
	return sizedReader{Reader: r, size: size}
}
