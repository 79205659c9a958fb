package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/boxel-io/boxel-flash/pkg/device"
)

var errDiskGone = errors.New("input/output error")

type recordingObserver struct {
	mu   sync.Mutex
	seen []int64
}

func (o *recordingObserver) Observe(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, n)
}

func (o *recordingObserver) last() int64 {
	if len(o.seen) == 0 {
		return -1
	}
	return o.seen[len(o.seen)-1]
}

func (o *recordingObserver) assertMonotonic(t *testing.T) {
	t.Helper()
	for i := 1; i < len(o.seen); i++ {
		if o.seen[i] < o.seen[i-1] {
			t.Fatalf("observation %d decreased: %d < %d", i, o.seen[i], o.seen[i-1])
		}
	}
}

func payload(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

// failingWriter accepts failAt bytes, then fails.
type failingWriter struct {
	failAt int64
	buf    bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	remaining := w.failAt - int64(w.buf.Len())
	if int64(len(p)) <= remaining {
		return w.buf.Write(p)
	}
	n, _ := w.buf.Write(p[:remaining])
	return n, errDiskGone
}

// failingReader yields data, then fails instead of returning EOF.
type failingReader struct {
	data []byte
	pos  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, errDiskGone
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func TestCopy_ProgressMonotonicAndComplete(t *testing.T) {
	for _, chunk := range []int{16, 4096} {
		for _, buffers := range []int{1, 4} {
			for _, size := range []int{0, 1, chunk - 1, chunk, chunk + 1, 10*chunk + 123} {
				name := fmt.Sprintf("chunk=%d/buffers=%d/size=%d", chunk, buffers, size)
				t.Run(name, func(t *testing.T) {
					data := payload(size)
					var dst bytes.Buffer
					obs := &recordingObserver{}
					e := New(nil, WithChunkSize(chunk), WithBufferChunks(buffers))

					res, err := e.Copy(context.Background(), Sized(bytes.NewReader(data), int64(size)), &dst, obs)
					if err != nil {
						t.Fatalf("Copy: %v", err)
					}
					if res.BytesWritten != int64(size) {
						t.Errorf("BytesWritten = %d, want %d", res.BytesWritten, size)
					}
					if !bytes.Equal(dst.Bytes(), data) {
						t.Error("destination bytes differ from source")
					}
					obs.assertMonotonic(t)
					if obs.last() != int64(size) {
						t.Errorf("final observation = %d, want %d", obs.last(), size)
					}
				})
			}
		}
	}
}

func TestCopy_UnknownSize(t *testing.T) {
	data := payload(100_000)
	var dst bytes.Buffer
	obs := &recordingObserver{}

	_, err := New(nil, WithChunkSize(1000)).Copy(context.Background(), Sized(bytes.NewReader(data), -1), &dst, obs)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if obs.last() != int64(len(data)) {
		t.Errorf("final observation = %d, want %d", obs.last(), len(data))
	}
}

func TestCopy_WriteFailureAtOffset(t *testing.T) {
	const size = 64 * 1024
	data := payload(size)

	for _, k := range []int64{0, 1, 1023, 1024, 1025, 30_000, size - 1} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			dst := &failingWriter{failAt: k}
			obs := &recordingObserver{}

			res, err := New(nil, WithChunkSize(1024), WithBufferChunks(2)).
				Copy(context.Background(), Sized(bytes.NewReader(data), size), dst, obs)

			if !errors.Is(err, ErrTargetWrite) {
				t.Fatalf("expected ErrTargetWrite, got %v", err)
			}
			if !errors.Is(err, errDiskGone) {
				t.Errorf("error should carry the cause: %v", err)
			}
			var terr *Error
			if !errors.As(err, &terr) || terr.Offset != k {
				t.Errorf("offset = %+v, want %d", terr, k)
			}
			if res.BytesWritten != k {
				t.Errorf("BytesWritten = %d, want %d", res.BytesWritten, k)
			}
			obs.assertMonotonic(t)
			if obs.last() > k {
				t.Errorf("last observation %d exceeds failure offset %d", obs.last(), k)
			}
			if !bytes.Equal(dst.buf.Bytes(), data[:k]) {
				t.Error("bytes before the failure must match the source")
			}
		})
	}
}

func TestCopy_SourceReadFailure(t *testing.T) {
	data := payload(10_000)
	var dst bytes.Buffer
	obs := &recordingObserver{}

	res, err := New(nil, WithChunkSize(4096)).
		Copy(context.Background(), Sized(&failingReader{data: data}, 20_000), &dst, obs)

	if !errors.Is(err, ErrSourceRead) {
		t.Fatalf("expected ErrSourceRead, got %v", err)
	}
	if errors.Is(err, ErrTargetWrite) {
		t.Error("source failure must not be reported as a write failure")
	}
	if res.BytesWritten > int64(len(data)) {
		t.Errorf("wrote %d bytes, more than the %d the source produced", res.BytesWritten, len(data))
	}
	if !bytes.Equal(dst.Bytes(), data[:dst.Len()]) {
		t.Error("written bytes must be a prefix of the source")
	}
	obs.assertMonotonic(t)
}

func TestCopy_Incomplete(t *testing.T) {
	data := payload(5000)
	var dst bytes.Buffer

	res, err := New(nil, WithChunkSize(1024)).
		Copy(context.Background(), Sized(bytes.NewReader(data), 8000), &dst, &recordingObserver{})

	if !errors.Is(err, ErrIncompleteTransfer) {
		t.Fatalf("expected ErrIncompleteTransfer, got %v", err)
	}
	if res.BytesWritten != 5000 {
		t.Errorf("BytesWritten = %d, want 5000", res.BytesWritten)
	}
}

// cancellingWriter cancels the job context after its first write.
type cancellingWriter struct {
	cancel context.CancelFunc
	writes int
}

func (w *cancellingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes == 1 {
		w.cancel()
	}
	return len(p), nil
}

func TestCopy_CancelledIsTargetWriteError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data := payload(256 * 1024)
	dst := &cancellingWriter{cancel: cancel}

	_, err := New(nil, WithChunkSize(1024), WithBufferChunks(2)).
		Copy(ctx, Sized(bytes.NewReader(data), int64(len(data))), dst, &recordingObserver{})

	if !errors.Is(err, ErrTargetWrite) {
		t.Fatalf("expected ErrTargetWrite, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("interrupt should wrap context.Canceled: %v", err)
	}
	if dst.writes > 2 {
		t.Errorf("writer called %d times after cancellation", dst.writes)
	}
}

type memTarget struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (m *memTarget) Close() error {
	m.closed = true
	return m.closeErr
}

type fakeTargets struct {
	target     *memTarget
	openErr    error
	unmountErr error
	rereadErr  error

	unmounted []string
	opened    []string
	reread    []string
}

func (f *fakeTargets) UnmountPartitions(ctx context.Context, path string) error {
	f.unmounted = append(f.unmounted, path)
	return f.unmountErr
}

func (f *fakeTargets) OpenTarget(ctx context.Context, path string) (io.WriteCloser, error) {
	f.opened = append(f.opened, path)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.target, nil
}

func (f *fakeTargets) RereadPartitions(ctx context.Context, path string) error {
	f.reread = append(f.reread, path)
	return f.rereadErr
}

var testDevice = device.TargetDevice{Name: "sdb", Path: "/dev/sdb", RawPath: "/dev/sdb", Writable: true}

func TestFlash_Success(t *testing.T) {
	data := payload(10_000)
	targets := &fakeTargets{target: &memTarget{}, rereadErr: errors.New("BLKRRPART: busy")}
	obs := &recordingObserver{}

	res, err := New(targets, WithChunkSize(1000)).
		Flash(context.Background(), Sized(bytes.NewReader(data), int64(len(data))), testDevice, obs)
	if err != nil {
		t.Fatalf("Flash: %v", err)
	}
	if res.BytesWritten != int64(len(data)) {
		t.Errorf("BytesWritten = %d", res.BytesWritten)
	}
	if !targets.target.closed {
		t.Error("target must be closed")
	}
	if len(targets.unmounted) != 1 || len(targets.reread) != 1 {
		t.Errorf("unmount/reread calls = %d/%d, want 1/1", len(targets.unmounted), len(targets.reread))
	}
	if !bytes.Equal(targets.target.Bytes(), data) {
		t.Error("device contents differ from image")
	}
}

func TestFlash_PreparationFailures(t *testing.T) {
	tests := []struct {
		name    string
		targets *fakeTargets
	}{
		{"unmount fails", &fakeTargets{target: &memTarget{}, unmountErr: errors.New("target is busy")}},
		{"open fails", &fakeTargets{target: &memTarget{}, openErr: errors.New("device or resource busy")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			_, err := New(tt.targets).Flash(context.Background(), Sized(bytes.NewReader(payload(10)), 10), testDevice, obs)
			if !errors.Is(err, ErrTargetWrite) {
				t.Fatalf("expected ErrTargetWrite, got %v", err)
			}
			if tt.targets.target.Len() != 0 || len(obs.seen) != 0 {
				t.Error("nothing may be written when preparation fails")
			}
			if len(tt.targets.reread) != 0 {
				t.Error("partition table must not be re-read after a failure")
			}
		})
	}
}

func TestFlash_FlushFailure(t *testing.T) {
	targets := &fakeTargets{target: &memTarget{closeErr: errors.New("fsync: input/output error")}}

	_, err := New(targets).Flash(context.Background(), Sized(bytes.NewReader(payload(100)), 100), testDevice, &recordingObserver{})
	if !errors.Is(err, ErrTargetWrite) {
		t.Fatalf("expected ErrTargetWrite, got %v", err)
	}
	if !strings.Contains(err.Error(), "/dev/sdb") {
		t.Errorf("error should name the device: %v", err)
	}
}

func TestFlash_ReadFailureNamesDevice(t *testing.T) {
	targets := &fakeTargets{target: &memTarget{}}

	_, err := New(targets, WithChunkSize(64)).
		Flash(context.Background(), Sized(&failingReader{data: payload(100)}, 1000), testDevice, &recordingObserver{})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if terr.Device != "/dev/sdb" || !errors.Is(err, ErrSourceRead) {
		t.Errorf("unexpected error %+v", terr)
	}
	if !targets.target.closed {
		t.Error("target must be closed after a failure")
	}
}
