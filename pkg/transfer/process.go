package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// ProcessTargets writes through a `dd` subprocess fed on stdin. Unmounting and
// partition re-reads are delegated to the wrapped Targets.
//
// dd opens the device without O_EXCL, so the kernel does not refuse a second
// writer or a mount while it runs. Only the job history claim guards the
// device on this backend.
type ProcessTargets struct {
	Targets
	blockSize int
	command   string
}

// NewProcessTargets wraps base so that writes go through dd with the given block size.
func NewProcessTargets(base Targets, blockSize int) *ProcessTargets {
	if blockSize <= 0 {
		blockSize = DefaultChunkSize
	}
	return &ProcessTargets{Targets: base, blockSize: blockSize, command: "dd"}
}

// OpenTarget starts dd writing to devicePath.
func (p *ProcessTargets) OpenTarget(ctx context.Context, devicePath string) (io.WriteCloser, error) {
	args := []string{
		"of=" + devicePath,
		fmt.Sprintf("bs=%d", p.blockSize),
		"conv=fsync,notrunc",
		"status=none",
	}
	cmd := exec.CommandContext(ctx, p.command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("dd stdin: %w", err)
	}
	sink := &processSink{cmd: cmd, stdin: stdin}
	cmd.Stderr = &sink.stderr

	slog.Info("dd_process_start", "device", devicePath, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.command, err)
	}
	return sink, nil
}

type processSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	once    sync.Once
	waitErr error
}

func (s *processSink) Write(p []byte) (int, error) {
	n, err := s.stdin.Write(p)
	if err != nil {
		// dd exited early; its stderr says why.
		if waitErr := s.wait(); waitErr != nil {
			return n, waitErr
		}
		return n, err
	}
	return n, nil
}

// Close ends the input stream and waits for dd to flush and exit.
func (s *processSink) Close() error {
	return s.wait()
}

func (s *processSink) wait() error {
	s.once.Do(func() {
		s.stdin.Close()
		if err := s.cmd.Wait(); err != nil {
			s.waitErr = fmt.Errorf("dd: %w: %s", err, strings.TrimSpace(s.stderr.String()))
			slog.Error("dd_process_failed", "error", s.waitErr)
		}
	})
	return s.waitErr
}
