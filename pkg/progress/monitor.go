// Package progress turns cumulative byte counts into a bounded, monotonic
// completion figure and renders it for the operator.
package progress

import (
	"sync"
)

// Snapshot is one rendered progress state. Percent is -1 when the total is unknown.
type Snapshot struct {
	Bytes   int64
	Total   int64
	Percent float64
}

// Known reports whether the snapshot carries a percentage.
func (s Snapshot) Known() bool {
	return s.Percent >= 0
}

// Renderer displays snapshots. Close releases display resources; it is called
// exactly once per Monitor.
type Renderer interface {
	Render(s Snapshot)
	Close() error
}

// Monitor tracks the progress of one transfer. It is safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	total    int64
	renderer Renderer
	current  Snapshot
	finished bool
	closed   bool
}

// New creates a monitor for a transfer of total bytes; total <= 0 means unknown.
func New(total int64, renderer Renderer) *Monitor {
	m := &Monitor{total: total, renderer: renderer}
	m.current = m.snapshot(0)
	return m
}

// Observe records the cumulative number of bytes transferred. Counts lower
// than a previous observation are ignored so the display never regresses.
func (m *Monitor) Observe(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || bytes < m.current.Bytes {
		return
	}
	next := m.snapshot(bytes)
	if next.Percent < m.current.Percent {
		next.Percent = m.current.Percent
	}
	m.current = next
	m.renderer.Render(next)
}

// Finish forces the display to 100% and releases the renderer. It must only
// be called after a successful transfer.
func (m *Monitor) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.current.Percent = 100
	if m.total > 0 && m.current.Bytes < m.total {
		m.current.Bytes = m.total
	}
	m.renderer.Render(m.current)
	m.finished = true
	return m.release()
}

// Close releases the renderer without completing the display. It is safe to
// call after Finish and more than once.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	return m.release()
}

func (m *Monitor) release() error {
	m.closed = true
	return m.renderer.Close()
}

// Current returns the last rendered snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Finished reports whether Finish completed the display.
func (m *Monitor) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

func (m *Monitor) snapshot(bytes int64) Snapshot {
	s := Snapshot{Bytes: bytes, Total: m.total, Percent: -1}
	if m.total > 0 {
		s.Percent = clamp(float64(bytes) / float64(m.total) * 100)
	}
	return s
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
