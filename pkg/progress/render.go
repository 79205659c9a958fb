package progress

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// unknownStep is the byte interval between log lines when the total is unknown.
const unknownStep = 64 * 1024 * 1024

// NewRenderer picks an interactive bar when out is a terminal and a log
// renderer otherwise.
func NewRenderer(out *os.File, total int64, step int, description string) Renderer {
	if term.IsTerminal(int(out.Fd())) {
		return NewBarRenderer(out, total, description)
	}
	return NewLogRenderer(slog.Default(), step)
}

// BarRenderer draws a terminal progress bar. With an unknown total it shows a
// spinner with the byte count.
type BarRenderer struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewBarRenderer creates a bar writing to out.
func NewBarRenderer(out io.Writer, total int64, description string) *BarRenderer {
	max := total
	if max <= 0 {
		max = -1
	}
	bar := progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &BarRenderer{bar: bar, out: out}
}

// Render implements Renderer.
func (b *BarRenderer) Render(s Snapshot) {
	_ = b.bar.Set64(s.Bytes)
}

// Close leaves the bar at its last state and moves to a fresh line.
func (b *BarRenderer) Close() error {
	err := b.bar.Exit()
	fmt.Fprintln(b.out)
	return err
}

// LogRenderer emits a structured log line each time progress crosses a step.
type LogRenderer struct {
	logger    *slog.Logger
	step      float64
	nextPct   float64
	nextBytes int64
}

// NewLogRenderer logs every step percent, or every 64 MiB when the total is unknown.
func NewLogRenderer(logger *slog.Logger, step int) *LogRenderer {
	if step <= 0 {
		step = 10
	}
	return &LogRenderer{
		logger:    logger,
		step:      float64(step),
		nextPct:   float64(step),
		nextBytes: unknownStep,
	}
}

// Render implements Renderer.
func (l *LogRenderer) Render(s Snapshot) {
	if s.Known() {
		if s.Percent < l.nextPct {
			return
		}
		l.logger.Info("flash_progress",
			"percent", math.Floor(s.Percent),
			"written", humanize.IBytes(uint64(s.Bytes)))
		l.nextPct = (math.Floor(s.Percent/l.step) + 1) * l.step
		return
	}

	if s.Bytes < l.nextBytes {
		return
	}
	l.logger.Info("flash_progress", "written", humanize.IBytes(uint64(s.Bytes)))
	l.nextBytes = (s.Bytes/unknownStep + 1) * unknownStep
}

// Close implements Renderer.
func (l *LogRenderer) Close() error {
	return nil
}
