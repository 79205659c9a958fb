// Package console is the operator-facing side of boxel-flash: colored status
// lines, the pre-flash summary and the yes/no confirmation prompt. Structured
// diagnostics go to slog instead.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// Console writes operator messages to out and reads answers from in.
type Console struct {
	out io.Writer
	in  *bufio.Reader

	info *color.Color
	warn *color.Color
	fail *color.Color
	bold *color.Color
}

// New creates a console. Colors follow color.NoColor, which is set when
// stdout is not a terminal.
func New(out io.Writer, in io.Reader) *Console {
	return &Console{
		out:  out,
		in:   bufio.NewReader(in),
		info: color.New(color.FgGreen),
		warn: color.New(color.FgHiMagenta),
		fail: color.New(color.FgRed),
		bold: color.New(color.Bold),
	}
}

// Info prints a green status line.
func (c *Console) Info(format string, a ...any) {
	c.info.Fprintf(c.out, format+"\n", a...)
}

// Warn prints a magenta warning line.
func (c *Console) Warn(format string, a ...any) {
	c.warn.Fprintf(c.out, format+"\n", a...)
}

// Error prints a red error line.
func (c *Console) Error(format string, a ...any) {
	c.fail.Fprintf(c.out, format+"\n", a...)
}

// Summary is what the operator sees before any byte is written.
type Summary struct {
	JobID     string
	Device    string
	Model     string
	SizeBytes int64
	Writable  bool
	Removable bool
	Image     string
	ImageSize int64
	Format    string
	Hostname  string
	WiFiSSID  string
}

// Summary prints the device and image about to be flashed.
func (c *Console) Summary(s Summary) {
	c.bold.Fprintln(c.out, "Flash plan")
	row := func(k, v string) { fmt.Fprintf(c.out, "  %-10s %s\n", k+":", v) }

	device := s.Device
	if s.Model != "" {
		device += " (" + s.Model + ")"
	}
	row("job", s.JobID)
	row("device", device)
	row("capacity", sizeString(s.SizeBytes))
	row("writable", yesNo(s.Writable))
	row("removable", yesNo(s.Removable))
	row("image", s.Image)
	row("size", sizeString(s.ImageSize))
	if s.Format != "" {
		row("format", s.Format)
	}
	row("hostname", s.Hostname)
	if s.WiFiSSID != "" {
		row("wifi", s.WiFiSSID)
	}
	if !s.Removable {
		c.Warn("%s does not report itself as removable media", s.Device)
	}
}

// Confirm asks a yes/no question. Only "y" or "yes" confirm; end of input
// counts as no.
func (c *Console) Confirm(prompt string) (bool, error) {
	c.bold.Fprintf(c.out, "%s (yes/no): ", prompt)
	text, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	if err == io.EOF && text == "" {
		fmt.Fprintln(c.out)
		return false, nil
	}
	ans := strings.ToLower(strings.TrimSpace(text))
	return ans == "y" || ans == "yes", nil
}

func sizeString(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
