package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/boxel-io/boxel-flash/pkg/db"
	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/security"
)

func TestDefaultOutputFile(t *testing.T) {
	tests := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC), "boxel-2025-03-07.img"},
		{time.Date(2025, 3, 7, 21, 30, 0, 0, time.FixedZone("EST", -5*3600)), "boxel-2025-03-08.img"},
		{time.Date(2025, 3, 8, 1, 0, 0, 0, time.FixedZone("CET", 3600)), "boxel-2025-03-08.img"},
	}

	for _, tt := range tests {
		if got := defaultOutputFile(tt.now); got != tt.want {
			t.Errorf("defaultOutputFile(%v) = %q, want %q", tt.now, got, tt.want)
		}
	}
}

func TestFlashFlagAliases(t *testing.T) {
	var input, output string
	fs := pflag.NewFlagSet("flash", pflag.ContinueOnError)
	fs.StringVarP(&input, "input", "i", "", "")
	fs.StringVarP(&output, "output", "o", "", "")
	fs.SetNormalizeFunc(flashFlagAliases)

	if err := fs.Parse([]string{"--input-file", "boxel.img.xz", "--output-file", "/tmp/boxel.img"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if input != "boxel.img.xz" || output != "/tmp/boxel.img" {
		t.Errorf("input = %q, output = %q", input, output)
	}

	if f := flashCmd.Flags().Lookup("input-file"); f == nil || f.Name != "input" {
		t.Error("flash command does not accept --input-file")
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	sqlitePath := filepath.Join(root, "state", "flash.db")
	fsmPath := filepath.Join(root, "state", "fsm")
	outputPath := filepath.Join(root, "downloads", "boxel.img")

	if err := ensureDirectories(sqlitePath, fsmPath, outputPath); err != nil {
		t.Fatalf("ensureDirectories: %v", err)
	}

	for _, dir := range []string{filepath.Dir(sqlitePath), fsmPath, filepath.Dir(outputPath)} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
	if _, err := os.Stat(outputPath); !os.IsNotExist(err) {
		t.Errorf("output file itself should not be created, stat err = %v", err)
	}
}

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{formatTable, false},
		{formatJSON, false},
		{formatYAML, false},
		{"csv", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			err := checkFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkFormat(%q) = %v, wantErr %v", tt.format, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, security.ErrInvalidOption) {
				t.Errorf("error %v does not wrap ErrInvalidOption", err)
			}
		})
	}
}

func TestWriteStructured(t *testing.T) {
	jobs := []*db.Job{{
		ID:         "job-1",
		InputPath:  "boxel.img",
		DevicePath: "/dev/sdb",
		Status:     db.StatusSucceeded,
		TotalBytes: 1024,
	}}

	var jsonOut bytes.Buffer
	if err := writeStructured(&jsonOut, formatJSON, jobs); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(jsonOut.Bytes(), &decoded); err != nil {
		t.Fatalf("json output does not parse: %v\n%s", err, jsonOut.String())
	}
	if len(decoded) != 1 || decoded[0]["device_path"] != "/dev/sdb" {
		t.Errorf("unexpected json: %s", jsonOut.String())
	}

	var yamlOut bytes.Buffer
	if err := writeStructured(&yamlOut, formatYAML, jobs); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(yamlOut.String(), "status: succeeded") {
		t.Errorf("unexpected yaml:\n%s", yamlOut.String())
	}

	if err := writeStructured(&bytes.Buffer{}, "xml", jobs); !errors.Is(err, security.ErrInvalidOption) {
		t.Errorf("xml: err = %v, want ErrInvalidOption", err)
	}
}

func TestSetupLogging(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		if err := setupLogging(level); err != nil {
			t.Errorf("setupLogging(%q): %v", level, err)
		}
	}
	if err := setupLogging("loud"); !errors.Is(err, security.ErrInvalidOption) {
		t.Errorf("setupLogging(loud) = %v, want ErrInvalidOption", err)
	}
}

func TestPrintJobs(t *testing.T) {
	var out bytes.Buffer
	printJobs(&out, nil)
	if !strings.Contains(out.String(), "No flash jobs found") {
		t.Errorf("empty listing = %q", out.String())
	}

	out.Reset()
	printJobs(&out, []*db.Job{{
		ID:           "job-1",
		InputPath:    "boxel.img",
		Status:       db.StatusFailed,
		TotalBytes:   2048,
		BytesWritten: 1024,
		ErrorMessage: "write failed",
		CreatedAt:    time.Now(),
	}})
	for _, want := range []string{"job-1", "failed", "1.0 KiB/2.0 KiB", "error: write failed", " - "} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("listing missing %q:\n%s", want, out.String())
		}
	}
}

func TestReportError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: --input is required", security.ErrInvalidOption), 5},
		{errors.New("boom"), 1},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		if code := reportError(&out, tt.err); code != tt.want {
			t.Errorf("reportError(%v) = %d, want %d", tt.err, code, tt.want)
		}
		if !strings.Contains(out.String(), "Error: "+tt.err.Error()) {
			t.Errorf("operator output = %q", out.String())
		}
	}
}
