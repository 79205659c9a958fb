package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boxel-io/boxel-flash/internal/config"
	"github.com/boxel-io/boxel-flash/pkg/db"
	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/security"
)

// Output formats for the listing commands
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ensureDirectories creates the parent directories the command writes into
func ensureDirectories(sqlitePath, fsmDBPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// FSM database directory (only needed for flash)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Download directory (only needed for s3:// inputs)
	if outputPath != "" {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}

	return nil
}

// defaultOutputFile names the image file a remote image is downloaded to,
// dated in UTC.
func defaultOutputFile(now time.Time) string {
	return fmt.Sprintf("boxel-%s.img", now.UTC().Format("2006-01-02"))
}

// setupLogging replaces the default logger with one at the given level.
func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("%w: log-level %q", security.ErrInvalidOption, level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// loadConfig loads and validates configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", security.ErrInvalidOption, err)
	}
	return cfg, nil
}

// openRepository opens the job history, creating its directory first
func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// checkFormat rejects unknown --output values
func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("%w: output format must be %s, %s or %s, got %q",
		security.ErrInvalidOption, formatTable, formatJSON, formatYAML, format)
}

// writeStructured encodes v as JSON or YAML
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return checkFormat(format)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
