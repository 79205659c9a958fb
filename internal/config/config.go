package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Inventory backends
const (
	InventoryLsblk = "lsblk"
	InventorySysfs = "sysfs"
)

// Writer backends
const (
	WriterDirect = "direct"
	WriterDD     = "dd"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// S3 configuration for s3:// image inputs
	S3Region string `mapstructure:"s3-region"`

	// Transfer tuning
	ChunkSize    int    `mapstructure:"chunk-size"`
	BufferChunks int    `mapstructure:"buffer-chunks"`
	Writer       string `mapstructure:"writer"`

	// Device discovery
	Inventory        string   `mapstructure:"inventory"`
	PartitionSchemes []string `mapstructure:"partition-schemes"`

	// Image limits
	MaxImageSize        int64   `mapstructure:"max-image-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`

	// Operator output
	ProgressStep int    `mapstructure:"progress-step"`
	LogLevel     string `mapstructure:"log-level"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	viper.SetDefault("sqlite-path", ".artifacts/flash.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("chunk-size", 1024*1024)
	viper.SetDefault("buffer-chunks", 4)
	viper.SetDefault("writer", WriterDirect)
	viper.SetDefault("inventory", InventoryLsblk)
	viper.SetDefault("partition-schemes", []string{"dos"})
	viper.SetDefault("max-image-size", int64(128)*1024*1024*1024)
	viper.SetDefault("max-compression-ratio", 100.0)
	viper.SetDefault("progress-step", 10)
	viper.SetDefault("log-level", "info")

	// Environment variables (BOXEL_SQLITE_PATH, BOXEL_CHUNK_SIZE, ...)
	viper.SetEnvPrefix("BOXEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.boxel")

	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be positive")
	}
	if c.BufferChunks <= 0 {
		return fmt.Errorf("buffer-chunks must be positive")
	}
	switch c.Writer {
	case WriterDirect, WriterDD:
	default:
		return fmt.Errorf("writer must be %q or %q, got %q", WriterDirect, WriterDD, c.Writer)
	}
	switch c.Inventory {
	case InventoryLsblk, InventorySysfs:
	default:
		return fmt.Errorf("inventory must be %q or %q, got %q", InventoryLsblk, InventorySysfs, c.Inventory)
	}
	if len(c.PartitionSchemes) == 0 {
		return fmt.Errorf("partition-schemes cannot be empty")
	}
	if c.MaxImageSize <= 0 {
		return fmt.Errorf("max-image-size must be positive")
	}
	if c.MaxCompressionRatio <= 0 {
		return fmt.Errorf("max-compression-ratio must be positive")
	}
	if c.ProgressStep <= 0 || c.ProgressStep > 100 {
		return fmt.Errorf("progress-step must be between 1 and 100")
	}
	return nil
}
