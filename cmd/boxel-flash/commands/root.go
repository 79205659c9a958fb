package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/boxel-io/boxel-flash/pkg/console"
	appfsm "github.com/boxel-io/boxel-flash/pkg/fsm"
	"github.com/boxel-io/boxel-flash/pkg/security"
)

// version is set at build time with -ldflags "-X .../commands.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "boxel-flash",
	Short:         "Write Boxel OS images onto SD cards",
	Long:          `Flashes a raw, gzip, xz or 7z disk image (local or s3://) onto a removable device with progress reporting and safety checks.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"))
	},
}

// Execute runs the CLI and exits with the code matching the failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// reportError prints the failure for the operator and returns the exit code.
func reportError(w io.Writer, err error) int {
	console.New(w, nil).Error("Error: %v", err)
	return appfsm.ExitCode(err)
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", security.ErrInvalidOption, err)
	})

	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/flash.db", "SQLite job history path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM BoltDB directory")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for s3:// images")
	rootCmd.PersistentFlags().Int("chunk-size", 1024*1024, "Transfer chunk size in bytes")
	rootCmd.PersistentFlags().Int("buffer-chunks", 4, "Chunks buffered between reader and writer")
	rootCmd.PersistentFlags().String("writer", "direct", "Device writer: direct or dd")
	rootCmd.PersistentFlags().String("inventory", "lsblk", "Device inventory: lsblk or sysfs")
	rootCmd.PersistentFlags().StringSlice("partition-schemes", []string{"dos"}, "Partition schemes accepted on auto-detected devices")
	rootCmd.PersistentFlags().Int64("max-image-size", 128*1024*1024*1024, "Max image size in bytes")
	rootCmd.PersistentFlags().Float64("max-compression-ratio", 100.0, "Max compression ratio for archives")
	rootCmd.PersistentFlags().Int("progress-step", 10, "Percent between progress log lines")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "s3-region", "chunk-size", "buffer-chunks", "writer",
		"inventory", "partition-schemes", "max-image-size", "max-compression-ratio",
		"progress-step", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}
