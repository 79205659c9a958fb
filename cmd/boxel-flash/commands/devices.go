package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/boxel-io/boxel-flash/internal/config"
	"github.com/boxel-io/boxel-flash/pkg/device"
	"github.com/boxel-io/boxel-flash/pkg/errors"
)

var devicesFormat string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List disks and mark the ones flash would pick",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().StringVarP(&devicesFormat, "output", "o", formatTable, "Output format: table, json, yaml")
}

func runDevices(cmd *cobra.Command, args []string) error {
	if err := checkFormat(devicesFormat); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var inventory device.Inventory = device.NewLsblkInventory()
	if cfg.Inventory == config.InventorySysfs {
		inventory = device.NewSysfsInventory(afero.NewOsFs())
	}

	candidates, err := device.NewResolver(inventory, cfg.PartitionSchemes).Candidates(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "device listing failed")
	}

	if devicesFormat != formatTable {
		return writeStructured(os.Stdout, devicesFormat, candidates)
	}
	printDevices(os.Stdout, candidates)
	return nil
}

func printDevices(w io.Writer, candidates []device.Candidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No disks found")
		return
	}

	fmt.Fprintf(w, "%-3s %-16s %-10s %-4s %-4s %-6s %-6s %-24s %s\n",
		"", "DEVICE", "SIZE", "RO", "RM", "TRAN", "TABLE", "MODEL", "NOTE")
	fmt.Fprintln(w, strings.Repeat("-", 96))

	for _, c := range candidates {
		mark := ""
		if c.Eligible {
			mark = "*"
		}
		fmt.Fprintf(w, "%-3s %-16s %-10s %-4s %-4s %-6s %-6s %-24s %s\n",
			mark, c.Path, humanize.IBytes(uint64(max(c.SizeBytes, 0))),
			bit(c.ReadOnly), bit(c.Removable), dash(c.Transport), dash(c.PartitionScheme),
			dash(c.Model), dash(c.Reason))
	}
}

func bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
