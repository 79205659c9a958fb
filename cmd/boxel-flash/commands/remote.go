package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/image"
	"github.com/boxel-io/boxel-flash/pkg/security"
	"github.com/boxel-io/boxel-flash/pkg/storage"
)

var (
	remoteFormat string
	remoteCheck  bool
)

var remoteCmd = &cobra.Command{
	Use:   "remote <s3://bucket/prefix>",
	Short: "List images available in an S3 bucket",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemote,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.Flags().StringVarP(&remoteFormat, "output", "o", formatTable, "Output format: table, json, yaml")
	remoteCmd.Flags().BoolVar(&remoteCheck, "check", false, "Only check that the exact object exists")
}

func runRemote(cmd *cobra.Command, args []string) error {
	if err := checkFormat(remoteFormat); err != nil {
		return err
	}
	if !storage.IsRemote(args[0]) {
		return fmt.Errorf("%w: %q is not an s3:// URI", security.ErrInvalidOption, args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := storage.NewClient(cmd.Context(), cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	if remoteCheck {
		ok, err := client.Exists(cmd.Context(), args[0])
		if err != nil {
			return errors.Wrap(err, "remote check failed")
		}
		if !ok {
			return fmt.Errorf("%w: %s", image.ErrNotFound, args[0])
		}
		fmt.Printf("%s exists\n", args[0])
		return nil
	}

	objects, err := client.ListObjects(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrap(err, "remote listing failed")
	}

	if remoteFormat != formatTable {
		return writeStructured(os.Stdout, remoteFormat, objects)
	}
	if len(objects) == 0 {
		fmt.Println("No images found")
		return nil
	}
	fmt.Printf("%-10s %s\n", "SIZE", "URI")
	for _, obj := range objects {
		fmt.Printf("%-10s %s\n", humanize.IBytes(uint64(obj.Size)), obj.URI)
	}
	return nil
}
