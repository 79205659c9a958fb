package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/superfly/fsm"

	"github.com/boxel-io/boxel-flash/internal/config"
	"github.com/boxel-io/boxel-flash/pkg/blockdev"
	"github.com/boxel-io/boxel-flash/pkg/console"
	"github.com/boxel-io/boxel-flash/pkg/device"
	"github.com/boxel-io/boxel-flash/pkg/errors"
	appfsm "github.com/boxel-io/boxel-flash/pkg/fsm"
	"github.com/boxel-io/boxel-flash/pkg/image"
	"github.com/boxel-io/boxel-flash/pkg/progress"
	"github.com/boxel-io/boxel-flash/pkg/security"
	"github.com/boxel-io/boxel-flash/pkg/storage"
	"github.com/boxel-io/boxel-flash/pkg/transfer"
)

var flashOpts appfsm.Options

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Write an image onto a removable device",
	Long: `Write an image onto a removable device.

Without --device exactly one removable disk with a recognized partition
table must be attached. --device also accepts an existing regular file,
which is written in place.`,
	Args: cobra.NoArgs,
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&flashOpts.Input, "input", "i", "", "Image path or s3://bucket/key URI")
	flashCmd.Flags().StringVarP(&flashOpts.Device, "device", "d", "", "Target device (default: auto-detect)")
	flashCmd.Flags().StringVar(&flashOpts.Hostname, "hostname", "boxel", "Hostname for the flashed system")
	flashCmd.Flags().StringVarP(&flashOpts.Output, "output", "o", "", "Download path for s3:// images (default boxel-<date>.img)")
	flashCmd.Flags().StringVar(&flashOpts.WiFiSSID, "wifi-ssid", "", "WiFi network name")
	flashCmd.Flags().StringVar(&flashOpts.WiFiPassphrase, "wifi-passphrase", "", "WiFi passphrase")
	flashCmd.Flags().BoolVar(&flashOpts.Confirm, "confirm", false, "Ask before writing to the device")
	flashCmd.Flags().SetNormalizeFunc(flashFlagAliases)
}

// flashFlagAliases also accepts --input-file and --output-file.
func flashFlagAliases(f *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "input-file":
		name = "input"
	case "output-file":
		name = "output"
	}
	return pflag.NormalizedName(name)
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := flashOpts
	if opts.Input == "" {
		return fmt.Errorf("%w: --input is required", security.ErrInvalidOption)
	}
	if opts.Output == "" {
		opts.Output = defaultOutputFile(time.Now())
	}

	outputDir := ""
	if storage.IsRemote(opts.Input) {
		outputDir = opts.Output
	}
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, outputDir); err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	osFs := afero.NewOsFs()
	validator := security.NewValidator(cfg.MaxImageSize, cfg.MaxCompressionRatio)

	resolver, bdManager, err := deviceBackend(cfg, osFs, opts.Device)
	if err != nil {
		return err
	}
	defer bdManager.Close()

	var targets transfer.Targets = bdManager
	if cfg.Writer == config.WriterDD {
		targets = transfer.NewProcessTargets(bdManager, cfg.ChunkSize)
	}
	engine := transfer.New(targets,
		transfer.WithChunkSize(cfg.ChunkSize),
		transfer.WithBufferChunks(cfg.BufferChunks))

	var fetcher appfsm.Fetcher
	if storage.IsRemote(opts.Input) {
		s3Client, err := storage.NewClient(ctx, cfg.S3Region)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		fetcher = s3Client
	}

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(appfsm.Deps{
		Store:     repo,
		Devices:   resolver,
		Images:    image.NewSource(osFs, validator),
		Fetcher:   fetcher,
		Validator: validator,
		Engine:    engine,
		Reporter:  console.New(os.Stdout, os.Stdin),
		Progress: func(total int64) *progress.Monitor {
			return progress.New(total, progress.NewRenderer(os.Stderr, total, cfg.ProgressStep, "flashing"))
		},
	})
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	job := appfsm.NewJob(uuid.NewString(), opts)
	if err := machine.Execute(ctx, start, manager, job); err != nil {
		return errors.Wrapf(err, "flash job %s failed", job.ID)
	}

	slog.Info("flash_completed", "job_id", job.ID, "device", job.Target().Path, "bytes", job.Result().BytesWritten)
	return nil
}

// deviceBackend picks how the target is found and written: a regular file
// passed as --device is written through the filesystem, anything else is a
// block device found through the configured inventory.
func deviceBackend(cfg *config.Config, fs afero.Fs, devicePath string) (appfsm.DeviceResolver, blockdev.Manager, error) {
	if devicePath != "" && device.IsRegularFile(fs, devicePath) {
		slog.Info("file_target_selected", "path", devicePath)
		return device.NewFileResolver(fs, devicePath), blockdev.NewFileManager(fs), nil
	}

	var inventory device.Inventory
	switch cfg.Inventory {
	case config.InventorySysfs:
		inventory = device.NewSysfsInventory(fs)
	default:
		inventory = device.NewLsblkInventory()
	}

	bdManager, err := blockdev.NewManager()
	if err != nil {
		return nil, nil, errors.Wrap(err, "block device manager unavailable")
	}
	return device.NewResolver(inventory, cfg.PartitionSchemes), bdManager, nil
}
