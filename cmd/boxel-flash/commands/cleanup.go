package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/boxel-io/boxel-flash/pkg/console"
	"github.com/boxel-io/boxel-flash/pkg/db"
	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/security"
)

var (
	cleanupStale time.Duration
	cleanupPrune time.Duration
	cleanupJob   string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up the flash job history",
	Long: `Clean up the flash job history:
  --stale <duration>   Mark jobs that stopped updating without finishing as failed
  --prune <duration>   Delete finished jobs older than the duration
  --job <id>           Delete one finished job`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().DurationVar(&cleanupStale, "stale", 0, "Fail unfinished jobs idle for longer than this")
	cleanupCmd.Flags().DurationVar(&cleanupPrune, "prune", 0, "Delete finished jobs older than this")
	cleanupCmd.Flags().StringVar(&cleanupJob, "job", "", "Delete the finished job with this ID")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupStale <= 0 && cleanupPrune <= 0 && cleanupJob == "" {
		return fmt.Errorf("%w: must specify --stale, --prune or --job", security.ErrInvalidOption)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	con := console.New(os.Stdout, os.Stdin)
	ctx := cmd.Context()

	if cleanupStale > 0 {
		n, err := repo.FailStale(ctx, cleanupStale)
		if err != nil {
			return errors.Wrap(err, "stale cleanup failed")
		}
		con.Info("Marked %d abandoned jobs as failed", n)
	}

	if cleanupPrune > 0 {
		n, err := repo.Prune(ctx, cleanupPrune)
		if err != nil {
			return errors.Wrap(err, "prune failed")
		}
		con.Info("Deleted %d finished jobs", n)
	}

	if cleanupJob != "" {
		job, err := repo.Get(ctx, cleanupJob)
		if err != nil {
			return errors.Wrap(err, "job lookup failed")
		}
		if job == nil {
			return fmt.Errorf("flash job %s not found", cleanupJob)
		}
		if !db.IsTerminal(job.Status) {
			return fmt.Errorf("%w: flash job %s is still %s", security.ErrInvalidOption, job.ID, job.Status)
		}
		if err := repo.Delete(ctx, job.ID); err != nil {
			return errors.Wrap(err, "delete failed")
		}
		con.Info("Deleted flash job %s", job.ID)
	}

	return nil
}
