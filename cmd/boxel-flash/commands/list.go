package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/boxel-io/boxel-flash/pkg/db"
	"github.com/boxel-io/boxel-flash/pkg/errors"
)

var (
	listFormat string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list [job-id]",
	Short: "List flash jobs and their status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "output", "o", formatTable, "Output format: table, json, yaml")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Show at most this many jobs (0 for all)")
}

func runList(cmd *cobra.Command, args []string) error {
	if err := checkFormat(listFormat); err != nil {
		return err
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

	var jobs []*db.Job
	if len(args) == 1 {
		job, err := repo.Get(cmd.Context(), args[0])
		if err != nil {
			return errors.Wrap(err, "job lookup failed")
		}
		if job == nil {
			return fmt.Errorf("flash job %s not found", args[0])
		}
		jobs = append(jobs, job)
	} else {
		jobs, err = repo.List(cmd.Context(), listLimit)
		if err != nil {
			return errors.Wrap(err, "list failed")
		}
	}

	if listFormat != formatTable {
		return writeStructured(os.Stdout, listFormat, jobs)
	}
	printJobs(os.Stdout, jobs)
	return nil
}

func printJobs(w io.Writer, jobs []*db.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No flash jobs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-12s %-20s %-16s %-20s %s\n", "JOB", "STATUS", "STARTED", "DEVICE", "PROGRESS", "INPUT")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, j := range jobs {
		fmt.Fprintf(w, "%-36s %-12s %-20s %-16s %-20s %s\n",
			j.ID, j.Status, j.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			dash(j.DevicePath), jobProgress(j), j.InputPath)
		if j.ErrorMessage != "" {
			fmt.Fprintf(w, "    error: %s\n", j.ErrorMessage)
		}
	}
}

func jobProgress(j *db.Job) string {
	written := humanize.IBytes(uint64(j.BytesWritten))
	if j.TotalBytes <= 0 {
		return written
	}
	return fmt.Sprintf("%s/%s", written, humanize.IBytes(uint64(j.TotalBytes)))
}
