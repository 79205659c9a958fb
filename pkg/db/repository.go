package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/boxel-io/boxel-flash/pkg/errors"
	_ "modernc.org/sqlite"
)

var (
	// ErrJobNotFound is returned when an update names an unknown job.
	ErrJobNotFound = errors.New("flash job not found")
	// ErrDeviceBusy means another job is already transferring to the device.
	ErrDeviceBusy = errors.New("device is busy with another flash job")
)

const abandonedMessage = "abandoned: job stopped updating before reaching a terminal state"

const jobColumns = `id, input_path, image_path, image_sha256, device_path, hostname, wifi_ssid,
	status, total_bytes, bytes_written, error_message, created_at, updated_at`

// Repository provides database operations for flash jobs
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) timestamp() string {
	return r.now().UTC().Format(timeLayout)
}

func (r *Repository) cutoff(olderThan time.Duration) string {
	return r.now().Add(-olderThan).UTC().Format(timeLayout)
}

// Create inserts a new job record. CreatedAt and UpdatedAt are set from the
// repository clock.
func (r *Repository) Create(ctx context.Context, job *Job) error {
	slog.Info("database_create_job", "job_id", job.ID, "input", job.InputPath, "status", job.Status)

	if job.Status == "" {
		job.Status = StatusPending
	}
	ts := r.timestamp()

	query := `
		INSERT INTO flash_jobs (id, input_path, image_path, image_sha256, device_path, hostname, wifi_ssid,
		                        status, total_bytes, bytes_written, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.InputPath, job.ImagePath, job.ImageSHA256, job.DevicePath, job.Hostname, job.WiFiSSID,
		job.Status, job.TotalBytes, job.BytesWritten, job.ErrorMessage, ts, ts)
	if err != nil {
		slog.Error("database_insert_failed", "job_id", job.ID, "error", err)
		return errors.Wrap(err, "failed to insert flash job")
	}

	created, err := time.Parse(timeLayout, ts)
	if err != nil {
		return errors.Wrap(err, "failed to parse timestamp")
	}
	job.CreatedAt, job.UpdatedAt = created, created

	slog.Info("database_job_created", "job_id", job.ID, "status", job.Status)
	return nil
}

// Get retrieves a job by ID. It returns nil, nil when no such job exists.
func (r *Repository) Get(ctx context.Context, id string) (*Job, error) {
	slog.Debug("database_query_job", "job_id", id)

	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM flash_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		slog.Info("database_job_not_found", "job_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "job_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query flash job")
	}
	return job, nil
}

// UpdateStatus moves a job to status and records errorMessage.
func (r *Repository) UpdateStatus(ctx context.Context, id, status, errorMessage string) error {
	slog.Info("database_update_status", "job_id", id, "status", status)

	query := `UPDATE flash_jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "status", id, query, status, errorMessage, r.timestamp(), id)
}

// UpdateImage records the resolved local image for a job.
func (r *Repository) UpdateImage(ctx context.Context, id, imagePath, sha256 string, totalBytes int64) error {
	slog.Info("database_update_image", "job_id", id, "image", imagePath, "total_bytes", totalBytes)

	query := `UPDATE flash_jobs SET image_path = ?, image_sha256 = ?, total_bytes = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "image", id, query, imagePath, sha256, totalBytes, r.timestamp(), id)
}

// UpdateProgress records how many bytes of the image have reached the device.
func (r *Repository) UpdateProgress(ctx context.Context, id string, bytesWritten int64) error {
	slog.Debug("database_update_progress", "job_id", id, "bytes_written", bytesWritten)

	query := `UPDATE flash_jobs SET bytes_written = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "progress", id, query, bytesWritten, r.timestamp(), id)
}

// ClaimDevice moves the job to transferring on devicePath. It fails with
// ErrDeviceBusy while a different job is transferring to the same device.
// The check and the update are a single statement.
func (r *Repository) ClaimDevice(ctx context.Context, id, devicePath string) error {
	slog.Info("database_claim_device", "job_id", id, "device", devicePath)

	query := `
		UPDATE flash_jobs SET status = ?, device_path = ?, updated_at = ?
		WHERE id = ? AND NOT EXISTS (
			SELECT 1 FROM flash_jobs WHERE device_path = ? AND status = ? AND id != ?
		)
	`
	result, err := r.db.ExecContext(ctx, query,
		StatusTransferring, devicePath, r.timestamp(), id,
		devicePath, StatusTransferring, id)
	if err != nil {
		slog.Error("database_claim_failed", "job_id", id, "device", devicePath, "error", err)
		return errors.Wrap(err, "failed to claim device")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 1 {
		slog.Info("database_device_claimed", "job_id", id, "device", devicePath)
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: id=%s", ErrJobNotFound, id)
	}
	slog.Error("database_device_busy", "job_id", id, "device", devicePath)
	return fmt.Errorf("%w: %s", ErrDeviceBusy, devicePath)
}

// List retrieves the most recent jobs, newest first. limit <= 0 means all.
func (r *Repository) List(ctx context.Context, limit int) ([]*Job, error) {
	slog.Debug("database_list_jobs", "limit", limit)

	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + jobColumns + ` FROM flash_jobs ORDER BY created_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list flash jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		slog.Error("database_rows_error", "error", err)
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "job_count", len(jobs))
	return jobs, nil
}

// FailStale marks jobs that stopped updating more than olderThan ago without
// reaching a terminal state as failed. It returns the number of jobs changed.
func (r *Repository) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	slog.Info("database_fail_stale", "older_than", olderThan.String())

	query := `
		UPDATE flash_jobs SET status = ?, error_message = ?, updated_at = ?
		WHERE status NOT IN (?, ?) AND updated_at < ?
	`
	result, err := r.db.ExecContext(ctx, query,
		StatusFailed, abandonedMessage, r.timestamp(),
		StatusSucceeded, StatusFailed, r.cutoff(olderThan))
	if err != nil {
		slog.Error("database_fail_stale_failed", "error", err)
		return 0, errors.Wrap(err, "failed to fail stale jobs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	slog.Info("database_stale_jobs_failed", "count", n)
	return n, nil
}

// Prune deletes finished jobs last updated more than olderThan ago.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	slog.Info("database_prune", "older_than", olderThan.String())

	query := `DELETE FROM flash_jobs WHERE status IN (?, ?) AND updated_at < ?`
	result, err := r.db.ExecContext(ctx, query, StatusSucceeded, StatusFailed, r.cutoff(olderThan))
	if err != nil {
		slog.Error("database_prune_failed", "error", err)
		return 0, errors.Wrap(err, "failed to prune jobs")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	slog.Info("database_jobs_pruned", "count", n)
	return n, nil
}

// Delete deletes a job by ID
func (r *Repository) Delete(ctx context.Context, id string) error {
	slog.Info("database_delete_job", "job_id", id)

	if _, err := r.db.ExecContext(ctx, `DELETE FROM flash_jobs WHERE id = ?`, id); err != nil {
		slog.Error("database_delete_failed", "job_id", id, "error", err)
		return errors.Wrap(err, "failed to delete flash job")
	}

	slog.Info("database_job_deleted", "job_id", id)
	return nil
}

func (r *Repository) execOne(ctx context.Context, what, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("database_update_failed", "job_id", id, "field", what, "error", err)
		return errors.Wrapf(err, "failed to update %s", what)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		slog.Error("database_rows_affected_failed", "job_id", id, "error", err)
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_job_not_found_for_update", "job_id", id)
		return fmt.Errorf("%w: id=%s", ErrJobNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var createdAt, updatedAt string

	err := row.Scan(
		&job.ID, &job.InputPath, &job.ImagePath, &job.ImageSHA256, &job.DevicePath,
		&job.Hostname, &job.WiFiSSID, &job.Status, &job.TotalBytes, &job.BytesWritten,
		&job.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse created_at")
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse updated_at")
	}
	return &job, nil
}
