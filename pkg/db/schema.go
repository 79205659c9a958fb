package db

import "time"

// Schema defines the SQLite schema for the flash job history.
// Timestamps are stored as UTC text in timeLayout so they compare lexically.
const Schema = `
CREATE TABLE IF NOT EXISTS flash_jobs (
    id TEXT PRIMARY KEY,
    input_path TEXT NOT NULL,
    image_path TEXT NOT NULL DEFAULT '',
    image_sha256 TEXT NOT NULL DEFAULT '',
    device_path TEXT NOT NULL DEFAULT '',
    hostname TEXT NOT NULL,
    wifi_ssid TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK(status IN ('pending', 'resolving', 'validating', 'confirming', 'transferring', 'succeeded', 'failed')),
    total_bytes INTEGER NOT NULL DEFAULT -1,
    bytes_written INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flash_jobs_status ON flash_jobs(status);
CREATE INDEX IF NOT EXISTS idx_flash_jobs_device ON flash_jobs(device_path, status);
CREATE INDEX IF NOT EXISTS idx_flash_jobs_created_at ON flash_jobs(created_at);
`

const timeLayout = "2006-01-02 15:04:05.000"

// Status constants
const (
	StatusPending      = "pending"
	StatusResolving    = "resolving"
	StatusValidating   = "validating"
	StatusConfirming   = "confirming"
	StatusTransferring = "transferring"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
)

// IsTerminal reports whether a job in status can still change.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Job is one flash attempt. The WiFi passphrase is never persisted.
type Job struct {
	ID           string    `json:"id" yaml:"id"`
	InputPath    string    `json:"input_path" yaml:"input_path"`
	ImagePath    string    `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	ImageSHA256  string    `json:"image_sha256,omitempty" yaml:"image_sha256,omitempty"`
	DevicePath   string    `json:"device_path,omitempty" yaml:"device_path,omitempty"`
	Hostname     string    `json:"hostname" yaml:"hostname"`
	WiFiSSID     string    `json:"wifi_ssid,omitempty" yaml:"wifi_ssid,omitempty"`
	Status       string    `json:"status" yaml:"status"`
	TotalBytes   int64     `json:"total_bytes" yaml:"total_bytes"`
	BytesWritten int64     `json:"bytes_written" yaml:"bytes_written"`
	ErrorMessage string    `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}
