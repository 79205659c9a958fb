package fsm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/boxel-io/boxel-flash/pkg/db"
	"github.com/boxel-io/boxel-flash/pkg/device"
	"github.com/boxel-io/boxel-flash/pkg/image"
	"github.com/boxel-io/boxel-flash/pkg/transfer"
)

// FlashRequest is the FSM input. Everything else about the job, including
// the WiFi passphrase, stays in the in-memory Job so it is never persisted.
type FlashRequest struct {
	JobID string
}

// FlashResponse is the FSM output (accumulated across transitions)
type FlashResponse struct {
	State        string
	DevicePath   string
	BytesWritten int64
}

// Transition names
const (
	StepResolve  = "resolve"
	StepValidate = "validate"
	StepConfirm  = "confirm"
	StepTransfer = "transfer"
	StepComplete = "complete"
	StepFailed   = "failed"
)

// State is the lifecycle position of a Job. The values double as job
// history statuses.
type State string

const (
	StatePending      State = db.StatusPending
	StateResolving    State = db.StatusResolving
	StateValidating   State = db.StatusValidating
	StateConfirming   State = db.StatusConfirming
	StateTransferring State = db.StatusTransferring
	StateSucceeded    State = db.StatusSucceeded
	StateFailed       State = db.StatusFailed
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Options are the operator inputs of one flash.
type Options struct {
	// Input is a local image path or an s3://bucket/key URI.
	Input string
	// Device is an explicit target; empty means auto-detect.
	Device string
	// Output is where a remote image is downloaded to.
	Output         string
	Hostname       string
	WiFiSSID       string
	WiFiPassphrase string
	// Confirm requires the operator to answer yes before writing.
	Confirm bool
}

// Job is one flash invocation. It is safe for concurrent use.
type Job struct {
	ID   string
	opts Options

	// ctx is the operator's context; cancelling it interrupts the job.
	ctx context.Context

	mu     sync.Mutex
	state  State
	err    error
	target device.TargetDevice
	image  *image.Handle
	sha256 string
	result transfer.Result
}

// NewJob creates a pending job.
func NewJob(id string, opts Options) *Job {
	return &Job{ID: id, opts: opts, state: StatePending, ctx: context.Background()}
}

// Options returns the job inputs.
func (j *Job) Options() Options {
	return j.opts
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure reason, nil unless the job failed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Target returns the resolved device.
func (j *Job) Target() device.TargetDevice {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.target
}

// Result returns the transfer outcome.
func (j *Job) Result() transfer.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

func (j *Job) advance(s State) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = s
	return true
}

// finish sets the terminal state once. Later attempts are logged and ignored.
func (j *Job) finish(s State, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		slog.Warn("flash_job_terminal_state_ignored",
			"job_id", j.ID, "state", j.state, "attempted", s, "error", err)
		return false
	}
	j.state = s
	j.err = err
	return true
}

func (j *Job) resolved(target device.TargetDevice, h *image.Handle, sha string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.target = target
	j.image = h
	j.sha256 = sha
}

func (j *Job) imageHandle() *image.Handle {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.image
}

func (j *Job) setResult(r transfer.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = r
}

func (j *Job) releaseImage() {
	j.mu.Lock()
	h := j.image
	j.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (j *Job) record() *db.Job {
	return &db.Job{
		ID:         j.ID,
		InputPath:  j.opts.Input,
		DevicePath: j.opts.Device,
		Hostname:   j.opts.Hostname,
		WiFiSSID:   j.opts.WiFiSSID,
		Status:     string(StatePending),
		TotalBytes: -1,
	}
}
