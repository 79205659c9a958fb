// Package fsm implements the flash job workflow. It resolves the target device
// and the image, validates and confirms the pair, then streams the image onto
// the device, using the superfly/fsm library to sequence the steps.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/superfly/fsm"

	"github.com/boxel-io/boxel-flash/pkg/console"
	"github.com/boxel-io/boxel-flash/pkg/db"
	"github.com/boxel-io/boxel-flash/pkg/device"
	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/image"
	"github.com/boxel-io/boxel-flash/pkg/progress"
	"github.com/boxel-io/boxel-flash/pkg/security"
	"github.com/boxel-io/boxel-flash/pkg/storage"
	"github.com/boxel-io/boxel-flash/pkg/transfer"
)

var (
	// ErrNotWritable means the resolved device is read-only.
	ErrNotWritable = errors.New("device not writable")
	// ErrAborted means the operator declined or interrupted the confirmation.
	ErrAborted = errors.New("aborted by operator")
	// ErrDeviceBusy means another job is writing to the same device.
	ErrDeviceBusy = db.ErrDeviceBusy
	// ErrImageTooLarge means the image exceeds the size ceiling or the device.
	ErrImageTooLarge = security.ErrImageTooLarge
)

// Exit codes reported by the CLI.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitNotFound   = 2
	ExitReadOnly   = 3
	ExitResolution = 4
	ExitValidation = 5
	ExitAborted    = 6
)

// ExitCode maps a job error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrAborted):
		return ExitAborted
	case errors.Is(err, image.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrNotWritable):
		return ExitReadOnly
	case errors.Is(err, device.ErrNoDeviceFound), errors.Is(err, device.ErrQueryFailed):
		return ExitResolution
	case errors.Is(err, ErrImageTooLarge), errors.Is(err, security.ErrCompressionRatio),
		errors.Is(err, ErrDeviceBusy), errors.Is(err, security.ErrInvalidOption):
		return ExitValidation
	default:
		return ExitFailure
	}
}

// DeviceResolver finds the target device, automatically or by path.
type DeviceResolver interface {
	Resolve(ctx context.Context) (device.TargetDevice, error)
	Lookup(ctx context.Context, path string) (device.TargetDevice, error)
}

// ImageOpener opens local images.
type ImageOpener interface {
	Open(path string) (*image.Handle, error)
}

// Fetcher downloads remote images.
type Fetcher interface {
	Download(ctx context.Context, uri, localPath string) (*storage.DownloadResult, error)
}

// Flasher writes an image onto a device.
type Flasher interface {
	Flash(ctx context.Context, src transfer.Source, target device.TargetDevice, obs transfer.Observer) (transfer.Result, error)
}

// Reporter is the operator console.
type Reporter interface {
	Summary(s console.Summary)
	Confirm(prompt string) (bool, error)
	Info(format string, a ...any)
}

// JobStore records job history.
type JobStore interface {
	Create(ctx context.Context, job *db.Job) error
	UpdateStatus(ctx context.Context, id, status, errorMessage string) error
	UpdateImage(ctx context.Context, id, imagePath, sha256 string, totalBytes int64) error
	UpdateProgress(ctx context.Context, id string, bytesWritten int64) error
	ClaimDevice(ctx context.Context, id, devicePath string) error
}

// Deps are the collaborators of the flash workflow.
type Deps struct {
	Store     JobStore
	Devices   DeviceResolver
	Images    ImageOpener
	Fetcher   Fetcher // nil disables s3:// inputs
	Validator *security.Validator
	Engine    Flasher
	Reporter  Reporter
	// Progress builds the monitor for one transfer; nil logs every 10%.
	Progress func(total int64) *progress.Monitor
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	deps Deps

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(deps Deps) *Machine {
	if deps.Progress == nil {
		deps.Progress = func(total int64) *progress.Monitor {
			return progress.New(total, progress.NewLogRenderer(slog.Default(), 10))
		}
	}
	return &Machine{deps: deps, jobs: make(map[string]*Job)}
}

// Register registers the flash FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[FlashRequest, FlashResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[FlashRequest, FlashResponse](manager, "flash").
		Start(StepResolve, m.handleResolve).
		To(StepValidate, m.handleValidate).
		To(StepConfirm, m.handleConfirm).
		To(StepTransfer, m.handleTransfer).
		To(StepComplete, m.handleComplete).
		End(StepFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Execute records the job, runs it through the registered machine and waits
// for a terminal state. ctx belongs to the operator: cancelling it interrupts
// the job, which then ends failed. The returned error is the job's failure.
func (m *Machine) Execute(ctx context.Context, start fsm.Start[FlashRequest, FlashResponse], manager *fsm.Manager, job *Job) error {
	job.ctx = ctx
	m.track(job)
	defer m.untrack(job.ID)

	if err := m.deps.Store.Create(ctx, job.record()); err != nil {
		job.finish(StateFailed, err)
		return errors.Wrap(err, "failed to record flash job")
	}

	slog.Info("flash_job_started", "job_id", job.ID, "input", job.opts.Input, "device", job.opts.Device)

	version, err := start(ctx, job.ID, fsm.NewRequest(&FlashRequest{JobID: job.ID}, &FlashResponse{}))
	if err != nil {
		m.fail(ctx, job, errors.Wrap(err, "failed to start flash job"))
		return job.Err()
	}

	// The run is awaited even after an interrupt so the device is closed
	// before returning.
	waitErr := manager.Wait(context.WithoutCancel(ctx), version)
	if waitErr != nil {
		slog.Debug("fsm_wait_returned", "job_id", job.ID, "error", waitErr)
	}

	if st := job.State(); !st.Terminal() {
		cause := waitErr
		if cause == nil {
			cause = fmt.Errorf("flash job stopped in state %s", st)
		}
		m.fail(ctx, job, cause)
	}
	return job.Err()
}

func (m *Machine) track(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *Machine) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

func (m *Machine) lookup(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// begin loads the job for a transition and moves it to state. Runs this
// process did not start and fsm retries are aborted; no step is ever repeated.
func (m *Machine) begin(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse], state State) (*Job, error) {
	job := m.lookup(req.Msg.JobID)
	if job == nil {
		slog.Error("flash_job_unknown", "job_id", req.Msg.JobID, "state", state)
		return nil, fsm.Abort(fmt.Errorf("flash job %s is not running in this process", req.Msg.JobID))
	}

	if retry := fsm.RetryFromContext(ctx); retry > 0 {
		slog.Error("flash_step_retry_refused", "job_id", job.ID, "state", state, "retry", retry)
		return nil, m.fail(ctx, job, fmt.Errorf("%s step failed and flash steps are never retried", state))
	}

	if !job.advance(state) {
		return nil, fsm.Abort(fmt.Errorf("flash job %s already finished", job.ID))
	}
	slog.Info("fsm_state_"+string(state), "job_id", job.ID)

	if err := m.deps.Store.UpdateStatus(ctx, job.ID, string(state), ""); err != nil {
		slog.Error("status_update_failed", "job_id", job.ID, "status", state, "error", err)
		return nil, m.fail(ctx, job, errors.Wrap(err, "failed to update job status"))
	}
	return job, nil
}

// fail moves the job to failed, records the reason and returns the abort
// error for the FSM.
func (m *Machine) fail(ctx context.Context, job *Job, err error) error {
	if job.finish(StateFailed, err) {
		slog.Error("flash_job_failed",
			"job_id", job.ID,
			"input", job.opts.Input,
			"device", job.Target().Path,
			"error", err)
		if uerr := m.deps.Store.UpdateStatus(context.WithoutCancel(ctx), job.ID, string(StateFailed), err.Error()); uerr != nil {
			slog.Error("status_update_failed", "job_id", job.ID, "status", StateFailed, "error", uerr)
		}
	}
	job.releaseImage()
	return fsm.Abort(err)
}

func response(req *fsm.Request[FlashRequest, FlashResponse], job *Job) *fsm.Response[FlashResponse] {
	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}
	resp.State = string(job.State())
	resp.DevicePath = job.Target().Path
	resp.BytesWritten = job.Result().BytesWritten
	return fsm.NewResponse(resp)
}

// persistInterval is how often transfer progress is written to the job history.
const persistInterval = 64 * 1024 * 1024

// historyObserver feeds the progress monitor and periodically records the
// byte count in the job history.
type historyObserver struct {
	ctx     context.Context
	store   JobStore
	jobID   string
	monitor *progress.Monitor

	next int64
}

func (o *historyObserver) Observe(n int64) {
	o.monitor.Observe(n)
	if n < o.next {
		return
	}
	o.next = (n/persistInterval + 1) * persistInterval
	if err := o.store.UpdateProgress(o.ctx, o.jobID, n); err != nil {
		slog.Warn("progress_update_failed", "job_id", o.jobID, "error", err)
	}
}

func elapsed(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}
