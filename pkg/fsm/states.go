package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc"
	"github.com/superfly/fsm"

	"github.com/boxel-io/boxel-flash/pkg/console"
	"github.com/boxel-io/boxel-flash/pkg/device"
	"github.com/boxel-io/boxel-flash/pkg/errors"
	"github.com/boxel-io/boxel-flash/pkg/image"
	"github.com/boxel-io/boxel-flash/pkg/storage"
	"github.com/boxel-io/boxel-flash/pkg/transfer"
)

// handleResolve finds the device and opens the image concurrently
func (m *Machine) handleResolve(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	job, err := m.begin(ctx, req, StateResolving)
	if err != nil {
		return nil, err
	}

	var (
		target device.TargetDevice
		devErr error
		handle *image.Handle
		sha    string
		imgErr error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		target, devErr = m.resolveDevice(job.ctx, job)
	})
	wg.Go(func() {
		handle, sha, imgErr = m.openImage(job.ctx, job)
	})
	wg.Wait()

	// The image error wins when both fail.
	if imgErr != nil {
		slog.Error("image_resolution_failed", "job_id", job.ID, "input", job.opts.Input, "error", imgErr)
		return nil, m.fail(ctx, job, imgErr)
	}
	job.resolved(target, handle, sha)
	if devErr != nil {
		slog.Error("device_resolution_failed", "job_id", job.ID, "device", job.opts.Device, "error", devErr)
		return nil, m.fail(ctx, job, devErr)
	}

	slog.Info("flash_job_resolved",
		"job_id", job.ID,
		"device", target.Path,
		"writable", target.Writable,
		"removable", target.Removable,
		"image", handle.Path,
		"format", handle.Format,
		"size", handle.Size())

	if err := m.deps.Store.UpdateImage(ctx, job.ID, handle.Path, sha, handle.Size()); err != nil {
		slog.Error("image_update_failed", "job_id", job.ID, "error", err)
		return nil, m.fail(ctx, job, errors.Wrap(err, "failed to record image"))
	}

	return response(req, job), nil
}

func (m *Machine) resolveDevice(ctx context.Context, job *Job) (device.TargetDevice, error) {
	if job.opts.Device != "" {
		return m.deps.Devices.Lookup(ctx, job.opts.Device)
	}
	return m.deps.Devices.Resolve(ctx)
}

// openImage opens a local image, downloading it first when the input is remote.
func (m *Machine) openImage(ctx context.Context, job *Job) (*image.Handle, string, error) {
	path := job.opts.Input
	var sha string

	if storage.IsRemote(path) {
		if m.deps.Fetcher == nil {
			return nil, "", fmt.Errorf("%w: remote input %s but no S3 client is configured", image.ErrNotFound, path)
		}
		result, err := m.deps.Fetcher.Download(ctx, path, job.opts.Output)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, "", fmt.Errorf("%w: %v", image.ErrNotFound, err)
			}
			return nil, "", errors.Wrap(err, "failed to download image")
		}
		path, sha = result.LocalPath, result.SHA256
	}

	h, err := m.deps.Images.Open(path)
	if err != nil {
		return nil, "", err
	}
	return h, sha, nil
}

// handleValidate checks that the device can take the image
func (m *Machine) handleValidate(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	job, err := m.begin(ctx, req, StateValidating)
	if err != nil {
		return nil, err
	}

	target := job.Target()
	h := job.imageHandle()

	if !target.Eligible() {
		slog.Error("device_not_writable", "job_id", job.ID, "device", target.Path)
		return nil, m.fail(ctx, job, fmt.Errorf("%w: %s is read-only", ErrNotWritable, target.Path))
	}

	if v := m.deps.Validator; v != nil {
		checks := []func() error{
			func() error { return v.ValidateImageSize(h.Size()) },
			func() error { return v.ValidateFits(h.Size(), target.SizeBytes) },
			func() error { return v.ValidateHostname(job.opts.Hostname) },
			func() error { return v.ValidateWiFi(job.opts.WiFiSSID, job.opts.WiFiPassphrase) },
		}
		for _, check := range checks {
			if err := check(); err != nil {
				return nil, m.fail(ctx, job, err)
			}
		}
	}

	slog.Info("flash_job_validated", "job_id", job.ID, "device", target.Path)
	return response(req, job), nil
}

// handleConfirm shows the plan and, when requested, waits for the operator
func (m *Machine) handleConfirm(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	job, err := m.begin(ctx, req, StateConfirming)
	if err != nil {
		return nil, err
	}

	target := job.Target()
	h := job.imageHandle()

	m.deps.Reporter.Summary(console.Summary{
		JobID:     job.ID,
		Device:    target.Path,
		Model:     target.Model,
		SizeBytes: target.SizeBytes,
		Writable:  target.Writable,
		Removable: target.Removable,
		Image:     h.Path,
		ImageSize: h.Size(),
		Format:    string(h.Format),
		Hostname:  job.opts.Hostname,
		WiFiSSID:  job.opts.WiFiSSID,
	})

	if !job.opts.Confirm {
		return response(req, job), nil
	}

	type answer struct {
		ok  bool
		err error
	}
	answers := make(chan answer, 1)
	go func() {
		ok, err := m.deps.Reporter.Confirm(fmt.Sprintf("Erase %s and write %s?", target.Path, h.Path))
		answers <- answer{ok, err}
	}()

	select {
	case <-job.ctx.Done():
		return nil, m.fail(ctx, job, fmt.Errorf("%w: %v", ErrAborted, context.Cause(job.ctx)))
	case a := <-answers:
		if a.err != nil {
			return nil, m.fail(ctx, job, errors.Wrap(a.err, "failed to read confirmation"))
		}
		if !a.ok {
			slog.Warn("flash_job_declined", "job_id", job.ID, "device", target.Path)
			return nil, m.fail(ctx, job, fmt.Errorf("%w: writing to %s was not confirmed", ErrAborted, target.Path))
		}
	}

	slog.Info("flash_job_confirmed", "job_id", job.ID, "device", target.Path)
	return response(req, job), nil
}

// handleTransfer claims the device and streams the image onto it
func (m *Machine) handleTransfer(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	job, err := m.begin(ctx, req, StateTransferring)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Store.ClaimDevice(ctx, job.ID, job.Target().Path); err != nil {
		return nil, m.fail(ctx, job, err)
	}

	target := job.Target()
	h := job.imageHandle()

	// The operator's context interrupts the write; so does the FSM shutting down.
	tctx, cancel := context.WithCancelCause(job.ctx)
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	defer stop()

	monitor := m.deps.Progress(h.Size())
	obs := &historyObserver{ctx: context.WithoutCancel(ctx), store: m.deps.Store, jobID: job.ID, monitor: monitor}

	result, err := m.deps.Engine.Flash(tctx, h, target, obs)
	job.setResult(result)
	if err != nil {
		monitor.Close()
		var terr *transfer.Error
		if errors.As(err, &terr) {
			obs.store.UpdateProgress(obs.ctx, job.ID, terr.Offset)
		}
		return nil, m.fail(ctx, job, err)
	}
	monitor.Finish()

	if err := m.deps.Store.UpdateProgress(ctx, job.ID, result.BytesWritten); err != nil {
		slog.Warn("progress_update_failed", "job_id", job.ID, "error", err)
	}

	return response(req, job), nil
}

// handleComplete marks the job succeeded
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	job := m.lookup(req.Msg.JobID)
	if job == nil {
		return nil, fsm.Abort(fmt.Errorf("flash job %s is not running in this process", req.Msg.JobID))
	}
	if fsm.RetryFromContext(ctx) > 0 {
		return nil, m.fail(ctx, job, fmt.Errorf("complete step failed and flash steps are never retried"))
	}

	if !job.finish(StateSucceeded, nil) {
		return nil, fsm.Abort(fmt.Errorf("flash job %s already finished", job.ID))
	}
	job.releaseImage()

	if err := m.deps.Store.UpdateStatus(ctx, job.ID, string(StateSucceeded), ""); err != nil {
		slog.Error("status_update_failed", "job_id", job.ID, "status", StateSucceeded, "error", err)
	}

	result := job.Result()
	target := job.Target()
	slog.Info("fsm_complete", "job_id", job.ID, "device", target.Path, "status", StateSucceeded)
	m.deps.Reporter.Info("Flashed %s to %s in %s",
		humanize.IBytes(uint64(result.BytesWritten)), target.Path, elapsed(result.Duration))

	return response(req, job), nil
}
