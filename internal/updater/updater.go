// Package updater drives firmware updates through a phased progress
// machine: eligibility checks, update-record and job creation, simulated
// transfer checkpoints, an atomic finalize, and vulnerability
// reconciliation. Batch fan-out across many devices lives in batch.go.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"fleetscope/fw-core/internal/jobtracker"
	"fleetscope/fw-core/internal/metrics"
	"fleetscope/fw-core/internal/sqlcgen"
)

// JobTypeFirmwareUpdate tags jobs created for single-device updates.
const JobTypeFirmwareUpdate = "firmware_update"

var (
	// ErrNotFound covers unknown devices, firmware, updates and batches.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyUpToDate rejects a non-forced update to the version the
	// device already runs. No update or job record is created.
	ErrAlreadyUpToDate = errors.New("device already at target version")

	// ErrBadTargets rejects a batch request that does not name exactly one
	// of an explicit device list or a device type.
	ErrBadTargets = errors.New("exactly one of device_ids or device_type must be set")
)

// Queries is the minimal DB interface the coordinator needs.
//
// NOTE: fw-core uses sqlc-style hand-written queries. *sqlcgen.Queries
// satisfies this.
type Queries interface {
	GetDevice(ctx context.Context, id string) (sqlcgen.Device, error)
	ListDevicesByType(ctx context.Context, deviceType string) ([]sqlcgen.Device, error)
	GetFirmware(ctx context.Context, id string) (sqlcgen.Firmware, error)
	GetFirmwareByVersionAndType(ctx context.Context, arg sqlcgen.GetFirmwareByVersionAndTypeParams) (sqlcgen.Firmware, error)
	UpsertFirmwareBaseline(ctx context.Context, arg sqlcgen.UpsertFirmwareBaselineParams) (sqlcgen.Firmware, error)
	InsertFirmwareUpdate(ctx context.Context, arg sqlcgen.InsertFirmwareUpdateParams) (sqlcgen.FirmwareUpdate, error)
	GetFirmwareUpdate(ctx context.Context, id string) (sqlcgen.FirmwareUpdate, error)
	SetFirmwareUpdateJob(ctx context.Context, arg sqlcgen.SetFirmwareUpdateJobParams) error
	MarkFirmwareUpdateRunning(ctx context.Context, id string) (sqlcgen.FirmwareUpdate, error)
	CompleteFirmwareUpdate(ctx context.Context, id string) (sqlcgen.Device, error)
	FailFirmwareUpdate(ctx context.Context, arg sqlcgen.FailFirmwareUpdateParams) error
	InsertUpdateLog(ctx context.Context, arg sqlcgen.InsertUpdateLogParams) error
	InsertBatchUpdate(ctx context.Context, arg sqlcgen.InsertBatchUpdateParams) (sqlcgen.FirmwareBatchUpdate, error)
	MarkBatchUpdateRunning(ctx context.Context, id string) error
	GetBatchUpdate(ctx context.Context, id string) (sqlcgen.FirmwareBatchUpdate, error)
	FinalizeBatchUpdate(ctx context.Context, arg sqlcgen.FinalizeBatchUpdateParams) (sqlcgen.FirmwareBatchUpdate, error)
	InsertAuditEvent(ctx context.Context, arg sqlcgen.InsertAuditEventParams) error
}

// Jobs is the tracker surface the coordinator drives. *jobtracker.Tracker
// satisfies this.
type Jobs interface {
	Create(jobType string, metadata map[string]any) string
	SetStatus(id string, status jobtracker.Status)
	SetProgress(id string, pct int, message string)
	Get(id string) (jobtracker.Job, bool)
}

// Reconciler drops vulnerability findings remediated by a firmware change.
type Reconciler interface {
	DropRemediated(ctx context.Context, deviceID string) (int64, error)
}

// ApplyFunc is the single device-facing effect: push the firmware image to
// the device. The default is a no-op; real transports plug in here.
type ApplyFunc func(ctx context.Context, device sqlcgen.Device, fw sqlcgen.Firmware) error

type Options struct {
	// BatchConcurrency bounds concurrent per-device updates in a batch.
	BatchConcurrency int

	// CheckpointDelay is how long each transfer checkpoint takes. Zero
	// makes the phase machine run without sleeping (tests).
	CheckpointDelay time.Duration

	// Apply overrides the device-facing apply effect.
	Apply ApplyFunc
}

type Coordinator struct {
	log              zerolog.Logger
	q                Queries
	jobs             Jobs
	vuln             Reconciler
	metrics          *metrics.Metrics
	batchConcurrency int
	checkpointDelay  time.Duration
	apply            ApplyFunc

	// Per-device advisory locks: two concurrent updates against one device
	// serialize here instead of racing on the device row. Entries are not
	// evicted; the device population is small and long-lived.
	deviceMu    sync.Mutex
	deviceLocks map[string]*sync.Mutex
}

func New(log zerolog.Logger, q Queries, jobs Jobs, vuln Reconciler, m *metrics.Metrics, opts Options) *Coordinator {
	bc := opts.BatchConcurrency
	if bc <= 0 {
		bc = 4
	}
	delay := opts.CheckpointDelay
	if delay < 0 {
		delay = 0
	}
	apply := opts.Apply
	if apply == nil {
		apply = func(context.Context, sqlcgen.Device, sqlcgen.Firmware) error { return nil }
	}

	return &Coordinator{
		log:              log,
		q:                q,
		jobs:             jobs,
		vuln:             vuln,
		metrics:          m,
		batchConcurrency: bc,
		checkpointDelay:  delay,
		apply:            apply,
		deviceLocks:      make(map[string]*sync.Mutex),
	}
}

// checkpoint percentages stand in for a real device-transfer protocol.
// The last checkpoint precedes the apply effect and the finalize.
var checkpoints = []struct {
	pct     int
	message string
}{
	{10, "preparing device"},
	{30, "transferring image"},
	{55, "transferring image"},
	{80, "transfer complete"},
	{95, "applying firmware"},
}

// StartUpdate runs one device's firmware update to a terminal state and
// returns the final update row. A non-nil error means no update record
// exists (unknown device, already up to date, or record creation failed);
// failures inside the phase machine are captured on the returned row
// instead, since the caller polls the record for the outcome.
func (c *Coordinator) StartUpdate(ctx context.Context, deviceID, targetVersion string, force bool) (sqlcgen.FirmwareUpdate, error) {
	unlock := c.lockDevice(deviceID)
	defer unlock()

	device, err := c.q.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sqlcgen.FirmwareUpdate{}, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return sqlcgen.FirmwareUpdate{}, err
	}

	fw, err := c.resolveFirmware(ctx, device, targetVersion)
	if err != nil {
		return sqlcgen.FirmwareUpdate{}, err
	}

	if !force && device.FirmwareVersion != nil && *device.FirmwareVersion == targetVersion {
		return sqlcgen.FirmwareUpdate{}, fmt.Errorf("device %s at %s: %w", deviceID, targetVersion, ErrAlreadyUpToDate)
	}

	upd, err := c.q.InsertFirmwareUpdate(ctx, sqlcgen.InsertFirmwareUpdateParams{
		DeviceID:      device.ID,
		FirmwareID:    fw.ID,
		TargetVersion: fw.Version,
	})
	if err != nil {
		return sqlcgen.FirmwareUpdate{}, err
	}

	jobID := c.jobs.Create(JobTypeFirmwareUpdate, map[string]any{
		"device_id":      device.ID,
		"firmware_id":    fw.ID,
		"target_version": fw.Version,
		"update_id":      upd.ID,
	})
	if err := c.q.SetFirmwareUpdateJob(ctx, sqlcgen.SetFirmwareUpdateJobParams{ID: upd.ID, JobID: jobID}); err != nil {
		c.log.Error().Err(err).Str("update_id", upd.ID).Str("job_id", jobID).Msg("failed to attach job to update")
	}
	upd.JobID = &jobID

	c.log.Info().
		Str("update_id", upd.ID).
		Str("device_id", device.ID).
		Str("firmware_id", fw.ID).
		Str("target_version", fw.Version).
		Bool("force", force).
		Msg("firmware update started")

	start := time.Now()
	runErr := c.run(ctx, upd, device, fw, jobID)
	c.metrics.ObserveUpdateDuration(time.Since(start))

	final, err := c.q.GetFirmwareUpdate(ctx, upd.ID)
	if err != nil {
		// The row exists; a read failure here must not mask the outcome.
		c.log.Error().Err(err).Str("update_id", upd.ID).Msg("failed to re-read update after run")
		if runErr != nil {
			upd.Status = "failed"
			msg := runErr.Error()
			upd.ErrorMessage = &msg
		} else {
			upd.Status = "completed"
		}
		return upd, nil
	}
	return final, nil
}

// resolveFirmware finds the catalog row for (version, device type); when
// absent it auto-creates an audited baseline row so updates to versions
// the catalog has not seen yet still proceed.
func (c *Coordinator) resolveFirmware(ctx context.Context, device sqlcgen.Device, targetVersion string) (sqlcgen.Firmware, error) {
	fw, err := c.q.GetFirmwareByVersionAndType(ctx, sqlcgen.GetFirmwareByVersionAndTypeParams{
		Version:    targetVersion,
		DeviceType: device.DeviceType,
	})
	if err == nil {
		return fw, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return sqlcgen.Firmware{}, err
	}

	fw, err = c.q.UpsertFirmwareBaseline(ctx, sqlcgen.UpsertFirmwareBaselineParams{
		Version:    targetVersion,
		Name:       fmt.Sprintf("%s firmware %s", device.DeviceType, targetVersion),
		DeviceType: device.DeviceType,
	})
	if err != nil {
		return sqlcgen.Firmware{}, err
	}

	c.log.Warn().
		Str("firmware_id", fw.ID).
		Str("device_type", device.DeviceType).
		Str("version", targetVersion).
		Msg("baseline firmware record auto-created")

	targetType := "firmware"
	if err := c.q.InsertAuditEvent(ctx, sqlcgen.InsertAuditEventParams{
		Actor:      "updater",
		Action:     "firmware.baseline_autocreated",
		TargetType: &targetType,
		TargetID:   &fw.ID,
		Details: map[string]any{
			"device_id":   device.ID,
			"device_type": device.DeviceType,
			"version":     targetVersion,
		},
	}); err != nil {
		c.log.Warn().Err(err).Str("firmware_id", fw.ID).Msg("failed to write baseline audit event")
	}

	return fw, nil
}

// run drives the phase machine to a terminal state. Errors are captured
// into the update row and the job; the returned error only reports them.
func (c *Coordinator) run(ctx context.Context, upd sqlcgen.FirmwareUpdate, device sqlcgen.Device, fw sqlcgen.Firmware, jobID string) error {
	if _, err := c.q.MarkFirmwareUpdateRunning(ctx, upd.ID); err != nil {
		return c.failUpdate(ctx, upd.ID, jobID, pkgerrors.Wrap(err, "mark update running"))
	}
	c.jobs.SetStatus(jobID, jobtracker.StatusRunning)

	for _, cp := range checkpoints {
		if err := c.yield(ctx); err != nil {
			return c.failUpdate(ctx, upd.ID, jobID, pkgerrors.Wrap(err, "update interrupted"))
		}
		c.jobs.SetProgress(jobID, cp.pct, cp.message)
		c.logUpdate(ctx, upd.ID, "info", fmt.Sprintf("%s (%d%%)", cp.message, cp.pct))
	}

	if err := c.apply(ctx, device, fw); err != nil {
		return c.failUpdate(ctx, upd.ID, jobID, pkgerrors.Wrap(err, "apply firmware"))
	}

	// Device pointer and update row flip together; nobody observes a
	// completed update with a stale device version.
	if _, err := c.q.CompleteFirmwareUpdate(ctx, upd.ID); err != nil {
		return c.failUpdate(ctx, upd.ID, jobID, pkgerrors.Wrap(err, "finalize update"))
	}

	if dropped, err := c.vuln.DropRemediated(ctx, device.ID); err != nil {
		// The update itself succeeded; reconciliation is retried by the
		// next update or an operator sweep, so log and keep going.
		c.log.Error().Err(err).Str("device_id", device.ID).Msg("vulnerability reconciliation failed")
	} else if dropped > 0 {
		c.logUpdate(ctx, upd.ID, "info", fmt.Sprintf("dropped %d remediated vulnerabilities", dropped))
	}

	c.logUpdate(ctx, upd.ID, "info", "update completed")
	c.jobs.SetProgress(jobID, 100, "completed")
	c.jobs.SetStatus(jobID, jobtracker.StatusCompleted)
	c.metrics.IncUpdate("completed")

	c.log.Info().
		Str("update_id", upd.ID).
		Str("device_id", device.ID).
		Str("target_version", fw.Version).
		Msg("firmware update completed")

	return nil
}

// failUpdate records a terminal failure on the update row and the job.
// A secondary persistence failure is logged and swallowed so it cannot
// mask the primary error.
func (c *Coordinator) failUpdate(ctx context.Context, updateID, jobID string, cause error) error {
	if err := c.q.FailFirmwareUpdate(ctx, sqlcgen.FailFirmwareUpdateParams{
		ID:           updateID,
		ErrorMessage: cause.Error(),
	}); err != nil {
		c.log.Error().Err(err).Str("update_id", updateID).Msg("failed to record update failure")
	}
	c.logUpdate(ctx, updateID, "error", "update failed: "+cause.Error())
	c.jobs.SetStatus(jobID, jobtracker.StatusFailed)
	c.metrics.IncUpdate("failed")

	c.log.Error().Err(cause).Str("update_id", updateID).Msg("firmware update failed")
	return cause
}

func (c *Coordinator) logUpdate(ctx context.Context, updateID, level, message string) {
	if err := c.q.InsertUpdateLog(ctx, sqlcgen.InsertUpdateLogParams{
		UpdateID: updateID,
		Level:    level,
		Message:  message,
	}); err != nil {
		c.log.Warn().Err(err).Str("update_id", updateID).Msg("failed to write update log")
	}
}

// yield is the suspension point between checkpoints: other updates and
// requests interleave here while this one waits out its transfer slice.
func (c *Coordinator) yield(ctx context.Context) error {
	if c.checkpointDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.checkpointDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Coordinator) lockDevice(deviceID string) func() {
	c.deviceMu.Lock()
	mu, ok := c.deviceLocks[deviceID]
	if !ok {
		mu = &sync.Mutex{}
		c.deviceLocks[deviceID] = mu
	}
	c.deviceMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// UpdateStatus is the pollable view of one update joined with its job.
type UpdateStatus struct {
	UpdateID    string
	Status      string
	JobStatus   jobtracker.Status
	Progress    int
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// GetUpdateStatus joins the update row with its driving job. A job id
// that cannot be resolved reports job status "unknown" rather than
// assuming the work completed.
func (c *Coordinator) GetUpdateStatus(ctx context.Context, updateID string) (UpdateStatus, error) {
	upd, err := c.q.GetFirmwareUpdate(ctx, updateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UpdateStatus{}, fmt.Errorf("update %s: %w", updateID, ErrNotFound)
		}
		return UpdateStatus{}, err
	}

	st := UpdateStatus{
		UpdateID:    upd.ID,
		Status:      upd.Status,
		JobStatus:   jobtracker.StatusUnknown,
		Error:       upd.ErrorMessage,
		CreatedAt:   upd.CreatedAt,
		CompletedAt: upd.CompletedAt,
	}
	if upd.JobID != nil {
		if j, ok := c.jobs.Get(*upd.JobID); ok {
			st.JobStatus = j.Status
			st.Progress = j.Progress
		}
	}
	return st, nil
}
