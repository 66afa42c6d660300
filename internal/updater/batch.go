package updater

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"fleetscope/fw-core/internal/sqlcgen"
)

// BatchRequest targets either an explicit device list or every device of
// a type, never both.
type BatchRequest struct {
	FirmwareID string
	DeviceIDs  []string
	DeviceType string
	Name       string
}

// StartBatch fans one firmware image out to the target set, driving each
// device through StartUpdate with force=true under a bounded worker pool.
// One device's failure never aborts the others; outcomes aggregate into
// the batch counters and its terminal status.
func (c *Coordinator) StartBatch(ctx context.Context, req BatchRequest) (sqlcgen.FirmwareBatchUpdate, error) {
	if (len(req.DeviceIDs) == 0) == (req.DeviceType == "") {
		return sqlcgen.FirmwareBatchUpdate{}, ErrBadTargets
	}

	fw, err := c.q.GetFirmware(ctx, req.FirmwareID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sqlcgen.FirmwareBatchUpdate{}, fmt.Errorf("firmware %s: %w", req.FirmwareID, ErrNotFound)
		}
		return sqlcgen.FirmwareBatchUpdate{}, err
	}

	targets, err := c.resolveTargets(ctx, req)
	if err != nil {
		return sqlcgen.FirmwareBatchUpdate{}, err
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s %s", fw.Name, fw.Version)
	}

	batch, err := c.q.InsertBatchUpdate(ctx, sqlcgen.InsertBatchUpdateParams{
		Name:         name,
		FirmwareID:   fw.ID,
		TotalDevices: int32(len(targets)),
	})
	if err != nil {
		return sqlcgen.FirmwareBatchUpdate{}, err
	}
	c.metrics.IncBatch()

	targetType := "firmware_batch_update"
	if err := c.q.InsertAuditEvent(ctx, sqlcgen.InsertAuditEventParams{
		Actor:      "updater",
		Action:     "batch_update.created",
		TargetType: &targetType,
		TargetID:   &batch.ID,
		Details: map[string]any{
			"firmware_id":   fw.ID,
			"total_devices": len(targets),
		},
	}); err != nil {
		c.log.Warn().Err(err).Str("batch_id", batch.ID).Msg("failed to write batch audit event")
	}

	if err := c.q.MarkBatchUpdateRunning(ctx, batch.ID); err != nil {
		c.log.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to mark batch running")
	}

	c.log.Info().
		Str("batch_id", batch.ID).
		Str("firmware_id", fw.ID).
		Int("total_devices", len(targets)).
		Int("concurrency", c.batchConcurrency).
		Msg("batch update started")

	var succeeded, failed int32

	g := &errgroup.Group{}
	g.SetLimit(c.batchConcurrency)
	for _, deviceID := range targets {
		deviceID := deviceID
		g.Go(func() error {
			upd, err := c.StartUpdate(ctx, deviceID, fw.Version, true)
			if err == nil && upd.Status == "completed" {
				atomic.AddInt32(&succeeded, 1)
				return nil
			}
			atomic.AddInt32(&failed, 1)
			if err != nil {
				c.log.Warn().Err(err).
					Str("batch_id", batch.ID).
					Str("device_id", deviceID).
					Msg("batch device update rejected")
			}
			// Failures are absorbed into the counters by design.
			return nil
		})
	}
	_ = g.Wait()

	status := batchStatus(int32(len(targets)), succeeded, failed)
	final, err := c.q.FinalizeBatchUpdate(ctx, sqlcgen.FinalizeBatchUpdateParams{
		ID:                batch.ID,
		Status:            status,
		SuccessfulDevices: succeeded,
		FailedDevices:     failed,
	})
	if err != nil {
		c.log.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to finalize batch")
		batch.Status = status
		batch.SuccessfulDevices = succeeded
		batch.FailedDevices = failed
		now := time.Now().UTC()
		batch.CompletedAt = &now
		return batch, nil
	}

	c.metrics.AddBatchDevices("succeeded", int(succeeded))
	c.metrics.AddBatchDevices("failed", int(failed))

	c.log.Info().
		Str("batch_id", final.ID).
		Str("status", final.Status).
		Int32("succeeded", final.SuccessfulDevices).
		Int32("failed", final.FailedDevices).
		Msg("batch update finished")

	return final, nil
}

func (c *Coordinator) resolveTargets(ctx context.Context, req BatchRequest) ([]string, error) {
	if len(req.DeviceIDs) > 0 {
		seen := make(map[string]struct{}, len(req.DeviceIDs))
		out := make([]string, 0, len(req.DeviceIDs))
		for _, id := range req.DeviceIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		return out, nil
	}

	devices, err := c.q.ListDevicesByType(ctx, req.DeviceType)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.ID)
	}
	return out, nil
}

// batchStatus derives the terminal status: completed iff no failures,
// failed iff no successes against a non-empty set.
func batchStatus(total, succeeded, failed int32) string {
	switch {
	case failed == 0:
		return "completed"
	case succeeded == 0 && total > 0:
		return "failed"
	default:
		return "partially_completed"
	}
}

// BatchStatus is the pollable aggregate view of a batch.
type BatchStatus struct {
	BatchID           string
	Status            string
	TotalDevices      int32
	SuccessfulDevices int32
	FailedDevices     int32
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

func (c *Coordinator) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, error) {
	b, err := c.q.GetBatchUpdate(ctx, batchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BatchStatus{}, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
		}
		return BatchStatus{}, err
	}
	return BatchStatus{
		BatchID:           b.ID,
		Status:            b.Status,
		TotalDevices:      b.TotalDevices,
		SuccessfulDevices: b.SuccessfulDevices,
		FailedDevices:     b.FailedDevices,
		CreatedAt:         b.CreatedAt,
		CompletedAt:       b.CompletedAt,
	}, nil
}
