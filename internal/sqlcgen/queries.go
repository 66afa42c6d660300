package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const insertAuditEvent = `-- name: InsertAuditEvent :exec
INSERT INTO audit_events (
  actor,
  action,
  target_type,
  target_id,
  details
)
VALUES ($1, $2, $3, $4::uuid, COALESCE($5, '{}'::jsonb))
`

type InsertAuditEventParams struct {
	Actor      string
	Action     string
	TargetType *string
	TargetID   *string
	Details    map[string]any
}

func (q *Queries) InsertAuditEvent(ctx context.Context, arg InsertAuditEventParams) error {
	_, err := q.db.Exec(ctx, insertAuditEvent, arg.Actor, arg.Action, arg.TargetType, arg.TargetID, arg.Details)
	return err
}

const createDevice = `-- name: CreateDevice :one
INSERT INTO devices (name, device_type, firmware_version)
VALUES ($1, $2, $3)
RETURNING id, name, device_type, firmware_version, current_firmware_id, created_at, updated_at
`

type CreateDeviceParams struct {
	Name            string
	DeviceType      string
	FirmwareVersion *string
}

func (q *Queries) CreateDevice(ctx context.Context, arg CreateDeviceParams) (Device, error) {
	row := q.db.QueryRow(ctx, createDevice, arg.Name, arg.DeviceType, arg.FirmwareVersion)
	var i Device
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.DeviceType,
		&i.FirmwareVersion,
		&i.CurrentFirmwareID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getDevice = `-- name: GetDevice :one
SELECT id, name, device_type, firmware_version, current_firmware_id, created_at, updated_at
FROM devices
WHERE id = $1
`

func (q *Queries) GetDevice(ctx context.Context, id string) (Device, error) {
	row := q.db.QueryRow(ctx, getDevice, id)
	var i Device
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.DeviceType,
		&i.FirmwareVersion,
		&i.CurrentFirmwareID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listDevices = `-- name: ListDevices :many
SELECT id, name, device_type, firmware_version, current_firmware_id, created_at, updated_at
FROM devices
ORDER BY created_at DESC
`

func (q *Queries) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := q.db.Query(ctx, listDevices)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Device
	for rows.Next() {
		var i Device
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.DeviceType,
			&i.FirmwareVersion,
			&i.CurrentFirmwareID,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listDevicesByType = `-- name: ListDevicesByType :many
SELECT id, name, device_type, firmware_version, current_firmware_id, created_at, updated_at
FROM devices
WHERE device_type = $1
ORDER BY created_at ASC
`

func (q *Queries) ListDevicesByType(ctx context.Context, deviceType string) ([]Device, error) {
	rows, err := q.db.Query(ctx, listDevicesByType, deviceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Device
	for rows.Next() {
		var i Device
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.DeviceType,
			&i.FirmwareVersion,
			&i.CurrentFirmwareID,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createFirmware = `-- name: CreateFirmware :one
INSERT INTO firmware (version, name, device_type, critical, released_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
RETURNING id, version, name, device_type, critical, released_at
`

type CreateFirmwareParams struct {
	Version    string
	Name       string
	DeviceType string
	Critical   bool
	ReleasedAt *time.Time
}

func (q *Queries) CreateFirmware(ctx context.Context, arg CreateFirmwareParams) (Firmware, error) {
	row := q.db.QueryRow(ctx, createFirmware, arg.Version, arg.Name, arg.DeviceType, arg.Critical, arg.ReleasedAt)
	var i Firmware
	err := row.Scan(
		&i.ID,
		&i.Version,
		&i.Name,
		&i.DeviceType,
		&i.Critical,
		&i.ReleasedAt,
	)
	return i, err
}

const getFirmware = `-- name: GetFirmware :one
SELECT id, version, name, device_type, critical, released_at
FROM firmware
WHERE id = $1
`

func (q *Queries) GetFirmware(ctx context.Context, id string) (Firmware, error) {
	row := q.db.QueryRow(ctx, getFirmware, id)
	var i Firmware
	err := row.Scan(
		&i.ID,
		&i.Version,
		&i.Name,
		&i.DeviceType,
		&i.Critical,
		&i.ReleasedAt,
	)
	return i, err
}

const getFirmwareByVersionAndType = `-- name: GetFirmwareByVersionAndType :one
SELECT id, version, name, device_type, critical, released_at
FROM firmware
WHERE version = $1
  AND device_type = $2
`

type GetFirmwareByVersionAndTypeParams struct {
	Version    string
	DeviceType string
}

func (q *Queries) GetFirmwareByVersionAndType(ctx context.Context, arg GetFirmwareByVersionAndTypeParams) (Firmware, error) {
	row := q.db.QueryRow(ctx, getFirmwareByVersionAndType, arg.Version, arg.DeviceType)
	var i Firmware
	err := row.Scan(
		&i.ID,
		&i.Version,
		&i.Name,
		&i.DeviceType,
		&i.Critical,
		&i.ReleasedAt,
	)
	return i, err
}

const upsertFirmwareBaseline = `-- name: UpsertFirmwareBaseline :one
INSERT INTO firmware (version, name, device_type, critical)
VALUES ($1, $2, $3, false)
ON CONFLICT (version, device_type) DO UPDATE
SET version = EXCLUDED.version
RETURNING id, version, name, device_type, critical, released_at
`

type UpsertFirmwareBaselineParams struct {
	Version    string
	Name       string
	DeviceType string
}

func (q *Queries) UpsertFirmwareBaseline(ctx context.Context, arg UpsertFirmwareBaselineParams) (Firmware, error) {
	row := q.db.QueryRow(ctx, upsertFirmwareBaseline, arg.Version, arg.Name, arg.DeviceType)
	var i Firmware
	err := row.Scan(
		&i.ID,
		&i.Version,
		&i.Name,
		&i.DeviceType,
		&i.Critical,
		&i.ReleasedAt,
	)
	return i, err
}

const listFirmware = `-- name: ListFirmware :many
SELECT id, version, name, device_type, critical, released_at
FROM firmware
ORDER BY released_at DESC
`

func (q *Queries) ListFirmware(ctx context.Context) ([]Firmware, error) {
	rows, err := q.db.Query(ctx, listFirmware)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Firmware
	for rows.Next() {
		var i Firmware
		if err := rows.Scan(
			&i.ID,
			&i.Version,
			&i.Name,
			&i.DeviceType,
			&i.Critical,
			&i.ReleasedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertFirmwareUpdate = `-- name: InsertFirmwareUpdate :one
INSERT INTO firmware_updates (device_id, firmware_id, target_version, status)
VALUES ($1, $2, $3, 'pending')
RETURNING id, device_id, firmware_id, target_version, status, job_id, error_message, created_at, completed_at
`

type InsertFirmwareUpdateParams struct {
	DeviceID      string
	FirmwareID    string
	TargetVersion string
}

func (q *Queries) InsertFirmwareUpdate(ctx context.Context, arg InsertFirmwareUpdateParams) (FirmwareUpdate, error) {
	row := q.db.QueryRow(ctx, insertFirmwareUpdate, arg.DeviceID, arg.FirmwareID, arg.TargetVersion)
	return scanFirmwareUpdate(row)
}

const getFirmwareUpdate = `-- name: GetFirmwareUpdate :one
SELECT id, device_id, firmware_id, target_version, status, job_id, error_message, created_at, completed_at
FROM firmware_updates
WHERE id = $1
`

func (q *Queries) GetFirmwareUpdate(ctx context.Context, id string) (FirmwareUpdate, error) {
	row := q.db.QueryRow(ctx, getFirmwareUpdate, id)
	return scanFirmwareUpdate(row)
}

const listFirmwareUpdatesByDevice = `-- name: ListFirmwareUpdatesByDevice :many
SELECT id, device_id, firmware_id, target_version, status, job_id, error_message, created_at, completed_at
FROM firmware_updates
WHERE device_id = $1
ORDER BY created_at DESC
`

func (q *Queries) ListFirmwareUpdatesByDevice(ctx context.Context, deviceID string) ([]FirmwareUpdate, error) {
	rows, err := q.db.Query(ctx, listFirmwareUpdatesByDevice, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFirmwareUpdates(rows)
}

const listFirmwareUpdates = `-- name: ListFirmwareUpdates :many
SELECT id, device_id, firmware_id, target_version, status, job_id, error_message, created_at, completed_at
FROM firmware_updates
ORDER BY created_at DESC
`

func (q *Queries) ListFirmwareUpdates(ctx context.Context) ([]FirmwareUpdate, error) {
	rows, err := q.db.Query(ctx, listFirmwareUpdates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFirmwareUpdates(rows)
}

const setFirmwareUpdateJob = `-- name: SetFirmwareUpdateJob :exec
UPDATE firmware_updates
SET job_id = $2
WHERE id = $1
`

type SetFirmwareUpdateJobParams struct {
	ID    string
	JobID string
}

func (q *Queries) SetFirmwareUpdateJob(ctx context.Context, arg SetFirmwareUpdateJobParams) error {
	_, err := q.db.Exec(ctx, setFirmwareUpdateJob, arg.ID, arg.JobID)
	return err
}

const markFirmwareUpdateRunning = `-- name: MarkFirmwareUpdateRunning :one
UPDATE firmware_updates
SET status = 'running'
WHERE id = $1
  AND status NOT IN ('completed', 'failed')
RETURNING id, device_id, firmware_id, target_version, status, job_id, error_message, created_at, completed_at
`

func (q *Queries) MarkFirmwareUpdateRunning(ctx context.Context, id string) (FirmwareUpdate, error) {
	row := q.db.QueryRow(ctx, markFirmwareUpdateRunning, id)
	return scanFirmwareUpdate(row)
}

// completeFirmwareUpdate finalizes the update row and the device row in one
// statement so no reader can observe a completed update with a stale device
// firmware version. Terminal rows are never rewritten.
const completeFirmwareUpdate = `-- name: CompleteFirmwareUpdate :one
WITH done AS (
  UPDATE firmware_updates
  SET status = 'completed',
      completed_at = now(),
      error_message = NULL
  WHERE id = $1
    AND status NOT IN ('completed', 'failed')
  RETURNING device_id, firmware_id, target_version
)
UPDATE devices d
SET firmware_version = done.target_version,
    current_firmware_id = done.firmware_id,
    updated_at = now()
FROM done
WHERE d.id = done.device_id
RETURNING d.id, d.name, d.device_type, d.firmware_version, d.current_firmware_id, d.created_at, d.updated_at
`

func (q *Queries) CompleteFirmwareUpdate(ctx context.Context, id string) (Device, error) {
	row := q.db.QueryRow(ctx, completeFirmwareUpdate, id)
	var i Device
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.DeviceType,
		&i.FirmwareVersion,
		&i.CurrentFirmwareID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const failFirmwareUpdate = `-- name: FailFirmwareUpdate :exec
UPDATE firmware_updates
SET status = 'failed',
    completed_at = now(),
    error_message = $2
WHERE id = $1
  AND status NOT IN ('completed', 'failed')
`

type FailFirmwareUpdateParams struct {
	ID           string
	ErrorMessage string
}

func (q *Queries) FailFirmwareUpdate(ctx context.Context, arg FailFirmwareUpdateParams) error {
	_, err := q.db.Exec(ctx, failFirmwareUpdate, arg.ID, arg.ErrorMessage)
	return err
}

const insertUpdateLog = `-- name: InsertUpdateLog :exec
INSERT INTO firmware_update_logs (update_id, level, message)
VALUES ($1, $2, $3)
`

type InsertUpdateLogParams struct {
	UpdateID string
	Level    string
	Message  string
}

func (q *Queries) InsertUpdateLog(ctx context.Context, arg InsertUpdateLogParams) error {
	_, err := q.db.Exec(ctx, insertUpdateLog, arg.UpdateID, arg.Level, arg.Message)
	return err
}

const listUpdateLogs = `-- name: ListUpdateLogs :many
SELECT update_id, level, message
FROM firmware_update_logs
WHERE update_id = $1
ORDER BY logged_at ASC
`

func (q *Queries) ListUpdateLogs(ctx context.Context, updateID string) ([]UpdateLog, error) {
	rows, err := q.db.Query(ctx, listUpdateLogs, updateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UpdateLog
	for rows.Next() {
		var i UpdateLog
		if err := rows.Scan(&i.UpdateID, &i.Level, &i.Message); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertBatchUpdate = `-- name: InsertBatchUpdate :one
INSERT INTO firmware_batch_updates (name, firmware_id, status, total_devices)
VALUES ($1, $2, 'pending', $3)
RETURNING id, name, firmware_id, status, total_devices, successful_devices, failed_devices, created_at, completed_at
`

type InsertBatchUpdateParams struct {
	Name         string
	FirmwareID   string
	TotalDevices int32
}

func (q *Queries) InsertBatchUpdate(ctx context.Context, arg InsertBatchUpdateParams) (FirmwareBatchUpdate, error) {
	row := q.db.QueryRow(ctx, insertBatchUpdate, arg.Name, arg.FirmwareID, arg.TotalDevices)
	return scanBatchUpdate(row)
}

const markBatchUpdateRunning = `-- name: MarkBatchUpdateRunning :exec
UPDATE firmware_batch_updates
SET status = 'running'
WHERE id = $1
  AND status = 'pending'
`

func (q *Queries) MarkBatchUpdateRunning(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, markBatchUpdateRunning, id)
	return err
}

const getBatchUpdate = `-- name: GetBatchUpdate :one
SELECT id, name, firmware_id, status, total_devices, successful_devices, failed_devices, created_at, completed_at
FROM firmware_batch_updates
WHERE id = $1
`

func (q *Queries) GetBatchUpdate(ctx context.Context, id string) (FirmwareBatchUpdate, error) {
	row := q.db.QueryRow(ctx, getBatchUpdate, id)
	return scanBatchUpdate(row)
}

const listBatchUpdates = `-- name: ListBatchUpdates :many
SELECT id, name, firmware_id, status, total_devices, successful_devices, failed_devices, created_at, completed_at
FROM firmware_batch_updates
ORDER BY created_at DESC
`

func (q *Queries) ListBatchUpdates(ctx context.Context) ([]FirmwareBatchUpdate, error) {
	rows, err := q.db.Query(ctx, listBatchUpdates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FirmwareBatchUpdate
	for rows.Next() {
		i, err := scanBatchUpdate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const finalizeBatchUpdate = `-- name: FinalizeBatchUpdate :one
UPDATE firmware_batch_updates
SET status = $2,
    successful_devices = $3,
    failed_devices = $4,
    completed_at = now()
WHERE id = $1
RETURNING id, name, firmware_id, status, total_devices, successful_devices, failed_devices, created_at, completed_at
`

type FinalizeBatchUpdateParams struct {
	ID                string
	Status            string
	SuccessfulDevices int32
	FailedDevices     int32
}

func (q *Queries) FinalizeBatchUpdate(ctx context.Context, arg FinalizeBatchUpdateParams) (FirmwareBatchUpdate, error) {
	row := q.db.QueryRow(ctx, finalizeBatchUpdate, arg.ID, arg.Status, arg.SuccessfulDevices, arg.FailedDevices)
	return scanBatchUpdate(row)
}

const listVulnerabilities = `-- name: ListVulnerabilities :many
SELECT id, device_id, title, severity, remediation
FROM vulnerabilities
WHERE device_id = $1
ORDER BY severity ASC, title ASC
`

func (q *Queries) ListVulnerabilities(ctx context.Context, deviceID string) ([]Vulnerability, error) {
	rows, err := q.db.Query(ctx, listVulnerabilities, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Vulnerability
	for rows.Next() {
		var i Vulnerability
		if err := rows.Scan(&i.ID, &i.DeviceID, &i.Title, &i.Severity, &i.Remediation); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteVulnerabilitiesByRemediation = `-- name: DeleteVulnerabilitiesByRemediation :execrows
DELETE FROM vulnerabilities
WHERE device_id = $1
  AND remediation = $2
`

type DeleteVulnerabilitiesByRemediationParams struct {
	DeviceID    string
	Remediation string
}

func (q *Queries) DeleteVulnerabilitiesByRemediation(ctx context.Context, arg DeleteVulnerabilitiesByRemediationParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteVulnerabilitiesByRemediation, arg.DeviceID, arg.Remediation)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteVulnerabilities = `-- name: DeleteVulnerabilities :exec
DELETE FROM vulnerabilities
WHERE device_id = $1
`

func (q *Queries) DeleteVulnerabilities(ctx context.Context, deviceID string) error {
	_, err := q.db.Exec(ctx, deleteVulnerabilities, deviceID)
	return err
}

const insertVulnerability = `-- name: InsertVulnerability :exec
INSERT INTO vulnerabilities (device_id, title, severity, remediation)
VALUES ($1, $2, $3, $4)
`

type InsertVulnerabilityParams struct {
	DeviceID    string
	Title       string
	Severity    string
	Remediation string
}

func (q *Queries) InsertVulnerability(ctx context.Context, arg InsertVulnerabilityParams) error {
	_, err := q.db.Exec(ctx, insertVulnerability, arg.DeviceID, arg.Title, arg.Severity, arg.Remediation)
	return err
}

func scanFirmwareUpdate(row pgx.Row) (FirmwareUpdate, error) {
	var i FirmwareUpdate
	err := row.Scan(
		&i.ID,
		&i.DeviceID,
		&i.FirmwareID,
		&i.TargetVersion,
		&i.Status,
		&i.JobID,
		&i.ErrorMessage,
		&i.CreatedAt,
		&i.CompletedAt,
	)
	return i, err
}

func collectFirmwareUpdates(rows pgx.Rows) ([]FirmwareUpdate, error) {
	var items []FirmwareUpdate
	for rows.Next() {
		i, err := scanFirmwareUpdate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanBatchUpdate(row pgx.Row) (FirmwareBatchUpdate, error) {
	var i FirmwareBatchUpdate
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.FirmwareID,
		&i.Status,
		&i.TotalDevices,
		&i.SuccessfulDevices,
		&i.FailedDevices,
		&i.CreatedAt,
		&i.CompletedAt,
	)
	return i, err
}
