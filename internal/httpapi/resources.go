package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"fleetscope/fw-core/internal/sqlcgen"
	"fleetscope/fw-core/internal/updater"
)

type device struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	DeviceType        string    `json:"device_type"`
	FirmwareVersion   *string   `json:"firmware_version,omitempty"`
	CurrentFirmwareID *string   `json:"current_firmware_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type deviceCreate struct {
	Name            string  `json:"name"`
	DeviceType      string  `json:"device_type"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

type firmware struct {
	ID         string    `json:"id"`
	Version    string    `json:"version"`
	Name       string    `json:"name"`
	DeviceType string    `json:"device_type"`
	Critical   bool      `json:"critical"`
	ReleasedAt time.Time `json:"released_at"`
}

type firmwareCreate struct {
	Version    string     `json:"version"`
	Name       string     `json:"name"`
	DeviceType string     `json:"device_type"`
	Critical   bool       `json:"critical"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

type updateRecord struct {
	ID            string     `json:"id"`
	DeviceID      string     `json:"device_id"`
	FirmwareID    string     `json:"firmware_id"`
	TargetVersion string     `json:"target_version"`
	Status        string     `json:"status"`
	JobID         *string    `json:"job_id,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type updateStart struct {
	DeviceID      string `json:"device_id"`
	TargetVersion string `json:"target_version"`
	Force         bool   `json:"force"`
}

type updateStatusResponse struct {
	UpdateID    string     `json:"update_id"`
	Status      string     `json:"status"`
	JobStatus   string     `json:"job_status"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type batchStart struct {
	FirmwareID string   `json:"firmware_id"`
	DeviceIDs  []string `json:"device_ids,omitempty"`
	DeviceType string   `json:"device_type,omitempty"`
	Name       string   `json:"name,omitempty"`
}

type batchRecord struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	FirmwareID        string     `json:"firmware_id"`
	Status            string     `json:"status"`
	TotalDevices      int32      `json:"total_devices"`
	SuccessfulDevices int32      `json:"successful_devices"`
	FailedDevices     int32      `json:"failed_devices"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type batchStatusResponse struct {
	BatchID           string     `json:"batch_id"`
	Status            string     `json:"status"`
	TotalDevices      int32      `json:"total_devices"`
	SuccessfulDevices int32      `json:"successful_devices"`
	FailedDevices     int32      `json:"failed_devices"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type vulnerability struct {
	ID          string `json:"id"`
	DeviceID    string `json:"device_id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Remediation string `json:"remediation"`
}

type updateLogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func toDevice(d sqlcgen.Device) device {
	return device{
		ID:                d.ID,
		Name:              d.Name,
		DeviceType:        d.DeviceType,
		FirmwareVersion:   d.FirmwareVersion,
		CurrentFirmwareID: d.CurrentFirmwareID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toFirmware(f sqlcgen.Firmware) firmware {
	return firmware{
		ID:         f.ID,
		Version:    f.Version,
		Name:       f.Name,
		DeviceType: f.DeviceType,
		Critical:   f.Critical,
		ReleasedAt: f.ReleasedAt,
	}
}

func toUpdateRecord(u sqlcgen.FirmwareUpdate) updateRecord {
	return updateRecord{
		ID:            u.ID,
		DeviceID:      u.DeviceID,
		FirmwareID:    u.FirmwareID,
		TargetVersion: u.TargetVersion,
		Status:        u.Status,
		JobID:         u.JobID,
		ErrorMessage:  u.ErrorMessage,
		CreatedAt:     u.CreatedAt,
		CompletedAt:   u.CompletedAt,
	}
}

func toBatchRecord(b sqlcgen.FirmwareBatchUpdate) batchRecord {
	return batchRecord{
		ID:                b.ID,
		Name:              b.Name,
		FirmwareID:        b.FirmwareID,
		Status:            b.Status,
		TotalDevices:      b.TotalDevices,
		SuccessfulDevices: b.SuccessfulDevices,
		FailedDevices:     b.FailedDevices,
		CreatedAt:         b.CreatedAt,
		CompletedAt:       b.CompletedAt,
	}
}

func (h *Handler) ensureDevices(w http.ResponseWriter) bool {
	if h.devices == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureFirmware(w http.ResponseWriter) bool {
	if h.firmware == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureUpdates(w http.ResponseWriter) bool {
	if h.updates == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureOrchestrator(w http.ResponseWriter) bool {
	if h.orch == nil {
		h.writeError(w, http.StatusServiceUnavailable, "updater_unavailable", "update orchestration not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDevices(w) {
		return
	}

	rows, err := h.devices.ListDevices(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list devices failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list devices", nil)
		return
	}

	resp := make([]device, 0, len(rows))
	for _, d := range rows {
		resp = append(resp, toDevice(d))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.DeviceType) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "name and device_type are required", nil)
		return
	}
	if !h.ensureDevices(w) {
		return
	}

	row, err := h.devices.CreateDevice(r.Context(), sqlcgen.CreateDeviceParams{
		Name:            req.Name,
		DeviceType:      req.DeviceType,
		FirmwareVersion: req.FirmwareVersion,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("create device failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to create device", nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, toDevice(row))
}

func (h *Handler) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureDevices(w) {
		return
	}

	row, err := h.devices.GetDevice(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			h.writeError(w, http.StatusNotFound, "not_found", "device not found", map[string]any{"id": id})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "device id is not a valid uuid", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get device failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch device", nil)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, toDevice(row))
}

func (h *Handler) handleListDeviceUpdates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureUpdates(w) {
		return
	}

	rows, err := h.updates.ListFirmwareUpdatesByDevice(r.Context(), id)
	if err != nil {
		if isInvalidUUID(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_id", "device id is not a valid uuid", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("list device updates failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list updates", nil)
		return
	}

	resp := make([]updateRecord, 0, len(rows))
	for _, u := range rows {
		resp = append(resp, toUpdateRecord(u))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListDeviceVulnerabilities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureDevices(w) {
		return
	}

	rows, err := h.devices.ListVulnerabilities(r.Context(), id)
	if err != nil {
		if isInvalidUUID(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_id", "device id is not a valid uuid", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("list device vulnerabilities failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list vulnerabilities", nil)
		return
	}

	resp := make([]vulnerability, 0, len(rows))
	for _, v := range rows {
		resp = append(resp, vulnerability{
			ID:          v.ID,
			DeviceID:    v.DeviceID,
			Title:       v.Title,
			Severity:    v.Severity,
			Remediation: v.Remediation,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListFirmware(w http.ResponseWriter, r *http.Request) {
	if !h.ensureFirmware(w) {
		return
	}

	rows, err := h.firmware.ListFirmware(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list firmware failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list firmware", nil)
		return
	}

	resp := make([]firmware, 0, len(rows))
	for _, f := range rows {
		resp = append(resp, toFirmware(f))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateFirmware(w http.ResponseWriter, r *http.Request) {
	var req firmwareCreate
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Version) == "" || strings.TrimSpace(req.DeviceType) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "version and device_type are required", nil)
		return
	}
	if !h.ensureFirmware(w) {
		return
	}

	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = req.DeviceType + " firmware " + req.Version
	}

	row, err := h.firmware.CreateFirmware(r.Context(), sqlcgen.CreateFirmwareParams{
		Version:    req.Version,
		Name:       name,
		DeviceType: req.DeviceType,
		Critical:   req.Critical,
		ReleasedAt: req.ReleasedAt,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("create firmware failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to create firmware", nil)
		return
	}
	h.writeJSON(w, http.StatusCreated, toFirmware(row))
}

func (h *Handler) handleGetFirmware(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureFirmware(w) {
		return
	}

	row, err := h.firmware.GetFirmware(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			h.writeError(w, http.StatusNotFound, "not_found", "firmware not found", map[string]any{"id": id})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "firmware id is not a valid uuid", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get firmware failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch firmware", nil)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, toFirmware(row))
}

func (h *Handler) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	if !h.ensureUpdates(w) {
		return
	}

	var (
		rows []sqlcgen.FirmwareUpdate
		err  error
	)
	if deviceID := r.URL.Query().Get("device_id"); deviceID != "" {
		rows, err = h.updates.ListFirmwareUpdatesByDevice(r.Context(), deviceID)
	} else {
		rows, err = h.updates.ListFirmwareUpdates(r.Context())
	}
	if err != nil {
		if isInvalidUUID(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_id", "device_id is not a valid uuid", nil)
			return
		}
		h.log.Error().Err(err).Msg("list updates failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list updates", nil)
		return
	}

	resp := make([]updateRecord, 0, len(rows))
	for _, u := range rows {
		resp = append(resp, toUpdateRecord(u))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStartUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateStart
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" || strings.TrimSpace(req.TargetVersion) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "device_id and target_version are required", nil)
		return
	}
	if !h.ensureOrchestrator(w) {
		return
	}

	upd, err := h.orch.StartUpdate(r.Context(), req.DeviceID, req.TargetVersion, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, updater.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "device not found", map[string]any{"device_id": req.DeviceID})
		case errors.Is(err, updater.ErrAlreadyUpToDate):
			h.writeError(w, http.StatusConflict, "already_up_to_date", "device already runs the target version", map[string]any{
				"device_id":      req.DeviceID,
				"target_version": req.TargetVersion,
			})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "device_id is not a valid uuid", map[string]any{"device_id": req.DeviceID})
		default:
			h.log.Error().Err(err).Str("device_id", req.DeviceID).Msg("start update failed")
			h.writeError(w, http.StatusInternalServerError, "update_error", "failed to start update", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, toUpdateRecord(upd))
}

func (h *Handler) handleGetUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureOrchestrator(w) {
		return
	}

	st, err := h.orch.GetUpdateStatus(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, updater.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "update not found", map[string]any{"id": id})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "update id is not a valid uuid", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get update status failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch update", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, updateStatusResponse{
		UpdateID:    st.UpdateID,
		Status:      st.Status,
		JobStatus:   string(st.JobStatus),
		Progress:    st.Progress,
		Error:       st.Error,
		CreatedAt:   st.CreatedAt,
		CompletedAt: st.CompletedAt,
	})
}

func (h *Handler) handleListUpdateLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureUpdates(w) {
		return
	}

	rows, err := h.updates.ListUpdateLogs(r.Context(), id)
	if err != nil {
		if isInvalidUUID(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_id", "update id is not a valid uuid", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("list update logs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list update logs", nil)
		return
	}

	resp := make([]updateLogEntry, 0, len(rows))
	for _, l := range rows {
		resp = append(resp, updateLogEntry{Level: l.Level, Message: l.Message})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if !h.ensureUpdates(w) {
		return
	}

	rows, err := h.updates.ListBatchUpdates(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list batches failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list batches", nil)
		return
	}

	resp := make([]batchRecord, 0, len(rows))
	for _, b := range rows {
		resp = append(resp, toBatchRecord(b))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchStart
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.FirmwareID) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "firmware_id is required", nil)
		return
	}
	if !h.ensureOrchestrator(w) {
		return
	}

	batch, err := h.orch.StartBatch(r.Context(), updater.BatchRequest{
		FirmwareID: req.FirmwareID,
		DeviceIDs:  req.DeviceIDs,
		DeviceType: req.DeviceType,
		Name:       req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, updater.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "firmware not found", map[string]any{"firmware_id": req.FirmwareID})
		case errors.Is(err, updater.ErrBadTargets):
			h.writeError(w, http.StatusBadRequest, "validation_failed", "provide exactly one of device_ids or device_type", nil)
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "firmware_id is not a valid uuid", map[string]any{"firmware_id": req.FirmwareID})
		default:
			h.log.Error().Err(err).Str("firmware_id", req.FirmwareID).Msg("start batch failed")
			h.writeError(w, http.StatusInternalServerError, "update_error", "failed to start batch", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, toBatchRecord(batch))
}

func (h *Handler) handleGetBatchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.ensureOrchestrator(w) {
		return
	}

	st, err := h.orch.GetBatchStatus(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, updater.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "batch not found", map[string]any{"id": id})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "batch id is not a valid uuid", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get batch status failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch batch", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, batchStatusResponse{
		BatchID:           st.BatchID,
		Status:            st.Status,
		TotalDevices:      st.TotalDevices,
		SuccessfulDevices: st.SuccessfulDevices,
		FailedDevices:     st.FailedDevices,
		CreatedAt:         st.CreatedAt,
		CompletedAt:       st.CompletedAt,
	})
}
