package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fleetscope/fw-core/internal/jobtracker"
	"fleetscope/fw-core/internal/metrics"
	"fleetscope/fw-core/internal/sqlcgen"
	"fleetscope/fw-core/internal/updater"
)

type fakeDeviceQueries struct {
	devices []sqlcgen.Device
	device  sqlcgen.Device
	vulns   []sqlcgen.Vulnerability
	err     error
}

func (f *fakeDeviceQueries) CreateDevice(ctx context.Context, arg sqlcgen.CreateDeviceParams) (sqlcgen.Device, error) {
	if f.err != nil {
		return sqlcgen.Device{}, f.err
	}
	return sqlcgen.Device{
		ID:              "dev-1",
		Name:            arg.Name,
		DeviceType:      arg.DeviceType,
		FirmwareVersion: arg.FirmwareVersion,
	}, nil
}

func (f *fakeDeviceQueries) GetDevice(ctx context.Context, id string) (sqlcgen.Device, error) {
	if f.err != nil {
		return sqlcgen.Device{}, f.err
	}
	return f.device, nil
}

func (f *fakeDeviceQueries) ListDevices(ctx context.Context) ([]sqlcgen.Device, error) {
	return f.devices, f.err
}

func (f *fakeDeviceQueries) ListVulnerabilities(ctx context.Context, deviceID string) ([]sqlcgen.Vulnerability, error) {
	return f.vulns, f.err
}

type fakeFirmwareQueries struct {
	firmwares []sqlcgen.Firmware
	firmware  sqlcgen.Firmware
	err       error
}

func (f *fakeFirmwareQueries) CreateFirmware(ctx context.Context, arg sqlcgen.CreateFirmwareParams) (sqlcgen.Firmware, error) {
	if f.err != nil {
		return sqlcgen.Firmware{}, f.err
	}
	return sqlcgen.Firmware{
		ID:         "fw-1",
		Version:    arg.Version,
		Name:       arg.Name,
		DeviceType: arg.DeviceType,
		Critical:   arg.Critical,
	}, nil
}

func (f *fakeFirmwareQueries) GetFirmware(ctx context.Context, id string) (sqlcgen.Firmware, error) {
	if f.err != nil {
		return sqlcgen.Firmware{}, f.err
	}
	return f.firmware, nil
}

func (f *fakeFirmwareQueries) ListFirmware(ctx context.Context) ([]sqlcgen.Firmware, error) {
	return f.firmwares, f.err
}

type fakeUpdateQueries struct {
	updates []sqlcgen.FirmwareUpdate
	logs    []sqlcgen.UpdateLog
	batches []sqlcgen.FirmwareBatchUpdate
	err     error
}

func (f *fakeUpdateQueries) ListFirmwareUpdates(ctx context.Context) ([]sqlcgen.FirmwareUpdate, error) {
	return f.updates, f.err
}

func (f *fakeUpdateQueries) ListFirmwareUpdatesByDevice(ctx context.Context, deviceID string) ([]sqlcgen.FirmwareUpdate, error) {
	return f.updates, f.err
}

func (f *fakeUpdateQueries) ListUpdateLogs(ctx context.Context, updateID string) ([]sqlcgen.UpdateLog, error) {
	return f.logs, f.err
}

func (f *fakeUpdateQueries) ListBatchUpdates(ctx context.Context) ([]sqlcgen.FirmwareBatchUpdate, error) {
	return f.batches, f.err
}

type fakeOrchestrator struct {
	update      sqlcgen.FirmwareUpdate
	updateErr   error
	status      updater.UpdateStatus
	statusErr   error
	batch       sqlcgen.FirmwareBatchUpdate
	batchErr    error
	batchStatus updater.BatchStatus

	lastForce bool
	lastBatch updater.BatchRequest
}

func (f *fakeOrchestrator) StartUpdate(ctx context.Context, deviceID, targetVersion string, force bool) (sqlcgen.FirmwareUpdate, error) {
	f.lastForce = force
	return f.update, f.updateErr
}

func (f *fakeOrchestrator) GetUpdateStatus(ctx context.Context, updateID string) (updater.UpdateStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeOrchestrator) StartBatch(ctx context.Context, req updater.BatchRequest) (sqlcgen.FirmwareBatchUpdate, error) {
	f.lastBatch = req
	return f.batch, f.batchErr
}

func (f *fakeOrchestrator) GetBatchStatus(ctx context.Context, batchID string) (updater.BatchStatus, error) {
	return f.batchStatus, f.statusErr
}

func newTestHandler() *Handler {
	log := zerolog.Nop()
	return &Handler{
		log:     log,
		metrics: metrics.New(),
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response body: %v (body=%q)", err, rr.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler()

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestReadyZWithoutDB(t *testing.T) {
	h := newTestHandler()

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestListDevices(t *testing.T) {
	h := newTestHandler()
	fv := "1.0.0"
	h.devices = &fakeDeviceQueries{devices: []sqlcgen.Device{
		{ID: "d1", Name: "edge-router-01", DeviceType: "router", FirmwareVersion: &fv},
		{ID: "d2", Name: "cam-lobby", DeviceType: "camera"},
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%q)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp []device
	decodeBody(t, rr, &resp)
	if len(resp) != 2 {
		t.Fatalf("len = %d, want 2", len(resp))
	}
	if resp[0].FirmwareVersion == nil || *resp[0].FirmwareVersion != "1.0.0" {
		t.Fatalf("firmware_version = %v, want 1.0.0", resp[0].FirmwareVersion)
	}
}

func TestCreateDeviceValidation(t *testing.T) {
	h := newTestHandler()
	h.devices = &fakeDeviceQueries{}

	body := bytes.NewBufferString(`{"name":"","device_type":"router"}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/devices", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCreateDeviceRejectsUnknownFields(t *testing.T) {
	h := newTestHandler()
	h.devices = &fakeDeviceQueries{}

	body := bytes.NewBufferString(`{"name":"r1","device_type":"router","bogus":1}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/devices", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	h := newTestHandler()
	h.devices = &fakeDeviceQueries{err: pgx.ErrNoRows}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/devices/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestListDeviceVulnerabilities(t *testing.T) {
	h := newTestHandler()
	h.devices = &fakeDeviceQueries{vulns: []sqlcgen.Vulnerability{
		{ID: "v1", DeviceID: "d1", Title: "CVE-2025-0001", Severity: "high", Remediation: "firmware_update"},
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/devices/d1/vulnerabilities", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp []vulnerability
	decodeBody(t, rr, &resp)
	if len(resp) != 1 || resp[0].Remediation != "firmware_update" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestCreateFirmwareDefaultsName(t *testing.T) {
	h := newTestHandler()
	h.firmware = &fakeFirmwareQueries{}

	body := bytes.NewBufferString(`{"version":"2.1.0","device_type":"router","critical":true}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/firmware", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body=%q)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	var resp firmware
	decodeBody(t, rr, &resp)
	if resp.Name != "router firmware 2.1.0" {
		t.Fatalf("name = %q", resp.Name)
	}
	if !resp.Critical {
		t.Fatal("critical flag not preserved")
	}
}

func TestListUpdatesByDeviceFilter(t *testing.T) {
	h := newTestHandler()
	h.updates = &fakeUpdateQueries{updates: []sqlcgen.FirmwareUpdate{
		{ID: "u1", DeviceID: "d1", FirmwareID: "fw1", TargetVersion: "2.1.0", Status: "completed"},
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/updates?device_id=d1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp []updateRecord
	decodeBody(t, rr, &resp)
	if len(resp) != 1 || resp[0].Status != "completed" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestStartUpdateAccepted(t *testing.T) {
	h := newTestHandler()
	jobID := "job-1"
	orch := &fakeOrchestrator{update: sqlcgen.FirmwareUpdate{
		ID:            "u1",
		DeviceID:      "d1",
		FirmwareID:    "fw1",
		TargetVersion: "2.1.0",
		Status:        "completed",
		JobID:         &jobID,
	}}
	h.orch = orch

	body := bytes.NewBufferString(`{"device_id":"d1","target_version":"2.1.0","force":true}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/updates", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body=%q)", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	if !orch.lastForce {
		t.Fatal("force flag not forwarded")
	}
	var resp updateRecord
	decodeBody(t, rr, &resp)
	if resp.JobID == nil || *resp.JobID != "job-1" {
		t.Fatalf("job_id = %v, want job-1", resp.JobID)
	}
}

func TestStartUpdateAlreadyUpToDate(t *testing.T) {
	h := newTestHandler()
	h.orch = &fakeOrchestrator{updateErr: updater.ErrAlreadyUpToDate}

	body := bytes.NewBufferString(`{"device_id":"d1","target_version":"2.1.0"}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/updates", body))

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rr, &resp)
	if resp.Error.Code != "already_up_to_date" {
		t.Fatalf("code = %q, want already_up_to_date", resp.Error.Code)
	}
}

func TestStartUpdateDeviceNotFound(t *testing.T) {
	h := newTestHandler()
	h.orch = &fakeOrchestrator{updateErr: updater.ErrNotFound}

	body := bytes.NewBufferString(`{"device_id":"d-missing","target_version":"2.1.0"}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/updates", body))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetUpdateStatus(t *testing.T) {
	h := newTestHandler()
	h.orch = &fakeOrchestrator{status: updater.UpdateStatus{
		UpdateID:  "u1",
		Status:    "running",
		JobStatus: jobtracker.StatusRunning,
		Progress:  55,
		CreatedAt: time.Now(),
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/updates/u1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp updateStatusResponse
	decodeBody(t, rr, &resp)
	if resp.JobStatus != "running" || resp.Progress != 55 {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestGetUpdateStatusUnknownJob(t *testing.T) {
	h := newTestHandler()
	h.orch = &fakeOrchestrator{status: updater.UpdateStatus{
		UpdateID:  "u1",
		Status:    "running",
		JobStatus: jobtracker.StatusUnknown,
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/updates/u1", nil))

	var resp updateStatusResponse
	decodeBody(t, rr, &resp)
	if resp.JobStatus != "unknown" {
		t.Fatalf("job_status = %q, want unknown", resp.JobStatus)
	}
}

func TestListUpdateLogs(t *testing.T) {
	h := newTestHandler()
	h.updates = &fakeUpdateQueries{logs: []sqlcgen.UpdateLog{
		{UpdateID: "u1", Level: "info", Message: "transferring image"},
		{UpdateID: "u1", Level: "info", Message: "applying firmware"},
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/updates/u1/logs", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp []updateLogEntry
	decodeBody(t, rr, &resp)
	if len(resp) != 2 || resp[1].Message != "applying firmware" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestStartBatchAccepted(t *testing.T) {
	h := newTestHandler()
	orch := &fakeOrchestrator{batch: sqlcgen.FirmwareBatchUpdate{
		ID:                "b1",
		Name:              "router rollout",
		FirmwareID:        "fw1",
		Status:            "partially_completed",
		TotalDevices:      3,
		SuccessfulDevices: 2,
		FailedDevices:     1,
	}}
	h.orch = orch

	body := bytes.NewBufferString(`{"firmware_id":"fw1","device_ids":["d1","d2","d3"]}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/batches", body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body=%q)", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	if len(orch.lastBatch.DeviceIDs) != 3 {
		t.Fatalf("device_ids not forwarded: %v", orch.lastBatch.DeviceIDs)
	}
	var resp batchRecord
	decodeBody(t, rr, &resp)
	if resp.SuccessfulDevices != 2 || resp.FailedDevices != 1 {
		t.Fatalf("unexpected counters: %q", rr.Body.String())
	}
}

func TestStartBatchBadTargets(t *testing.T) {
	h := newTestHandler()
	h.orch = &fakeOrchestrator{batchErr: updater.ErrBadTargets}

	body := bytes.NewBufferString(`{"firmware_id":"fw1"}`)
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/batches", body))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetBatchStatus(t *testing.T) {
	h := newTestHandler()
	h.orch = &fakeOrchestrator{batchStatus: updater.BatchStatus{
		BatchID:           "b1",
		Status:            "completed",
		TotalDevices:      2,
		SuccessfulDevices: 2,
	}}

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/batches/b1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var resp batchStatusResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "completed" || resp.TotalDevices != 2 {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}
