package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"fleetscope/fw-core/internal/db"
	"fleetscope/fw-core/internal/metrics"
	"fleetscope/fw-core/internal/sqlcgen"
	"fleetscope/fw-core/internal/updater"
)

// deviceQueries is the device-catalog surface the handler needs.
type deviceQueries interface {
	CreateDevice(ctx context.Context, arg sqlcgen.CreateDeviceParams) (sqlcgen.Device, error)
	GetDevice(ctx context.Context, id string) (sqlcgen.Device, error)
	ListDevices(ctx context.Context) ([]sqlcgen.Device, error)
	ListVulnerabilities(ctx context.Context, deviceID string) ([]sqlcgen.Vulnerability, error)
}

type firmwareQueries interface {
	CreateFirmware(ctx context.Context, arg sqlcgen.CreateFirmwareParams) (sqlcgen.Firmware, error)
	GetFirmware(ctx context.Context, id string) (sqlcgen.Firmware, error)
	ListFirmware(ctx context.Context) ([]sqlcgen.Firmware, error)
}

type updateQueries interface {
	ListFirmwareUpdates(ctx context.Context) ([]sqlcgen.FirmwareUpdate, error)
	ListFirmwareUpdatesByDevice(ctx context.Context, deviceID string) ([]sqlcgen.FirmwareUpdate, error)
	ListUpdateLogs(ctx context.Context, updateID string) ([]sqlcgen.UpdateLog, error)
	ListBatchUpdates(ctx context.Context) ([]sqlcgen.FirmwareBatchUpdate, error)
}

// Orchestrator is the update/batch coordinator surface.
// *updater.Coordinator satisfies this.
type Orchestrator interface {
	StartUpdate(ctx context.Context, deviceID, targetVersion string, force bool) (sqlcgen.FirmwareUpdate, error)
	GetUpdateStatus(ctx context.Context, updateID string) (updater.UpdateStatus, error)
	StartBatch(ctx context.Context, req updater.BatchRequest) (sqlcgen.FirmwareBatchUpdate, error)
	GetBatchStatus(ctx context.Context, batchID string) (updater.BatchStatus, error)
}

type Handler struct {
	log     zerolog.Logger
	pool    *db.Pool
	metrics *metrics.Metrics

	devices  deviceQueries
	firmware firmwareQueries
	updates  updateQueries
	orch     Orchestrator
}

func NewHandler(log zerolog.Logger, pool *db.Pool, m *metrics.Metrics, orch Orchestrator) *Handler {
	h := &Handler{log: log, pool: pool, metrics: m, orch: orch}
	if pool != nil {
		q := pool.Queries()
		h.devices = q
		h.firmware = q
		h.updates = q
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", h.handleListDevices)
				r.Post("/", h.handleCreateDevice)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetDevice)
					r.Get("/updates", h.handleListDeviceUpdates)
					r.Get("/vulnerabilities", h.handleListDeviceVulnerabilities)
				})
			})

			r.Route("/firmware", func(r chi.Router) {
				r.Get("/", h.handleListFirmware)
				r.Post("/", h.handleCreateFirmware)
				r.Get("/{id}", h.handleGetFirmware)
			})

			r.Route("/updates", func(r chi.Router) {
				r.Get("/", h.handleListUpdates)
				r.Post("/", h.handleStartUpdate)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetUpdateStatus)
					r.Get("/logs", h.handleListUpdateLogs)
				})
			})

			r.Route("/batches", func(r chi.Router) {
				r.Get("/", h.handleListBatches)
				r.Post("/", h.handleStartBatch)
				r.Get("/{id}", h.handleGetBatchStatus)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		h.metrics.ObserveHTTPRequest(r.Method, path, ww.Status(), time.Since(start))
		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
