package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	updatesTotal        *prometheus.CounterVec
	updateDuration      prometheus.Histogram
	batchesTotal        prometheus.Counter
	batchDevicesTotal   *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and updater metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fwcore",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by fw-core",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fwcore",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by fw-core",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	updatesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fwcore",
		Name:      "firmware_updates_total",
		Help:      "Total number of firmware updates by terminal outcome",
	}, []string{"outcome"})

	updateDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fwcore",
		Name:      "firmware_update_duration_seconds",
		Help:      "Duration of a firmware update from start to terminal state",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	batchesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fwcore",
		Name:      "firmware_batches_total",
		Help:      "Total number of firmware batch updates started",
	})

	batchDevicesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fwcore",
		Name:      "firmware_batch_devices_total",
		Help:      "Per-device outcomes across firmware batch updates",
	}, []string{"outcome"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		updatesTotal,
		updateDuration,
		batchesTotal,
		batchDevicesTotal,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		updatesTotal:        updatesTotal,
		updateDuration:      updateDuration,
		batchesTotal:        batchesTotal,
		batchDevicesTotal:   batchDevicesTotal,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncUpdate counts a firmware update reaching a terminal outcome.
func (m *Metrics) IncUpdate(outcome string) {
	if m == nil {
		return
	}
	m.updatesTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// ObserveUpdateDuration observes one update's total duration.
func (m *Metrics) ObserveUpdateDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.updateDuration.Observe(duration.Seconds())
}

// IncBatch counts a batch update being started.
func (m *Metrics) IncBatch() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

// AddBatchDevices counts per-device outcomes within batches.
func (m *Metrics) AddBatchDevices(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchDevicesTotal.With(prometheus.Labels{"outcome": outcome}).Add(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
