package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API, worker, and monitor flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	batchesSubmittedTotal prometheus.Counter
	batchesCompletedTotal prometheus.Counter
	batchesRecoveredTotal *prometheus.CounterVec
	itemsGeneratedTotal   *prometheus.CounterVec
	itemsFailedTotal      *prometheus.CounterVec
	generationDuration    *prometheus.HistogramVec
	workerInflight        prometheus.Gauge
	jobRetriesTotal       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "generation_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesSubmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "batches_submitted_total",
				Help:      "Total number of generation batches accepted for processing.",
			},
		),
		batchesCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "batches_completed_total",
				Help:      "Total number of generation batches that reached completed state.",
			},
		),
		batchesRecoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "batches_recovered_total",
				Help:      "Total number of batches force-failed by the health monitor, by reason.",
			},
			[]string{"reason"},
		),
		itemsGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "items_generated_total",
				Help:      "Total number of items generated successfully, by model.",
			},
			[]string{"model"},
		),
		itemsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "items_failed_total",
				Help:      "Total number of items that ended in failed state, by model.",
			},
			[]string{"model"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "generation_engine",
				Name:      "generation_duration_seconds",
				Help:      "Provider generation duration in seconds grouped by model.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"model"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "generation_engine",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight generation jobs.",
			},
		),
		jobRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "generation_engine",
				Name:      "job_retries_total",
				Help:      "Total number of generation jobs routed to the retry queue.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesSubmittedTotal,
		m.batchesCompletedTotal,
		m.batchesRecoveredTotal,
		m.itemsGeneratedTotal,
		m.itemsFailedTotal,
		m.generationDuration,
		m.workerInflight,
		m.jobRetriesTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchSubmitted() {
	if m == nil {
		return
	}
	m.batchesSubmittedTotal.Inc()
}

func (m *Metrics) IncBatchCompleted() {
	if m == nil {
		return
	}
	m.batchesCompletedTotal.Inc()
}

func (m *Metrics) IncBatchRecovered(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.batchesRecoveredTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) IncItemGenerated(model string) {
	if m == nil {
		return
	}
	m.itemsGeneratedTotal.WithLabelValues(normalizeModel(model)).Inc()
}

func (m *Metrics) IncItemFailed(model string) {
	if m == nil {
		return
	}
	m.itemsFailedTotal.WithLabelValues(normalizeModel(model)).Inc()
}

func (m *Metrics) ObserveGenerationDuration(model string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.generationDuration.WithLabelValues(normalizeModel(model)).Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncJobRetry() {
	if m == nil {
		return
	}
	m.jobRetriesTotal.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeModel(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
