package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the opentweak engine.
// With metrics disabled every recorder is a no-op, so callers never need
// to branch on configuration.
type Metrics struct {
	config MetricsConfig

	// Detection metrics
	detections        *prometheus.CounterVec
	detectionDuration *prometheus.HistogramVec

	// Execution metrics
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	operationsRun     *prometheus.CounterVec

	// Batch metrics
	batchesStarted   *prometheus.CounterVec
	batchesCompleted *prometheus.CounterVec

	// Coordinator metrics
	cacheRefreshes prometheus.Counter
	pendingChanges prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detections_total",
				Help:      "Total number of tweak detections by verdict",
			},
			[]string{"verdict"},
		),
		detectionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "detection_duration_seconds",
				Help:      "Duration of tweak detection in seconds",
				Buckets:   buckets,
			},
			[]string{"verdict"},
		),

		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of tweak executions by action and status",
			},
			[]string{"action", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of tweak execution in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),
		operationsRun: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of individual operations by type and status",
			},
			[]string{"type", "status"},
		),

		batchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_started_total",
				Help:      "Total number of batches started",
			},
			[]string{"action"},
		),
		batchesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_completed_total",
				Help:      "Total number of batches completed by status",
			},
			[]string{"action", "status"},
		),

		cacheRefreshes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_cache_refreshes_total",
				Help:      "Total number of full status cache refreshes",
			},
		),
		pendingChanges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_changes",
				Help:      "Current number of pending tweak changes",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.detections,
		m.detectionDuration,
		m.executions,
		m.executionDuration,
		m.operationsRun,
		m.batchesStarted,
		m.batchesCompleted,
		m.cacheRefreshes,
		m.pendingChanges,
		m.errorsByClass,
	)

	return m, nil
}

// RecordDetection records a detection outcome with its duration.
func (m *Metrics) RecordDetection(verdict string, duration time.Duration) {
	if m.detections == nil {
		return
	}
	m.detections.WithLabelValues(verdict).Inc()
	m.detectionDuration.WithLabelValues(verdict).Observe(duration.Seconds())
}

// RecordExecution records a completed apply or revert with its duration.
func (m *Metrics) RecordExecution(action, status string, duration time.Duration) {
	if m.executions == nil {
		return
	}
	m.executions.WithLabelValues(action, status).Inc()
	m.executionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordOperation records one individual operation outcome.
func (m *Metrics) RecordOperation(opType, status string) {
	if m.operationsRun == nil {
		return
	}
	m.operationsRun.WithLabelValues(opType, status).Inc()
}

// RecordBatchStarted records the start of an apply or revert batch.
func (m *Metrics) RecordBatchStarted(action string) {
	if m.batchesStarted == nil {
		return
	}
	m.batchesStarted.WithLabelValues(action).Inc()
}

// RecordBatchCompleted records batch completion by status.
func (m *Metrics) RecordBatchCompleted(action, status string) {
	if m.batchesCompleted == nil {
		return
	}
	m.batchesCompleted.WithLabelValues(action, status).Inc()
}

// RecordCacheRefresh records a full status cache refresh.
func (m *Metrics) RecordCacheRefresh() {
	if m.cacheRefreshes == nil {
		return
	}
	m.cacheRefreshes.Inc()
}

// SetPendingChanges sets the current number of pending changes.
func (m *Metrics) SetPendingChanges(count float64) {
	if m.pendingChanges == nil {
		return
	}
	m.pendingChanges.Set(count)
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
