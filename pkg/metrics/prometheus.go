// Package metrics provides Prometheus metrics for the tally telemetry service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by tally.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Ingest
	eventsLogged  *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	// Queue
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	queueOverflow prometheus.Counter

	// Flush
	flushes        *prometheus.CounterVec
	flushDuration  prometheus.Histogram
	flushBatchSize prometheus.Histogram
	eventsFlushed  prometheus.Counter
	retryDelay     prometheus.Gauge

	// Sessions
	sessions         *prometheus.CounterVec
	engagementLevels *prometheus.CounterVec
	activeSessions   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // process-wide collectors

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // collectors must exist before any package records
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tally",
		subsystem:        "telemetry",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      make(map[string]string),
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.eventsLogged = m.counterVec("events_logged_total",
		"Interaction events accepted into the queue by type", "event_type")
	m.eventsDropped = m.counterVec("events_dropped_total",
		"Interaction events discarded before persistence by reason", "reason")

	m.queueSize = m.gauge("queue_size", "Events currently buffered awaiting flush")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum buffered events before the oldest are dropped (0 = unbounded)")
	m.queueOverflow = m.counter("queue_overflow_total", "Events evicted because the queue was at capacity")

	m.flushes = m.counterVec("flushes_total", "Flush attempts by outcome", "outcome")
	m.flushDuration = m.histogram("flush_duration_milliseconds",
		"Batch insert round-trip in milliseconds", m.histogramBuckets)
	m.flushBatchSize = m.histogram("flush_batch_size", "Events per flushed batch",
		[]float64{1, 2, 5, 10, 20, 50, 100, 250, 500, 1000})
	m.eventsFlushed = m.counter("events_flushed_total", "Events durably written by successful flushes")
	m.retryDelay = m.gauge("retry_delay_milliseconds", "Current backoff before the next scheduled flush (0 = none)")

	m.sessions = m.counterVec("game_sessions_total", "Game session lifecycle transitions", "status")
	m.engagementLevels = m.counterVec("engagement_levels_total", "Engagement level assigned at session end", "level")
	m.activeSessions = m.gauge("game_sessions_active", "Sessions currently being tracked in memory")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"HTTP errors by endpoint, method and error type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEventLogged counts an event appended to the queue.
func RecordEventLogged(eventType string) {
	globalManager.eventsLogged.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts events discarded for reason.
func RecordEventDropped(reason string, n int) {
	if n <= 0 {
		return
	}
	globalManager.eventsDropped.WithLabelValues(reason).Add(float64(n))
}

// UpdateQueueSize sets the current queue length.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the configured queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueOverflow counts events evicted on overflow.
func RecordQueueOverflow(n int) {
	if n <= 0 {
		return
	}
	globalManager.queueOverflow.Add(float64(n))
}

// RecordFlush records a flush attempt outcome ("success", "failure", "skipped").
func RecordFlush(outcome string) {
	globalManager.flushes.WithLabelValues(outcome).Inc()
}

// RecordFlushDuration records the batch insert latency in milliseconds.
func RecordFlushDuration(latencyMs float64) {
	globalManager.flushDuration.Observe(latencyMs)
}

// RecordFlushBatch records a successful batch of size n.
func RecordFlushBatch(n int) {
	globalManager.flushBatchSize.Observe(float64(n))
	globalManager.eventsFlushed.Add(float64(n))
}

// UpdateRetryDelay sets the pending backoff delay.
func UpdateRetryDelay(d time.Duration) {
	globalManager.retryDelay.Set(float64(d.Milliseconds()))
}

// RecordSession counts a session transition ("started", "completed", "abandoned", "failed").
func RecordSession(status string) {
	globalManager.sessions.WithLabelValues(status).Inc()
}

// RecordEngagementLevel counts the engagement label assigned at session end.
func RecordEngagementLevel(level string) {
	globalManager.engagementLevels.WithLabelValues(level).Inc()
}

// UpdateActiveSessions sets the number of in-memory trackers.
func UpdateActiveSessions(n int) {
	globalManager.activeSessions.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
