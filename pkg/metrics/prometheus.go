// Package metrics provides Prometheus metrics for the PageSpeed batch service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Manager manages all Prometheus metrics for the PageSpeed service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Batch Metrics
	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	batchSize     prometheus.Histogram

	// Upstream Metrics - PageSpeed API calls
	upstreamRequests     *prometheus.CounterVec
	upstreamLatency      *prometheus.HistogramVec
	breakerStateChanges  *prometheus.CounterVec
	upstreamPacerWaiting prometheus.Gauge

	// Rate Limit Metrics
	rateLimitDecisions *prometheus.CounterVec
	rateLimitInWindow  prometheus.Gauge

	// Persistence Metrics
	persistenceWrites  *prometheus.CounterVec
	persistenceLatency prometheus.Histogram
	persistenceQueries prometheus.Histogram

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByType     *prometheus.CounterVec
	errorRateByEndpoint *prometheus.CounterVec
	errorLatency        *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// upstreamBuckets fit PageSpeed runs, which take seconds rather than milliseconds.
var upstreamBuckets = []float64{250, 500, 1000, 2500, 5000, 10000, 20000, 30000, 60000}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pagespeed",
		subsystem:        "batch",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
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

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}, labels)
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

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.batches = m.counterVec("batches_total", "Total number of batch runs by outcome", "outcome")
	m.batchDuration = m.histogram("batch_duration_milliseconds",
		"Batch run duration in milliseconds", upstreamBuckets)
	m.batchSize = m.histogram("batch_urls", "Number of URLs per admitted batch",
		[]float64{1, 2, 5, 10, 15, 20, 25, 30})

	m.upstreamRequests = m.counterVec("upstream_requests_total",
		"Total number of PageSpeed API requests by device and outcome", "device", "outcome")
	m.upstreamLatency = m.histogramVec("upstream_latency_milliseconds",
		"PageSpeed API latency in milliseconds", upstreamBuckets, "device")
	m.breakerStateChanges = m.counterVec("breaker_state_changes_total",
		"Circuit breaker transitions by target state", "to")
	m.upstreamPacerWaiting = m.gauge("upstream_pacer_waiting",
		"Requests currently waiting on the upstream pacer")

	m.rateLimitDecisions = m.counterVec("ratelimit_decisions_total",
		"Rate limiter decisions (admitted/denied)", "decision")
	m.rateLimitInWindow = m.gauge("ratelimit_in_window",
		"Admissions currently counted in the sliding window")

	m.persistenceWrites = m.counterVec("persistence_writes_total",
		"Total number of score result writes by outcome", "outcome")
	m.persistenceLatency = m.histogram("persistence_write_latency_milliseconds",
		"Score result write latency in milliseconds", m.histogramBuckets)
	m.persistenceQueries = m.histogram("persistence_query_latency_milliseconds",
		"Score result query latency in milliseconds", m.histogramBuckets)

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", upstreamBuckets, "endpoint", "method", "status_code")

	m.errorRateByType = m.counterVec("errors_by_type_total",
		"Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds",
		"Latency of operations that resulted in errors", upstreamBuckets, "component", "error_type")
}

// RecordBatch counts a finished batch run.
func RecordBatch(outcome string) {
	globalManager.batches.WithLabelValues(outcome).Inc()
}

// RecordBatchDuration records batch duration in milliseconds.
func RecordBatchDuration(latencyMs float64) {
	globalManager.batchDuration.Observe(latencyMs)
}

// RecordBatchSize records the URL count of an admitted batch.
func RecordBatchSize(urls int) {
	globalManager.batchSize.Observe(float64(urls))
}

// RecordUpstreamRequest counts a PageSpeed API request.
func RecordUpstreamRequest(device, outcome string) {
	globalManager.upstreamRequests.WithLabelValues(device, outcome).Inc()
}

// RecordUpstreamLatency records PageSpeed API latency in milliseconds.
func RecordUpstreamLatency(device string, latencyMs float64) {
	globalManager.upstreamLatency.WithLabelValues(device).Observe(latencyMs)
}

// RecordBreakerStateChange counts a circuit breaker transition.
func RecordBreakerStateChange(to string) {
	globalManager.breakerStateChanges.WithLabelValues(to).Inc()
}

// AddUpstreamPacerWaiting adjusts the number of requests blocked on the pacer.
func AddUpstreamPacerWaiting(delta int) {
	globalManager.upstreamPacerWaiting.Add(float64(delta))
}

// RecordRateLimitDecision counts an admission decision.
func RecordRateLimitDecision(admitted bool) {
	decision := "denied"
	if admitted {
		decision = "admitted"
	}
	globalManager.rateLimitDecisions.WithLabelValues(decision).Inc()
}

// UpdateRateLimitInWindow sets the sliding window occupancy.
func UpdateRateLimitInWindow(count int) {
	globalManager.rateLimitInWindow.Set(float64(count))
}

// RecordPersistenceWrite counts a score result write.
func RecordPersistenceWrite(outcome string) {
	globalManager.persistenceWrites.WithLabelValues(outcome).Inc()
}

// RecordPersistenceLatency records write latency in milliseconds.
func RecordPersistenceLatency(latencyMs float64) {
	globalManager.persistenceLatency.Observe(latencyMs)
}

// RecordPersistenceQueryLatency records read latency in milliseconds.
func RecordPersistenceQueryLatency(latencyMs float64) {
	globalManager.persistenceQueries.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
