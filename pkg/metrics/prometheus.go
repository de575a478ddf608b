// Package metrics provides Prometheus metrics for the skymap rebinning engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultLatencyBuckets covers sub-millisecond slice rebins up to multi-second jobs.
var defaultLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 5000} //nolint:gochecknoglobals // constant bucket layout

// Manager manages all Prometheus metrics for the skymap service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	constLabels    prometheus.Labels
	registry       prometheus.Registerer

	// Rebin job metrics
	jobsSubmitted prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobDuration   prometheus.Histogram

	// Time slice metrics
	slicesProcessed prometheus.Counter
	samplesUsed     prometheus.Counter
	sliceLatency    prometheus.Histogram

	// Output grid metrics
	gridStripeCount      prometheus.Gauge
	gridPixels           prometheus.Gauge
	gridAccumulateTime   prometheus.Histogram
	gridStripeWaitTime   prometheus.Histogram
	gridFinalizedPixels  prometheus.Gauge
	coordinateLiveObject prometheus.Gauge

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerBusyCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Container store metrics
	storeReadLatency  prometheus.Histogram
	storeWriteLatency prometheus.Histogram
	storeErrors       *prometheus.CounterVec

	// Noise import metrics
	importsTotal  *prometheus.CounterVec
	importBoxSize prometheus.Gauge

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "skymap",
		subsystem:      "rebin",
		latencyBuckets: defaultLatencyBuckets,
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.latencyBuckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	m.jobsSubmitted = m.counter("jobs_submitted_total", "Total number of rebin jobs submitted")
	m.jobsCompleted = m.counter("jobs_completed_total", "Total number of rebin jobs that completed successfully")
	m.jobsFailed = m.counter("jobs_failed_total", "Total number of rebin jobs that aborted with an error")
	m.jobDuration = m.histogram("job_duration_milliseconds", "Wall time of one rebin job in milliseconds")

	m.slicesProcessed = m.counter("slices_processed_total", "Total number of time slices pasted into output maps")
	m.samplesUsed = m.counter("samples_used_total", "Total number of detector samples that contributed to an output map")
	m.sliceLatency = m.histogram("slice_latency_milliseconds", "Time to map and accumulate one time slice in milliseconds")

	m.gridStripeCount = m.gauge("grid_stripe_count", "Number of lock stripes in the output grid")
	m.gridPixels = m.gauge("grid_pixels", "Number of pixels in the output grid")
	m.gridAccumulateTime = m.histogram("grid_accumulate_milliseconds", "Time spent applying one slice to the output grid")
	m.gridStripeWaitTime = m.histogram("grid_stripe_wait_milliseconds", "Time spent waiting for output grid stripe locks per slice")
	m.gridFinalizedPixels = m.gauge("grid_good_pixels", "Number of good pixels after normalisation")
	m.coordinateLiveObject = m.gauge("coordinate_live_objects", "Number of live coordinate library objects")

	m.queueSize = m.gauge("queue_size", "Current number of jobs in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the job queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (0-1)")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Total number of jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of rejected enqueue attempts")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of workers in the pool")
	m.workerBusyCount = m.gauge("worker_busy_count", "Number of workers currently running a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Job processing latency per worker in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Total number of worker errors")

	m.storeReadLatency = m.histogram("store_read_latency_milliseconds", "Container store read latency in milliseconds")
	m.storeWriteLatency = m.histogram("store_write_latency_milliseconds", "Container store write latency in milliseconds")
	m.storeErrors = m.counterVec("store_errors_total", "Container store errors by operation", "operation")

	m.importsTotal = m.counterVec("noise_imports_total", "Noise model imports by outcome", "outcome")
	m.importBoxSize = m.gauge("noise_import_box_size", "Box size of the last imported noise model")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", ConstLabels: m.constLabels, Buckets: m.latencyBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and error type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds")
}

// Rebin job metrics.

// RecordJobSubmitted increments the submitted jobs counter.
func RecordJobSubmitted() { globalManager.jobsSubmitted.Inc() }

// RecordJobCompleted records a successful job and its duration.
func RecordJobCompleted(durationMs float64) {
	globalManager.jobsCompleted.Inc()
	globalManager.jobDuration.Observe(durationMs)
}

// RecordJobFailed records a failed job and its duration.
func RecordJobFailed(durationMs float64) {
	globalManager.jobsFailed.Inc()
	globalManager.jobDuration.Observe(durationMs)
}

// RecordSlice records one processed time slice.
func RecordSlice(latencyMs float64, used int) {
	globalManager.slicesProcessed.Inc()
	globalManager.samplesUsed.Add(float64(used))
	globalManager.sliceLatency.Observe(latencyMs)
}

// Output grid metrics.

// UpdateGridShape sets the stripe and pixel gauges.
func UpdateGridShape(stripes, pixels int) {
	globalManager.gridStripeCount.Set(float64(stripes))
	globalManager.gridPixels.Set(float64(pixels))
}

// RecordGridAccumulate records time spent applying contributions and waiting for stripe locks.
func RecordGridAccumulate(applyMs, waitMs float64) {
	globalManager.gridAccumulateTime.Observe(applyMs)
	globalManager.gridStripeWaitTime.Observe(waitMs)
}

// UpdateGoodPixels sets the number of good pixels after normalisation.
func UpdateGoodPixels(count int) { globalManager.gridFinalizedPixels.Set(float64(count)) }

// UpdateCoordinateLiveObjects sets the live coordinate object gauge.
func UpdateCoordinateLiveObjects(count int64) {
	globalManager.coordinateLiveObject.Set(float64(count))
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker metrics.

// UpdateWorkerActiveCount sets the number of workers in the pool.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// WorkerBusy adjusts the busy worker gauge by delta.
func WorkerBusy(delta int) { globalManager.workerBusyCount.Add(float64(delta)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// Container store metrics.

// RecordStoreRead records a container read latency.
func RecordStoreRead(latencyMs float64) { globalManager.storeReadLatency.Observe(latencyMs) }

// RecordStoreWrite records a container write latency.
func RecordStoreWrite(latencyMs float64) { globalManager.storeWriteLatency.Observe(latencyMs) }

// RecordStoreError increments the store error counter for an operation.
func RecordStoreError(operation string) {
	globalManager.storeErrors.WithLabelValues(operation).Inc()
}

// Noise import metrics.

// RecordNoiseImport records one import attempt by outcome (imported, skipped, failed).
func RecordNoiseImport(outcome string, boxSize int) {
	globalManager.importsTotal.WithLabelValues(outcome).Inc()
	if outcome == "imported" {
		globalManager.importBoxSize.Set(float64(boxSize))
	}
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
