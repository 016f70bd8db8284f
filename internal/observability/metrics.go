package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job metrics
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthesis_jobs_submitted_total",
		Help: "Total number of synthesis jobs accepted into the queue",
	}, []string{"kind"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthesis_jobs_completed_total",
		Help: "Total number of synthesis jobs finished",
	}, []string{"kind", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synthesis_job_duration_seconds",
		Help:    "Time from dequeue to resolved result in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"kind"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthesis_queue_depth",
		Help: "Number of jobs waiting for a worker",
	})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synthesis_jobs_in_flight",
		Help: "Number of jobs currently executing on a worker",
	})

	// Validation metrics
	validationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthesis_validation_rejections_total",
		Help: "Total number of submissions rejected by validation",
	}, []string{"field"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "synthesis_engine_circuit_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Archive metrics
	archiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synthesis_archive_uploads_total",
		Help: "Total number of generated files pushed to the object store",
	}, []string{"status"})
)

// JobMetrics tracks metrics for a single job execution
type JobMetrics struct {
	kind      string
	startTime time.Time
}

// NewJobMetrics marks a job as started on a worker
func NewJobMetrics(kind string) *JobMetrics {
	jobsInFlight.Inc()
	return &JobMetrics{
		kind:      kind,
		startTime: time.Now(),
	}
}

// RecordEnd records the end of a job execution
func (m *JobMetrics) RecordEnd(success bool) {
	jobsInFlight.Dec()
	jobDuration.WithLabelValues(m.kind).Observe(time.Since(m.startTime).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	jobsCompleted.WithLabelValues(m.kind, status).Inc()
}

// RecordJobSubmitted counts a job accepted into the queue
func RecordJobSubmitted(kind string) {
	jobsSubmitted.WithLabelValues(kind).Inc()
}

// RecordJobAbandoned counts a queued job resolved without running
func RecordJobAbandoned(kind string) {
	jobsCompleted.WithLabelValues(kind, "abandoned").Inc()
}

// RecordValidationRejection counts a submission rejected before queueing
func RecordValidationRejection(field string) {
	validationRejections.WithLabelValues(field).Inc()
}

// SetQueueDepth publishes the current queue depth
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// SetCircuitState publishes a circuit breaker state
func SetCircuitState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordArchiveUpload counts an object store upload attempt outcome
func RecordArchiveUpload(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	archiveUploads.WithLabelValues(status).Inc()
}
