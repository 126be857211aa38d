// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speaking_assessment"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Queue metrics
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsInFlight  *prometheus.GaugeVec
	JobDuration   *prometheus.HistogramVec

	// Transcription metrics
	TranscriptionRuns    *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec

	// Reasoning-service metrics
	ReasoningCalls     *prometheus.CounterVec
	ReasoningFallbacks *prometheus.CounterVec
	ReasoningLatency   *prometheus.HistogramVec

	// Scenario metrics
	HintsIssued       prometheus.Counter
	SessionsCompleted prometheus.Counter
	FinalScores       prometheus.Histogram

	// Outcome event metrics
	EventPublishTotal  *prometheus.CounterVec
	EventPublishErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		JobsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}, []string{"backend", "job_type"}),
		JobsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of job executions by outcome",
		}, []string{"backend", "job_type", "outcome"}),
		JobsRetried: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_retried_total",
			Help:      "Total number of job redeliveries by the durable backend",
		}, []string{"job_type"}),
		JobsInFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently executing",
		}, []string{"backend"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handler duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"job_type"}),

		TranscriptionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_runs_total",
			Help:      "Total number of transcription runs by provider and outcome",
		}, []string{"provider", "outcome"}),
		TranscriptionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Transcription wall-clock latency in seconds",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"provider"}),

		ReasoningCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_calls_total",
			Help:      "Total number of reasoning-service calls by kind and outcome",
		}, []string{"kind", "outcome"}),
		ReasoningFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_fallbacks_total",
			Help:      "Total number of times a default answer replaced the reasoning-service response",
		}, []string{"kind"}),
		ReasoningLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reasoning_latency_seconds",
			Help:      "Reasoning-service call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),

		HintsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_hints_total",
			Help:      "Total number of hints issued",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenario_sessions_completed_total",
			Help:      "Total number of scenario sessions that reached completion",
		}),
		FinalScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scenario_final_score",
			Help:      "Distribution of scenario final scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		EventPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of outcome events published",
		}, []string{"event_type"}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of outcome event publish errors",
		}, []string{"event_type"}),
	}
}

// RecordEnqueue records a job being accepted by a backend.
func (m *Metrics) RecordEnqueue(backend, jobType string) {
	m.JobsEnqueued.WithLabelValues(backend, jobType).Inc()
}

// RecordJobStart marks a job as executing.
func (m *Metrics) RecordJobStart(backend string) {
	m.JobsInFlight.WithLabelValues(backend).Inc()
}

// RecordJobEnd records the outcome of one job execution.
func (m *Metrics) RecordJobEnd(backend, jobType string, err error, durationSeconds float64) {
	m.JobsInFlight.WithLabelValues(backend).Dec()
	m.JobDuration.WithLabelValues(jobType).Observe(durationSeconds)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.JobsProcessed.WithLabelValues(backend, jobType, outcome).Inc()
}

// RecordRetry records a redelivery of a failed job.
func (m *Metrics) RecordRetry(jobType string) {
	m.JobsRetried.WithLabelValues(jobType).Inc()
}

// RecordTranscription records one transcription run.
func (m *Metrics) RecordTranscription(provider, outcome string, latencySeconds float64) {
	m.TranscriptionRuns.WithLabelValues(provider, outcome).Inc()
	m.TranscriptionLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordReasoning records one reasoning-service call.
func (m *Metrics) RecordReasoning(kind string, err error, latencySeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ReasoningCalls.WithLabelValues(kind, outcome).Inc()
	m.ReasoningLatency.WithLabelValues(kind).Observe(latencySeconds)
}

// RecordFallback records a default answer being used in place of a response.
func (m *Metrics) RecordFallback(kind string) {
	m.ReasoningFallbacks.WithLabelValues(kind).Inc()
}

// RecordHint records a hint being issued.
func (m *Metrics) RecordHint() {
	m.HintsIssued.Inc()
}

// RecordSessionCompleted records a session reaching its terminal state.
func (m *Metrics) RecordSessionCompleted() {
	m.SessionsCompleted.Inc()
}

// RecordFinalScore records a final scenario score.
func (m *Metrics) RecordFinalScore(score float64) {
	m.FinalScores.Observe(score)
}

// RecordEventPublish records an outcome event publish attempt.
func (m *Metrics) RecordEventPublish(eventType string, err error) {
	m.EventPublishTotal.WithLabelValues(eventType).Inc()
	if err != nil {
		m.EventPublishErrors.WithLabelValues(eventType).Inc()
	}
}
