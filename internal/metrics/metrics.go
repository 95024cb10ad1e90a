package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_evaluations_total",
			Help: "Evaluation cycles by outcome",
		},
		[]string{"outcome"}, // succeeded, skipped, failed, abandoned
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_evaluation_duration_seconds",
			Help:    "Duration of one project evaluation cycle",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	PersistenceRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_persistence_retries_total",
			Help: "Retries of transient persistence failures",
		},
		[]string{"operation"},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_alert_transitions_total",
			Help: "Alert lifecycle transitions",
		},
		[]string{"kind", "severity"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_notifications_total",
			Help: "Alert events handed to notification sinks",
		},
		[]string{"sink", "status"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_score_cache_requests_total",
			Help: "Latest-score cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	SchedulerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_scheduler_in_flight",
			Help: "Evaluations currently running",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordEvaluation(outcome string, duration time.Duration) {
	EvaluationsTotal.WithLabelValues(outcome).Inc()
	EvaluationDuration.Observe(duration.Seconds())
}

func IncrementPersistenceRetry(operation string) {
	PersistenceRetries.WithLabelValues(operation).Inc()
}

func IncrementAlertTransition(kind, severity string) {
	AlertTransitions.WithLabelValues(kind, severity).Inc()
}

func IncrementNotification(sink, status string) {
	NotificationsTotal.WithLabelValues(sink, status).Inc()
}

func IncrementCache(result string) {
	CacheRequests.WithLabelValues(result).Inc()
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
