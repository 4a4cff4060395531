package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalyzeRequestsTotal counts /analyze requests by outcome.
	AnalyzeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixanalyzer",
		Subsystem: "relay",
		Name:      "analyze_requests_total",
		Help:      "Total number of analyze requests handled, labeled by result.",
	}, []string{"result"})

	// AnalyzeDurationSeconds is end-to-end time per analyze request,
	// including the remote upload and polling phases.
	AnalyzeDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mixanalyzer",
		Subsystem: "relay",
		Name:      "analyze_duration_seconds",
		Help:      "End-to-end time to serve an analyze request.",
		// Polling dominates, so buckets stretch well past a minute.
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 180, 300},
	}, []string{"result"})

	// UploadRetriesTotal counts upload re-POSTs by trigger.
	UploadRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixanalyzer",
		Subsystem: "relay",
		Name:      "upload_retries_total",
		Help:      "Total number of upload retries, labeled by reason (csrf_refresh or overload).",
	}, []string{"reason"})

	// PollAttemptsTotal counts individual result-poll requests.
	PollAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mixanalyzer",
		Subsystem: "relay",
		Name:      "poll_attempts_total",
		Help:      "Total number of result polling requests issued against the remote host.",
	})

	// VisualsFallbackTotal counts analyze calls that degraded to the
	// visuals-only payload.
	VisualsFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mixanalyzer",
		Subsystem: "relay",
		Name:      "visuals_fallback_total",
		Help:      "Total number of analyze calls that timed out polling and returned the visuals-only fallback.",
	})
)

// Register registers relay metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalyzeRequestsTotal,
			AnalyzeDurationSeconds,
			UploadRetriesTotal,
			PollAttemptsTotal,
			VisualsFallbackTotal,
		)
	})
}
