package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(editJobsTotal, editProcessingSeconds, pollingAttempts, recoveredJobsTotal)
}

var (
	editJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_jobs_total",
			Help:      "Edit jobs that reached a terminal state, labeled by status.",
		},
		[]string{"status"}, // completed | failed | cancelled
	)

	editProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "edit_processing_seconds",
			Help:      "Time from provider submission to terminal state.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	pollingAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "polling_attempts",
			Help:      "Poll calls needed per run, labeled by outcome.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 150},
		},
		[]string{"outcome"}, // ready | provider_error | timeout | cancelled
	)

	recoveredJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_jobs_total",
			Help:      "Stale jobs handled by the recovery worker, labeled by action.",
		},
		[]string{"action"}, // resumed | failed
	)
)

func IncEditJob(status string) {
	editJobsTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveProcessingSeconds(s float64) {
	editProcessingSeconds.Observe(s)
}

func ObservePollingAttempts(outcome string, n int) {
	pollingAttempts.WithLabelValues(norm(outcome)).Observe(float64(n))
}

func IncRecoveredJob(action string) {
	recoveredJobsTotal.WithLabelValues(norm(action)).Inc()
}
