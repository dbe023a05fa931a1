package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(providerRequestsTotal, providerRequestDuration) }

var (
	providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Requests sent to the edit provider.",
		},
		[]string{"op", "outcome"}, // op: submit|poll|fetch|health, outcome: ok|error
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Edit provider request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func ObserveProviderRequest(op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerRequestsTotal.WithLabelValues(norm(op), outcome).Inc()
	providerRequestDuration.WithLabelValues(norm(op)).Observe(time.Since(started).Seconds())
}
