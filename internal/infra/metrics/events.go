package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobEventsPublishedTotal) }

var jobEventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_events_published_total",
		Help:      "Job events handed to the event bus, by outcome.",
	},
	[]string{"outcome"}, // ok | error
)

func IncJobEvent(outcome string) {
	jobEventsPublishedTotal.WithLabelValues(norm(outcome)).Inc()
}
