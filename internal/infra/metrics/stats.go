package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(statsUpdateFailuresTotal) }

var statsUpdateFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stats_update_failures_total",
		Help:      "Best-effort statistics updates that failed, by scope.",
	},
	[]string{"scope"}, // user | global
)

func IncStatsFailure(scope string) {
	statsUpdateFailuresTotal.WithLabelValues(norm(scope)).Inc()
}
