package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(buildInfo, dbPool, cacheLookupsTotal) }

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1; labeled with the running version and commit.",
		},
		[]string{"version", "commit"},
	)

	dbPool = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_connections",
			Help:      "Postgres pool connections by state.",
		},
		[]string{"state"}, // max | total | idle | acquired
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Redis read-through lookups, by cache and result.",
		},
		[]string{"cache", "result"}, // result: hit | miss
	)
)

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetDBPool publishes one pool snapshot.
func SetDBPool(max, total, idle, acquired int32) {
	dbPool.WithLabelValues("max").Set(float64(max))
	dbPool.WithLabelValues("total").Set(float64(total))
	dbPool.WithLabelValues("idle").Set(float64(idle))
	dbPool.WithLabelValues("acquired").Set(float64(acquired))
}

func IncCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(norm(cache), result).Inc()
}
