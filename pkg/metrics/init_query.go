package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedb_queries_total",
			Help: "Total number of condition queries executed",
		},
		[]string{"query_type", "status"},
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracedb_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"query_type"},
	)

	r.TuplesScanned = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracedb_query_tuples_scanned",
			Help:    "Number of index tuples read per query",
			Buckets: []float64{10, 100, 1000, 10000, 100000, 1000000},
		},
		[]string{"query_type"},
	)

	r.CountRequests = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedb_count_requests_total",
			Help: "Total number of time-bucket count requests",
		},
		[]string{"path"},
	)

	r.SlowQueries = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedb_slow_queries_total",
			Help: "Total number of slow queries (>1s)",
		},
		[]string{"query_type"},
	)
}
