package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the collectors of one database instance
type Registry struct {
	// Storage Metrics
	EventsAppended   prometheus.Counter
	EventsOutOfOrder prometheus.Counter
	EventsBuffered   prometheus.Gauge
	PagesAllocated   prometheus.Gauge
	EncodedBits      prometheus.Gauge

	// Object Metrics
	ObjectsStored  *prometheus.CounterVec
	ObjectBytes    prometheus.Counter
	ObjectsDropped prometheus.Counter

	// Index Metrics
	TuplesIndexed *prometheus.CounterVec
	IndexCount    *prometheus.GaugeVec

	// Query Metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	TuplesScanned *prometheus.HistogramVec
	CountRequests *prometheus.CounterVec
	SlowQueries   *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initStorageMetrics()
	r.initIndexMetrics()
	r.initQueryMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
