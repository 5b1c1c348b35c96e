package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initStorageMetrics() {
	r.EventsAppended = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tracedb_events_appended_total",
			Help: "Total number of events appended to the event store",
		},
	)

	r.EventsOutOfOrder = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tracedb_events_out_of_order_total",
			Help: "Events rejected or dropped because their timestamp went backwards",
		},
	)

	r.EventsBuffered = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tracedb_events_buffered",
			Help: "Events waiting in the reorder buffer",
		},
	)

	r.PagesAllocated = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tracedb_pages_allocated",
			Help: "Pages allocated in the page store",
		},
	)

	r.EncodedBits = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tracedb_event_encoded_bits",
			Help: "Total encoded size of stored events in bits",
		},
	)

	r.ObjectsStored = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedb_objects_stored_total",
			Help: "Object states and class references stored",
		},
		[]string{"kind"},
	)

	r.ObjectBytes = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tracedb_object_bytes_total",
			Help: "Serialized object state bytes stored, before compression",
		},
	)

	r.ObjectsDropped = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tracedb_objects_dropped_total",
			Help: "Object states and references dropped because their id went backwards",
		},
	)
}

func (r *Registry) initIndexMetrics() {
	r.TuplesIndexed = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedb_tuples_indexed_total",
			Help: "Total number of tuples appended to attribute indexes",
		},
		[]string{"dimension"},
	)

	r.IndexCount = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracedb_indexes",
			Help: "Number of attribute indexes created",
		},
		[]string{"dimension"},
	)
}
