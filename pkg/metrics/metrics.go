// Package metrics exposes Prometheus collectors for the event store, the
// attribute indexes and the query engine.
package metrics

import (
	"runtime"
	"time"
)

// Count paths for RecordCount
const (
	CountFast  = "fast"
	CountMerge = "merge"
)

// RecordAppend records one stored event and the tuples it produced per
// dimension.
func (r *Registry) RecordAppend(tuples map[string]int) {
	r.EventsAppended.Inc()
	for dim, n := range tuples {
		r.TuplesIndexed.WithLabelValues(dim).Add(float64(n))
	}
}

// RecordOutOfOrder records an event whose timestamp went backwards
func (r *Registry) RecordOutOfOrder() {
	r.EventsOutOfOrder.Inc()
}

// RecordObject records a stored object state of n bytes
func (r *Registry) RecordObject(n int) {
	r.ObjectsStored.WithLabelValues("state").Inc()
	r.ObjectBytes.Add(float64(n))
}

// RecordObjectRef records a stored object class reference
func (r *Registry) RecordObjectRef() {
	r.ObjectsStored.WithLabelValues("ref").Inc()
}

// RecordObjectDropped records a late object state or reference
func (r *Registry) RecordObjectDropped() {
	r.ObjectsDropped.Inc()
}

// RecordIndexCreated records a new attribute index for dim
func (r *Registry) RecordIndexCreated(dim string) {
	r.IndexCount.WithLabelValues(dim).Inc()
}

// UpdateStorage sets the storage gauges
func (r *Registry) UpdateStorage(pages int, encodedBits uint64, buffered int) {
	r.PagesAllocated.Set(float64(pages))
	r.EncodedBits.Set(float64(encodedBits))
	r.EventsBuffered.Set(float64(buffered))
}

// RecordQuery records a query execution
func (r *Registry) RecordQuery(queryType, status string, duration time.Duration, tuplesScanned int) {
	r.QueriesTotal.WithLabelValues(queryType, status).Inc()
	r.QueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
	r.TuplesScanned.WithLabelValues(queryType).Observe(float64(tuplesScanned))

	if duration > time.Second {
		r.SlowQueries.WithLabelValues(queryType).Inc()
	}
}

// RecordCount records a count request served by path
func (r *Registry) RecordCount(path string) {
	r.CountRequests.WithLabelValues(path).Inc()
}

// UpdateSystem refreshes the process gauges
func (r *Registry) UpdateSystem(started time.Time) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(ms.Alloc))
}
