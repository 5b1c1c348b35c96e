package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	m, ok := c.(prometheus.Metric)
	if !ok {
		t.Fatalf("%T is not a single metric", c)
	}
	var metric dto.Metric
	if err := m.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	switch {
	case metric.Counter != nil:
		return metric.Counter.GetValue()
	case metric.Gauge != nil:
		return metric.Gauge.GetValue()
	}
	t.Fatalf("metric has neither counter nor gauge")
	return 0
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.EventsAppended == nil || r.TuplesIndexed == nil || r.QueriesTotal == nil {
		t.Fatal("collectors not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Fatal("Prometheus registry not initialized")
	}

	// two registries must not collide
	r2 := NewRegistry()
	r.RecordOutOfOrder()
	if v := counterValue(t, r2.EventsOutOfOrder); v != 0 {
		t.Errorf("second registry saw %v out-of-order events", v)
	}
}

func TestRecordAppend(t *testing.T) {
	r := NewRegistry()
	r.RecordAppend(map[string]int{"thread": 1, "object": 3})
	r.RecordAppend(map[string]int{"thread": 1})

	if v := counterValue(t, r.EventsAppended); v != 2 {
		t.Errorf("EventsAppended = %v, want 2", v)
	}
	obj, err := r.TuplesIndexed.GetMetricWithLabelValues("object")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	if v := counterValue(t, obj); v != 3 {
		t.Errorf("TuplesIndexed{object} = %v, want 3", v)
	}
	thr, _ := r.TuplesIndexed.GetMetricWithLabelValues("thread")
	if v := counterValue(t, thr); v != 2 {
		t.Errorf("TuplesIndexed{thread} = %v, want 2", v)
	}
}

func TestRecordIndexCreatedAndStorage(t *testing.T) {
	r := NewRegistry()
	r.RecordIndexCreated("field")
	r.RecordIndexCreated("field")
	g, _ := r.IndexCount.GetMetricWithLabelValues("field")
	if v := counterValue(t, g); v != 2 {
		t.Errorf("IndexCount{field} = %v, want 2", v)
	}

	r.UpdateStorage(12, 4096, 3)
	if v := counterValue(t, r.PagesAllocated); v != 12 {
		t.Errorf("PagesAllocated = %v", v)
	}
	if v := counterValue(t, r.EncodedBits); v != 4096 {
		t.Errorf("EncodedBits = %v", v)
	}
	if v := counterValue(t, r.EventsBuffered); v != 3 {
		t.Errorf("EventsBuffered = %v", v)
	}
}

func TestRecordObjects(t *testing.T) {
	r := NewRegistry()
	r.RecordObject(100)
	r.RecordObject(28)
	r.RecordObjectRef()
	r.RecordObjectDropped()

	states, _ := r.ObjectsStored.GetMetricWithLabelValues("state")
	if v := counterValue(t, states); v != 2 {
		t.Errorf("ObjectsStored{state} = %v, want 2", v)
	}
	refs, _ := r.ObjectsStored.GetMetricWithLabelValues("ref")
	if v := counterValue(t, refs); v != 1 {
		t.Errorf("ObjectsStored{ref} = %v, want 1", v)
	}
	if v := counterValue(t, r.ObjectBytes); v != 128 {
		t.Errorf("ObjectBytes = %v, want 128", v)
	}
	if v := counterValue(t, r.ObjectsDropped); v != 1 {
		t.Errorf("ObjectsDropped = %v, want 1", v)
	}
}

func TestRecordQuery(t *testing.T) {
	r := NewRegistry()
	r.RecordQuery("conjunction", "success", 10*time.Millisecond, 120)
	r.RecordQuery("conjunction", "success", 2*time.Second, 5000)
	r.RecordQuery("simple", "error", time.Millisecond, 0)

	c, _ := r.QueriesTotal.GetMetricWithLabelValues("conjunction", "success")
	if v := counterValue(t, c); v != 2 {
		t.Errorf("QueriesTotal = %v, want 2", v)
	}
	slow, _ := r.SlowQueries.GetMetricWithLabelValues("conjunction")
	if v := counterValue(t, slow); v != 1 {
		t.Errorf("SlowQueries = %v, want 1", v)
	}

	obs, err := r.TuplesScanned.GetMetricWithLabelValues("conjunction")
	if err != nil {
		t.Fatal(err)
	}
	var metric dto.Metric
	if err := obs.(prometheus.Metric).Write(&metric); err != nil {
		t.Fatal(err)
	}
	if got := metric.Histogram.GetSampleCount(); got != 2 {
		t.Errorf("TuplesScanned sample count = %d, want 2", got)
	}
	if got := metric.Histogram.GetSampleSum(); got != 5120 {
		t.Errorf("TuplesScanned sum = %v, want 5120", got)
	}
}

func TestRecordCount(t *testing.T) {
	r := NewRegistry()
	r.RecordCount(CountFast)
	r.RecordCount(CountMerge)
	r.RecordCount(CountMerge)
	m, _ := r.CountRequests.GetMetricWithLabelValues(CountMerge)
	if v := counterValue(t, m); v != 2 {
		t.Errorf("CountRequests{merge} = %v, want 2", v)
	}
}

func TestUpdateSystem(t *testing.T) {
	r := NewRegistry()
	r.UpdateSystem(time.Now().Add(-time.Minute))
	if v := counterValue(t, r.UptimeSeconds); v < 59 {
		t.Errorf("UptimeSeconds = %v", v)
	}
	if v := counterValue(t, r.GoRoutines); v < 1 {
		t.Errorf("GoRoutines = %v", v)
	}
}

func TestGather(t *testing.T) {
	r := NewRegistry()
	r.RecordAppend(map[string]int{"kind": 1})
	families, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tracedb_events_appended_total" {
			found = true
		}
	}
	if !found {
		t.Error("tracedb_events_appended_total not gathered")
	}
}
