package eventgen

import (
	"reflect"
	"testing"

	"github.com/dd0wney/cluso-tracedb/pkg/condition"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/eventstore"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := New(42, DefaultRanges).Events(500)
	b := New(42, DefaultRanges).Events(500)
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("event %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	c := New(43, DefaultRanges).Events(500)
	same := 0
	for i := range a {
		if a[i].Equal(c[i]) {
			same++
		}
	}
	if same == len(a) {
		t.Error("different seeds produced the same trace")
	}
}

func TestGenerator_Ranges(t *testing.T) {
	r := Ranges{Threads: 3, Depth: 2, Behaviors: 5, Fields: 4, Variables: 2, Objects: 7, ArrayIndexes: 3, Probes: 9, MaxStep: 5}
	g := New(1, r)
	var last uint64
	seen := map[event.Kind]bool{}
	for i, rec := range g.Events(2000) {
		if rec.Timestamp < last {
			t.Fatalf("event %d: timestamp %d after %d", i, rec.Timestamp, last)
		}
		last = rec.Timestamp
		if rec.ParentTimestamp > rec.Timestamp {
			t.Fatalf("event %d: parent %d after timestamp %d", i, rec.ParentTimestamp, rec.Timestamp)
		}
		if int(rec.Thread) >= r.Threads || int(rec.Depth) >= r.Depth {
			t.Fatalf("event %d out of range: %v", i, rec)
		}
		if rec.ProbeID < 1 || int(rec.ProbeID) > r.Probes {
			t.Fatalf("event %d: probe %d", i, rec.ProbeID)
		}
		if len(rec.AdviceCFlow) != 0 {
			t.Fatalf("event %d has advice cflow without advice sources", i)
		}
		for _, a := range registry.Attributes(rec, nil) {
			if a.Dim == registry.DimObject && (a.Value < 1 || a.Value > uint64(r.Objects)) {
				t.Fatalf("event %d: object id %d", i, a.Value)
			}
		}
		seen[rec.Kind()] = true
	}
	for _, k := range event.Kinds() {
		if !seen[k] {
			t.Errorf("kind %s never generated", k)
		}
	}
}

func TestGenerator_StoresEvents(t *testing.T) {
	pages, err := pagestore.NewMemoryStore(pagestore.DefaultPageSize)
	if err != nil {
		t.Fatal(err)
	}
	store := eventstore.New(pages)
	events := New(5, DefaultRanges).Events(300)
	ptrs := make([]eventstore.Pointer, len(events))
	for i, rec := range events {
		if ptrs[i], err = store.Append(rec); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}
	for i, p := range ptrs {
		got, err := store.Get(p)
		if err != nil || !got.Equal(events[i]) {
			t.Fatalf("event %d: got %v, %v; want %v", i, got, err, events[i])
		}
	}
}

func TestRegisterProbes(t *testing.T) {
	g := New(3, DefaultRanges)
	table := registry.NewProbeTable()
	if err := g.RegisterProbes(table); err != nil {
		t.Fatalf("RegisterProbes failed: %v", err)
	}
	if table.Len() != DefaultRanges.Probes {
		t.Errorf("Len() = %d, want %d", table.Len(), DefaultRanges.Probes)
	}
	if _, ok := table.Lookup(uint32(DefaultRanges.Probes)); !ok {
		t.Error("highest probe id missing")
	}

	before := table.All()
	if err := New(4, DefaultRanges).RegisterProbes(table); err != nil {
		t.Fatalf("second RegisterProbes failed: %v", err)
	}
	if !reflect.DeepEqual(table.All(), before) {
		t.Error("second RegisterProbes replaced existing probes")
	}
}

func TestGenerator_Objects(t *testing.T) {
	pages, err := pagestore.NewMemoryStore(pagestore.MinPageSize)
	if err != nil {
		t.Fatal(err)
	}
	store, err := objectstore.New(pages, objectstore.Options{})
	if err != nil {
		t.Fatal(err)
	}
	g, h := New(11, DefaultRanges), New(11, DefaultRanges)
	for id := uint64(1); id <= 50; id++ {
		state := g.ObjectState()
		if len(state)%8 != 0 {
			t.Fatalf("state %d has %d bytes", id, len(state))
		}
		if !reflect.DeepEqual(state, h.ObjectState()) {
			t.Fatalf("state %d is not deterministic", id)
		}
		if err := store.Put(id, state); err != nil {
			t.Fatalf("Put(%d) failed: %v", id, err)
		}
	}

	classes := g.Classes(8)
	for i, c := range classes {
		if c.ID != uint64(i+1) || c.IsArray() != (c.ID%4 == 0) {
			t.Errorf("class %d = %+v", i, c)
		}
		if err := store.RegisterClass(c); err != nil {
			t.Fatalf("RegisterClass(%+v) failed: %v", c, err)
		}
	}
	if st := store.Stats(); st.Objects != 50 || st.Classes != 8 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestConditionGenerator_Valid(t *testing.T) {
	pages, _ := pagestore.NewMemoryStore(pagestore.MinPageSize)
	reg, err := registry.New(pages, registry.Options{})
	if err != nil {
		t.Fatal(err)
	}
	eng := condition.NewEngine(reg, eventstore.New(pages), nil, condition.Options{})

	gen := NewConditions(9, DefaultRanges)
	compound := 0
	for i := 0; i < 500; i++ {
		c := gen.Next()
		if err := eng.Validate(c); err != nil {
			t.Fatalf("condition %d (%v) invalid: %v", i, c, err)
		}
		if _, ok := c.(*condition.Simple); !ok {
			compound++
		}
	}
	if compound == 0 || compound == 500 {
		t.Errorf("compound conditions = %d of 500", compound)
	}

	again := NewConditions(9, DefaultRanges)
	first := NewConditions(9, DefaultRanges).Next().String()
	if got := again.Next().String(); got != first {
		t.Errorf("same seed gave %q and %q", got, first)
	}
}
