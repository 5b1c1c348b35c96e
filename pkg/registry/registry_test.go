package registry

import (
	"errors"
	"testing"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

func newTestRegistry(t *testing.T, opts Options) (*Registry, pagestore.Store) {
	t.Helper()
	pages, err := pagestore.NewMemoryStore(pagestore.MinPageSize)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	r, err := New(pages, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r, pages
}

func hasAttr(attrs []Attribute, d Dimension, v uint64, role event.Role) bool {
	for _, a := range attrs {
		if a.Dim == d && a.Value == v && a.Role == role {
			return true
		}
	}
	return false
}

func TestDimensionNames(t *testing.T) {
	for _, d := range Dimensions() {
		got, ok := ParseDimension(d.String())
		if !ok || got != d {
			t.Errorf("ParseDimension(%q) = %v, %v", d.String(), got, ok)
		}
	}
	if _, ok := ParseDimension("colour"); ok {
		t.Error("ParseDimension accepted an unknown name")
	}
	if Dimension(200).Valid() {
		t.Error("Dimension(200) should be invalid")
	}
	if !DimObject.Info().Split || !DimObject.Info().Roles || DimThread.Info().Roles {
		t.Error("unexpected dimension flags")
	}
}

func TestSplitValue(t *testing.T) {
	got, err := splitValue(0x0003_0002, []int{16, 16})
	if err != nil {
		t.Fatalf("splitValue failed: %v", err)
	}
	if got[0] != 2 || got[1] != 3 {
		t.Errorf("parts = %v, want [2 3]", got)
	}
	if _, err := splitValue(1<<32, []int{16, 16}); !errors.Is(err, ErrKeyOverflow) {
		t.Errorf("err = %v, want ErrKeyOverflow", err)
	}
	if got, err := splitValue(^uint64(0), []int{32, 32}); err != nil || got[0] != 1<<32-1 || got[1] != 1<<32-1 {
		t.Errorf("full width split = %v, %v", got, err)
	}
	for _, parts := range [][]int{nil, {0}, {64}, {40, 40}} {
		if err := validateParts(parts); !errors.Is(err, ErrInvalidParts) {
			t.Errorf("validateParts(%v) = %v", parts, err)
		}
	}
}

func TestAttributes(t *testing.T) {
	probes := NewProbeTable()
	if err := probes.Register(9, ProbeInfo{Behavior: 70, BytecodeIndex: 12, AdviceSource: 4, BytecodeRole: 2}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	t.Run("call", func(t *testing.T) {
		rec := &event.Record{
			Thread: 3, Depth: 5, Timestamp: 100, ProbeID: 9, AdviceCFlow: []uint16{8, 8, 6},
			Payload: &event.BehaviorCall{
				Call: event.KindMethodCall, Called: 11, Executed: 11,
				Target: event.ObjectValue(40),
				Args:   []event.Value{event.ObjectValue(41), event.IntValue(5), event.ObjectValue(41)},
			},
		}
		attrs := Attributes(rec, probes)
		want := []Attribute{
			{DimKind, uint64(event.KindMethodCall), 0},
			{DimThread, 3, 0},
			{DimDepth, 5, 0},
			{DimAdviceCFlow, 8, 0},
			{DimAdviceCFlow, 6, 0},
			{DimLocation, 12, 0},
			{DimAdviceSource, 4, 0},
			{DimBytecodeRole, 2, 0},
			{DimBehavior, 70, event.RoleOperation},
			{DimBehavior, 11, event.RoleCalled},
			{DimBehavior, 11, event.RoleExecuted},
			{DimObject, 40, event.RoleTarget},
			{DimObject, 41, event.ArgRole(0)},
			{DimObject, 41, event.ArgRole(2)},
		}
		if len(attrs) != len(want) {
			t.Fatalf("got %d attributes %v, want %d", len(attrs), attrs, len(want))
		}
		for _, w := range want {
			if !hasAttr(attrs, w.Dim, w.Value, w.Role) {
				t.Errorf("missing %+v", w)
			}
		}
	})

	tests := []struct {
		name    string
		payload event.Payload
		want    []Attribute
		absent  []Attribute
	}{
		{
			name:    "exit",
			payload: &event.BehaviorExit{Behavior: 11, Result: event.ObjectValue(50)},
			want:    []Attribute{{DimBehavior, 11, event.RoleExit}, {DimObject, 50, event.RoleResult}},
		},
		{
			name:    "exit with primitive result",
			payload: &event.BehaviorExit{Behavior: 11, Result: event.IntValue(50)},
			want:    []Attribute{{DimBehavior, 11, event.RoleExit}},
			absent:  []Attribute{{DimObject, 50, event.RoleResult}},
		},
		{
			name:    "field write",
			payload: &event.FieldWrite{Field: 42, Target: event.ObjectValue(1), Value: event.ObjectValue(2)},
			want:    []Attribute{{DimField, 42, 0}, {DimObject, 1, event.RoleTarget}, {DimObject, 2, event.RoleValue}},
		},
		{
			name:    "array write",
			payload: &event.ArrayWrite{Target: event.ObjectValue(1), Index: 300, Value: event.Null},
			want:    []Attribute{{DimArrayIndex, 300, 0}, {DimObject, 1, event.RoleTarget}},
		},
		{
			name:    "new array",
			payload: &event.NewArray{Instance: event.ObjectValue(7), BaseType: 3, Size: 10},
			want:    []Attribute{{DimObject, 7, event.RoleValue}},
		},
		{
			name:    "local write",
			payload: &event.LocalWrite{Variable: 4, Value: event.ObjectValue(8)},
			want:    []Attribute{{DimVariable, 4, 0}, {DimObject, 8, event.RoleValue}},
		},
		{
			name:    "exception",
			payload: &event.ExceptionGenerated{Behavior: 33, BytecodeIndex: 2, Exception: event.ObjectValue(9)},
			want:    []Attribute{{DimBehavior, 33, event.RoleOperation}, {DimObject, 9, event.RoleException}},
		},
		{
			name:    "instanceof",
			payload: &event.InstanceOf{Object: event.ObjectValue(5), Type: 2, Result: true},
			want:    []Attribute{{DimObject, 5, event.RoleTarget}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &event.Record{Thread: 1, Timestamp: 1, Payload: tt.payload}
			attrs := Attributes(rec, nil)
			for _, w := range tt.want {
				if !hasAttr(attrs, w.Dim, w.Value, w.Role) {
					t.Errorf("missing %+v in %v", w, attrs)
				}
			}
			for _, a := range tt.absent {
				if hasAttr(attrs, a.Dim, a.Value, a.Role) {
					t.Errorf("unexpected %+v", a)
				}
			}
			if hasAttr(attrs, DimLocation, 0, 0) {
				t.Error("location indexed without a probe table")
			}
		})
	}
}

func TestRegistry_IndexEvent(t *testing.T) {
	r, _ := newTestRegistry(t, Options{Fanout: 3})

	for ts := uint64(1); ts <= 20; ts++ {
		rec := &event.Record{
			Thread:    uint16(ts % 2),
			Timestamp: ts,
			Payload: &event.FieldWrite{
				Field:  uint16(ts % 4),
				Target: event.ObjectValue(0x0002_0001),
				Value:  event.ObjectValue(ts),
			},
		}
		counts, err := r.IndexEvent(rec, ts*1000, nil)
		if err != nil {
			t.Fatalf("IndexEvent(%d) failed: %v", ts, err)
		}
		// target and value contribute two parts each
		if counts["object"] != 4 {
			t.Fatalf("object tuples = %d, want 4", counts["object"])
		}
	}

	thread1 := r.Index(DimThread, WholeValue, 1)
	if thread1 == nil || thread1.Count() != 10 {
		t.Fatalf("thread 1 index = %v", thread1)
	}
	got := bidi.Collect[tupleindex.Tuple](thread1.Iterator(0))
	for i, tp := range got {
		if want := uint64(2*i + 1); tp.Key != want || tp.Pointer != want*1000 {
			t.Errorf("tuple %d = %v", i, tp)
		}
	}

	low := r.Index(DimObject, 0, 1)
	high := r.Index(DimObject, 1, 2)
	if low == nil || high == nil {
		t.Fatal("split object indexes missing")
	}
	// part 0 value 1 also holds the value object with id 1 (ts 1)
	if low.Count() != 21 {
		t.Errorf("object part 0 value 1 count = %d, want 21", low.Count())
	}
	first, _ := high.Iterator(0).Next()
	if event.Role(first.Role) != event.RoleTarget {
		t.Errorf("role = %v, want target", event.Role(first.Role))
	}

	if r.Index(DimField, 0, 99) != nil {
		t.Error("unpopulated index should be nil")
	}
	if vals := r.Values(DimField, WholeValue); len(vals) != 4 || vals[0] != 0 || vals[3] != 3 {
		t.Errorf("Values(field) = %v", vals)
	}

	st := r.Stats()
	if st.Indexes == 0 || st.Tuples == 0 {
		t.Errorf("Stats() = %+v", st)
	}
	var threadTuples uint64
	for _, ds := range st.Dimensions {
		if ds.Dimension == DimThread {
			threadTuples = ds.Tuples
		}
	}
	if threadTuples != 20 {
		t.Errorf("thread tuples = %d, want 20", threadTuples)
	}
}

func TestRegistry_KeyOverflow(t *testing.T) {
	r, pages := newTestRegistry(t, Options{})
	rec := &event.Record{Timestamp: 1, Payload: &event.InstanceOf{Object: event.ObjectValue(1 << 40)}}
	before := pages.PageCount()
	if _, err := r.IndexEvent(rec, 1, nil); !errors.Is(err, ErrKeyOverflow) {
		t.Fatalf("err = %v, want ErrKeyOverflow", err)
	}
	if pages.PageCount() != before || r.Stats().Indexes != 0 {
		t.Error("rejected event must not touch the indexes")
	}

	wide, _ := newTestRegistry(t, Options{ObjectParts: []int{32, 32}})
	if _, err := wide.IndexEvent(rec, 1, nil); err != nil {
		t.Errorf("32/32 split rejected a 40-bit id: %v", err)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	tests := []struct {
		dim  Dimension
		part int
		err  error
	}{
		{DimThread, WholeValue, nil},
		{DimThread, 0, nil},
		{DimThread, 1, ErrBadPart},
		{DimObject, 1, nil},
		{DimObject, 2, ErrBadPart},
		{DimArrayIndex, -2, ErrBadPart},
		{Dimension(99), 0, ErrUnknownDimension},
	}
	for _, tt := range tests {
		err := r.Validate(tt.dim, tt.part)
		if tt.err == nil && err != nil || tt.err != nil && !errors.Is(err, tt.err) {
			t.Errorf("Validate(%v, %d) = %v, want %v", tt.dim, tt.part, err, tt.err)
		}
	}
	if p := r.Parts(DimArrayIndex); len(p) != 2 || p[0] != 14 {
		t.Errorf("Parts(array_index) = %v", p)
	}
	if r.Parts(DimThread) != nil {
		t.Error("unsplit dimension has parts")
	}
}

func TestRegistry_InvalidOptions(t *testing.T) {
	pages, _ := pagestore.NewMemoryStore(pagestore.MinPageSize)
	if _, err := New(pages, Options{ObjectParts: []int{40, 40}}); !errors.Is(err, ErrInvalidParts) {
		t.Errorf("err = %v, want ErrInvalidParts", err)
	}
	if _, err := New(pages, Options{Fanout: 1}); !errors.Is(err, tupleindex.ErrFanout) {
		t.Errorf("err = %v, want ErrFanout", err)
	}
}

func TestRegistry_StateRestore(t *testing.T) {
	r, pages := newTestRegistry(t, Options{Fanout: 2})
	for ts := uint64(1); ts <= 30; ts++ {
		rec := &event.Record{Thread: uint16(ts % 3), Timestamp: ts, Payload: &event.LocalWrite{Variable: uint16(ts % 5)}}
		if _, err := r.IndexEvent(rec, ts, nil); err != nil {
			t.Fatalf("IndexEvent failed: %v", err)
		}
	}
	st := r.State()

	restored, err := New(pages, Options{Fanout: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := restored.Restore(st); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	for v := uint64(0); v < 5; v++ {
		a := bidi.Collect[tupleindex.Tuple](r.Index(DimVariable, 0, v).Iterator(0))
		b := bidi.Collect[tupleindex.Tuple](restored.Index(DimVariable, 0, v).Iterator(0))
		if len(a) != len(b) || len(a) != 6 {
			t.Fatalf("variable %d: %d vs %d tuples", v, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("variable %d tuple %d: %v vs %v", v, i, a[i], b[i])
			}
		}
	}

	// the restored registry keeps accepting events
	rec := &event.Record{Thread: 0, Timestamp: 31, Payload: &event.LocalWrite{Variable: 0}}
	if _, err := restored.IndexEvent(rec, 31, nil); err != nil {
		t.Fatalf("IndexEvent after restore failed: %v", err)
	}
	if n := restored.Index(DimVariable, 0, 0).Count(); n != 7 {
		t.Errorf("count after restore = %d, want 7", n)
	}

	bad := State{Indexes: []IndexState{{Dimension: DimThread, Part: 3}}}
	if err := restored.Restore(bad); !errors.Is(err, ErrBadPart) {
		t.Errorf("Restore(bad) = %v", err)
	}

	restored.Reset()
	if restored.Stats().Indexes != 0 || restored.Index(DimThread, 0, 0) != nil {
		t.Error("Reset left indexes behind")
	}
}

func TestProbeTable(t *testing.T) {
	p := NewProbeTable()
	if err := p.Register(0, ProbeInfo{}); !errors.Is(err, ErrInvalidProbe) {
		t.Errorf("Register(0) = %v", err)
	}
	_ = p.Register(5, ProbeInfo{Behavior: 1})
	_ = p.Register(2, ProbeInfo{Behavior: 2})
	if err := p.Register(5, ProbeInfo{Behavior: 1}); err != nil {
		t.Errorf("identical re-registration failed: %v", err)
	}
	if err := p.Register(5, ProbeInfo{Behavior: 9}); !errors.Is(err, ErrProbeConflict) {
		t.Errorf("conflicting re-registration = %v, want ErrProbeConflict", err)
	}
	if info, ok := p.Lookup(5); !ok || info.Behavior != 1 {
		t.Errorf("Lookup(5) = %+v, %v", info, ok)
	}
	all := p.All()
	if len(all) != 2 || all[0].ID != 2 || p.Len() != 2 {
		t.Errorf("All() = %+v", all)
	}
	var nilTable *ProbeTable
	if _, ok := nilTable.Lookup(5); ok || nilTable.Len() != 0 {
		t.Error("nil table should know no probes")
	}
	p.Reset()
	if p.Len() != 0 {
		t.Error("Reset kept probes")
	}
}
