package eventstore

import (
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
)

func newTestStore(t *testing.T) (*Store, pagestore.Store) {
	t.Helper()
	pages, err := pagestore.NewMemoryStore(pagestore.MinPageSize)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	return New(pages), pages
}

func randomRecord(rng *rand.Rand, ts uint64) *event.Record {
	r := &event.Record{
		Thread:          uint16(rng.Intn(100)),
		Depth:           uint16(rng.Intn(50)),
		Timestamp:       ts,
		ProbeID:         uint32(rng.Intn(1000)),
		ParentTimestamp: ts - uint64(rng.Intn(100)),
	}
	switch rng.Intn(4) {
	case 0:
		args := make([]event.Value, rng.Intn(4))
		for i := range args {
			args[i] = event.IntValue(rng.Int63n(1000) - 500)
		}
		if len(args) == 0 {
			args = nil
		}
		r.Payload = &event.BehaviorCall{
			Call: event.KindMethodCall, Called: uint16(rng.Intn(200)),
			Target: event.ObjectValue(uint64(rng.Intn(5000))), Args: args,
		}
	case 1:
		r.Payload = &event.FieldWrite{
			Field:  uint16(rng.Intn(100)),
			Target: event.ObjectValue(uint64(rng.Intn(5000))),
			Value:  event.ObjectValue(uint64(rng.Intn(5000))),
		}
	case 2:
		r.Payload = &event.BehaviorExit{Behavior: uint16(rng.Intn(200)), Result: event.BoolValue(rng.Intn(2) == 0)}
	default:
		r.Payload = &event.LocalWrite{Variable: uint16(rng.Intn(10)), Value: event.DoubleValue(rng.Float64())}
	}
	return r
}

// TestStore_StablePointers checks that every pointer keeps returning the
// record it was issued for while the store keeps growing
func TestStore_StablePointers(t *testing.T) {
	s, pages := newTestStore(t)
	rng := rand.New(rand.NewSource(1))

	var ptrs []Pointer
	var recs []*event.Record
	for i := 0; i < 2000; i++ {
		r := randomRecord(rng, uint64(i+1)*10)
		p, err := s.Append(r)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if len(ptrs) > 0 && p <= ptrs[len(ptrs)-1] {
			t.Fatalf("pointer %s not above %s", p, ptrs[len(ptrs)-1])
		}
		ptrs = append(ptrs, p)
		recs = append(recs, r)

		// Re-read an older record on every append
		j := rng.Intn(len(ptrs))
		got, err := s.Get(ptrs[j])
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", ptrs[j], err)
		}
		if !got.Equal(recs[j]) {
			t.Fatalf("record %d changed: expected %s, got %s", j, recs[j], got)
		}
	}

	if pages.PageCount() < 10 {
		t.Errorf("Expected records to span many pages, got %d", pages.PageCount())
	}
	if s.Count() != 2000 {
		t.Errorf("Expected 2000 records, got %d", s.Count())
	}
	for i, p := range ptrs {
		got, err := s.Get(p)
		if err != nil || !got.Equal(recs[i]) {
			t.Fatalf("final check %d: %v %v", i, got, err)
		}
	}
}

func TestStore_Iterator(t *testing.T) {
	s, _ := newTestStore(t)
	rng := rand.New(rand.NewSource(2))

	it := s.Iterator()
	if _, ok := it.Next(); ok {
		t.Error("Expected empty scan")
	}

	var ptrs []Pointer
	for i := 0; i < 500; i++ {
		p, err := s.Append(randomRecord(rng, uint64(i)))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		ptrs = append(ptrs, p)
	}

	// The iterator created on the empty store sees the new records
	n := 0
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.Pointer != ptrs[n] {
			t.Fatalf("entry %d: expected pointer %s, got %s", n, ptrs[n], e.Pointer)
		}
		if e.Record.Timestamp != uint64(n) {
			t.Fatalf("entry %d: expected timestamp %d, got %d", n, n, e.Record.Timestamp)
		}
		n++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if n != 500 {
		t.Errorf("Expected 500 records, got %d", n)
	}
}

func TestStore_Errors(t *testing.T) {
	s, _ := newTestStore(t)

	args := make([]event.Value, 100)
	for i := range args {
		args[i] = event.DoubleValue(float64(i))
	}
	huge := &event.Record{Payload: &event.BehaviorCall{Call: event.KindMethodCall, Args: args}}
	if _, err := s.Append(huge); !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("Expected ErrRecordTooLarge, got %v", err)
	}

	p, err := s.Append(&event.Record{Timestamp: 1, Payload: &event.LocalWrite{Variable: 1}})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := s.Get(MakePointer(p.Page()+5, 0)); !errors.Is(err, ErrBadPointer) {
		t.Errorf("Expected ErrBadPointer for unknown page, got %v", err)
	}
	if _, err := s.Get(MakePointer(p.Page(), 1000)); !errors.Is(err, ErrBadPointer) {
		t.Errorf("Expected ErrBadPointer beyond written region, got %v", err)
	}
}

func TestStore_Restore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	pages, err := pagestore.OpenFile(path, 512)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	s := New(pages)
	rng := rand.New(rand.NewSource(3))
	var ptrs []Pointer
	var recs []*event.Record
	for i := 0; i < 300; i++ {
		r := randomRecord(rng, uint64(i))
		p, err := s.Append(r)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		ptrs = append(ptrs, p)
		recs = append(recs, r)
	}
	state := s.State()
	if err := pages.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	pages2, err := pagestore.OpenFile(path, 512)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer pages2.Close()
	s2 := New(pages2)
	if err := s2.Restore(state); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	for i, p := range ptrs {
		got, err := s2.Get(p)
		if err != nil || !got.Equal(recs[i]) {
			t.Fatalf("record %d after reopen: %v %v", i, got, err)
		}
	}
	if _, err := s2.Append(randomRecord(rng, 1000)); err != nil {
		t.Fatalf("Append after restore failed: %v", err)
	}
	if s2.Count() != 301 {
		t.Errorf("Expected 301 records, got %d", s2.Count())
	}
}

func TestStore_ConcurrentReads(t *testing.T) {
	s, _ := newTestStore(t)
	rng := rand.New(rand.NewSource(4))

	first, err := s.Append(randomRecord(rng, 0))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		wrng := rand.New(rand.NewSource(5))
		for i := 1; i < 1000; i++ {
			if _, err := s.Append(randomRecord(wrng, uint64(i))); err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, err := s.Get(first); err != nil {
			t.Fatalf("Get during appends failed: %v", err)
		}
		it := s.Iterator()
		for {
			if _, ok := it.Next(); !ok {
				break
			}
		}
		if it.Err() != nil {
			t.Fatalf("scan during appends failed: %v", it.Err())
		}
	}
	wg.Wait()
}
