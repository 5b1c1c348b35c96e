package tupleindex

import (
	"errors"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
)

func newTestIndex(t *testing.T, layout Layout, fanout int) *Index {
	t.Helper()
	store, err := pagestore.NewMemoryStore(pagestore.MinPageSize)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	idx, err := New(store, layout, Options{MaxTuplesPerPage: fanout})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return idx
}

// sortedTuples builds tuples with the given keys (sorted in place) and
// increasing pointers
func sortedTuples(keys []uint64) []Tuple {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]Tuple, len(keys))
	for i, k := range keys {
		out[i] = Tuple{Key: k, Pointer: uint64(i + 1)}
	}
	return out
}

func fill(t *testing.T, idx *Index, tuples []Tuple) {
	t.Helper()
	for _, tp := range tuples {
		if err := idx.Append(tp); err != nil {
			t.Fatalf("Append(%v) failed: %v", tp, err)
		}
	}
}

func TestIndex_AppendOrder(t *testing.T) {
	for _, fanout := range []int{2, 3, 5, 0} {
		idx := newTestIndex(t, PlainLayout, fanout)
		keys := make([]uint64, 500)
		for i := range keys {
			keys[i] = uint64(i / 3)
		}
		tuples := sortedTuples(keys)
		fill(t, idx, tuples)

		got := bidi.Collect[Tuple](idx.Iterator(0))
		if len(got) != len(tuples) {
			t.Fatalf("fanout %d: expected %d tuples, got %d", fanout, len(tuples), len(got))
		}
		for i := range got {
			if got[i] != tuples[i] {
				t.Fatalf("fanout %d: tuple %d: expected %v, got %v", fanout, i, tuples[i], got[i])
			}
		}

		st := idx.Stats()
		if st.Tuples != 500 {
			t.Errorf("Expected 500 tuples, got %d", st.Tuples)
		}
		if st.PagesPerLevel[st.Levels-1] != 1 {
			t.Errorf("fanout %d: expected a single root page, got %d", fanout, st.PagesPerLevel[st.Levels-1])
		}
		if fanout == 2 && st.Levels < 8 {
			t.Errorf("Expected a deep index with fan-out 2, got %d levels", st.Levels)
		}
	}
}

func TestIndex_EmptyAndBounds(t *testing.T) {
	idx := newTestIndex(t, PlainLayout, 3)

	it := idx.Iterator(10)
	if it.HasNext() || it.HasPrevious() {
		t.Error("Expected empty iterator on empty index")
	}

	// An iterator created before the first append sees later tuples
	fill(t, idx, sortedTuples([]uint64{5, 10, 15}))
	if tp, ok := it.Next(); !ok || tp.Key != 10 {
		t.Errorf("Expected late tuple 10, got %v %v", tp, ok)
	}

	before := idx.Iterator(0)
	if before.HasPrevious() {
		t.Error("Expected no previous before the first key")
	}
	after := idx.Iterator(100)
	if after.HasNext() {
		t.Error("Expected no next after the last key")
	}
	if tp, _ := after.Previous(); tp.Key != 15 {
		t.Errorf("Expected 15 before the end, got %v", tp)
	}
}

func TestIndex_AppendErrors(t *testing.T) {
	idx := newTestIndex(t, PlainLayout, 0)
	if err := idx.Append(Tuple{Key: 10, Pointer: 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := idx.Append(Tuple{Key: 9, Pointer: 2}); !errors.Is(err, ErrKeyOrder) {
		t.Errorf("Expected ErrKeyOrder, got %v", err)
	}
	if err := idx.Append(Tuple{Key: 11, Pointer: 1 << 60}); !errors.Is(err, ErrTupleOverflow) {
		t.Errorf("Expected ErrTupleOverflow for wide pointer, got %v", err)
	}
	if err := idx.Append(Tuple{Key: 11, Pointer: 3, Role: 1}); !errors.Is(err, ErrTupleOverflow) {
		t.Errorf("Expected ErrTupleOverflow for role on plain index, got %v", err)
	}

	store, _ := pagestore.NewMemoryStore(pagestore.MinPageSize)
	if _, err := New(store, PlainLayout, Options{MaxTuplesPerPage: 1}); !errors.Is(err, ErrFanout) {
		t.Errorf("Expected ErrFanout, got %v", err)
	}
}

func TestIndex_Roles(t *testing.T) {
	idx := newTestIndex(t, RoleLayout, 4)
	roles := []int8{-6, -1, 0, 1, 5, 127, -128}
	for i, r := range roles {
		if err := idx.Append(Tuple{Key: uint64(i), Pointer: uint64(i), Role: r}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	got := bidi.Collect[Tuple](idx.Iterator(0))
	for i, r := range roles {
		if got[i].Role != r {
			t.Errorf("Expected role %d, got %d", r, got[i].Role)
		}
	}

	// Keep only argument roles, walking both ways
	args := Filter(idx.Iterator(0), func(tp Tuple) (Tuple, bool) { return tp, tp.Role > 0 })
	fwd := bidi.Collect[Tuple](args)
	if len(fwd) != 3 {
		t.Fatalf("Expected 3 argument tuples, got %v", fwd)
	}
	back := bidi.CollectBackward[Tuple](args)
	if len(back) != 3 || back[0].Role != 127 || back[2].Role != 1 {
		t.Errorf("Expected argument tuples reversed, got %v", back)
	}
}

// TestIndex_SeekInvariant checks Next().Key >= K and Previous().Key < K
// for every K around the stored keys
func TestIndex_SeekInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := make([]uint64, 300)
	for i := range keys {
		keys[i] = uint64(rng.Intn(200)) * 2
	}
	tuples := sortedTuples(keys)

	for _, fanout := range []int{2, 4, 0} {
		idx := newTestIndex(t, PlainLayout, fanout)
		fill(t, idx, tuples)

		for k := uint64(0); k <= 402; k++ {
			want := sort.Search(len(tuples), func(i int) bool { return tuples[i].Key >= k })
			it := idx.Iterator(k)
			n, okN := it.PeekNext()
			p, okP := it.PeekPrevious()
			if okN != (want < len(tuples)) || (okN && n != tuples[want]) {
				t.Fatalf("fanout %d seek %d: next %v %v, want index %d", fanout, k, n, okN, want)
			}
			if okP != (want > 0) || (okP && p != tuples[want-1]) {
				t.Fatalf("fanout %d seek %d: previous %v %v, want index %d", fanout, k, p, okP, want-1)
			}
			if okN && n.Key < k {
				t.Fatalf("seek %d returned smaller key %d", k, n.Key)
			}
			if okP && p.Key >= k {
				t.Fatalf("seek %d returned previous key %d", k, p.Key)
			}
		}
	}
}

func TestIndex_AdvanceRetreat(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := make([]uint64, 400)
	for i := range keys {
		keys[i] = uint64(rng.Intn(1000))
	}
	tuples := sortedTuples(keys)
	idx := newTestIndex(t, PlainLayout, 3)
	fill(t, idx, tuples)

	for trial := 0; trial < 200; trial++ {
		start := uint64(rng.Intn(1000))
		it := idx.Iterator(start)
		ref := FromSlice(tuples, start)

		// Random moves first so that the buffered state is exercised
		for i := rng.Intn(5); i > 0; i-- {
			if rng.Intn(2) == 0 {
				it.Next()
				ref.Next()
			} else {
				it.Previous()
				ref.Previous()
			}
		}

		target := uint64(rng.Intn(1100))
		if rng.Intn(2) == 0 {
			it.AdvanceTo(target)
			ref.AdvanceTo(target)
		} else {
			it.RetreatTo(target)
			ref.RetreatTo(target)
		}

		a, okA := it.PeekNext()
		b, okB := ref.PeekNext()
		if okA != okB || a != b {
			t.Fatalf("trial %d: next after jump to %d: got %v %v, want %v %v", trial, target, a, okA, b, okB)
		}
		a, okA = it.PeekPrevious()
		b, okB = ref.PeekPrevious()
		if okA != okB || a != b {
			t.Fatalf("trial %d: previous after jump to %d: got %v %v, want %v %v", trial, target, a, okA, b, okB)
		}
	}
}

func TestIndex_FastCount(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	keys := make([]uint64, 2000)
	for i := range keys {
		keys[i] = uint64(rng.Intn(10000))
	}
	tuples := sortedTuples(keys)

	for _, fanout := range []int{2, 3, 7, 0} {
		idx := newTestIndex(t, PlainLayout, fanout)
		fill(t, idx, tuples)

		for trial := 0; trial < 50; trial++ {
			t1 := uint64(rng.Intn(10000))
			t2 := t1 + 1 + uint64(rng.Intn(10000))
			buckets := 1 + rng.Intn(20)

			want := make([]uint64, buckets)
			for _, tp := range tuples {
				if tp.Key >= t1 && tp.Key < t2 {
					want[Bucket(tp.Key, t1, t2, buckets)]++
				}
			}
			got := idx.FastCount(t1, t2, buckets)
			for b := range want {
				if got[b] != want[b] {
					t.Fatalf("fanout %d [%d,%d) bucket %d/%d: expected %d, got %d",
						fanout, t1, t2, b, buckets, want[b], got[b])
				}
			}
		}
	}
}

func TestIndex_StateRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	store, err := pagestore.OpenFile(path, pagestore.MinPageSize)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	idx, err := New(store, RoleLayout, Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	keys := make([]uint64, 1000)
	for i := range keys {
		keys[i] = uint64(i * 3)
	}
	tuples := sortedTuples(keys)
	fill(t, idx, tuples)
	state := idx.State()
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store2, err := pagestore.OpenFile(path, pagestore.MinPageSize)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store2.Close()
	idx2, _ := New(store2, RoleLayout, Options{})
	if err := idx2.Restore(state); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	it := idx2.Iterator(1500)
	if tp, _ := it.Next(); tp.Key != 1500 {
		t.Errorf("Expected 1500 after restore, got %v", tp)
	}
	if err := idx2.Append(Tuple{Key: 5000, Pointer: 1001}); err != nil {
		t.Fatalf("Append after restore failed: %v", err)
	}
	if idx2.Count() != 1001 {
		t.Errorf("Expected 1001 tuples, got %d", idx2.Count())
	}
}

func TestIndex_IntegrityPanic(t *testing.T) {
	store, _ := pagestore.NewMemoryStore(pagestore.MinPageSize)
	idx, _ := New(store, PlainLayout, Options{MaxTuplesPerPage: 2})
	fill(t, idx, sortedTuples([]uint64{1, 2, 3, 4}))

	// Break the back pointer of the second leaf page
	it := idx.Iterator(0)
	it.Next()
	it.Next()
	second, _ := store.Get(idx.levels[0].current)
	second.SetPrev(99)

	defer func() {
		r := recover()
		if _, ok := r.(*IntegrityError); !ok {
			t.Errorf("Expected IntegrityError panic, got %v", r)
		}
	}()
	it.Next()
}

func TestIndex_ConcurrentReaders(t *testing.T) {
	idx := newTestIndex(t, PlainLayout, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			_ = idx.Append(Tuple{Key: uint64(i), Pointer: uint64(i)})
		}
	}()

	for r := 0; r < 50; r++ {
		var last uint64
		it := idx.Iterator(0)
		for {
			tp, ok := it.Next()
			if !ok {
				break
			}
			if tp.Key < last {
				t.Fatalf("reader saw keys out of order: %d after %d", tp.Key, last)
			}
			last = tp.Key
		}
	}
	<-done
}
