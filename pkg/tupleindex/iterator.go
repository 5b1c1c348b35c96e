package tupleindex

import (
	"math"
	"sort"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
)

// TupleIterator is a bidirectional tuple iterator that can also jump
// forward or backward by key. Merge pipelines are built from these.
type TupleIterator interface {
	bidi.Iterator[Tuple]
	// AdvanceTo skips forward so that Next yields a tuple with key >= key.
	// It never moves backward.
	AdvanceTo(key uint64)
	// RetreatTo skips backward so that Previous yields a tuple with key <= key.
	// It never moves forward.
	RetreatTo(key uint64)
}

// cursor is a leaf gap position: before slot in page. It holds no lock
// between calls.
type cursor struct {
	x    *Index
	seek uint64
	page uint32
	slot int
}

// attach positions a cursor created on an empty index once tuples exist.
func (c *cursor) attach() bool {
	if c.page != 0 {
		return true
	}
	if len(c.x.levels) == 0 {
		return false
	}
	c.page, c.slot = c.x.seekLocked(c.seek)
	return true
}

func (c *cursor) FetchNext() (Tuple, bool) {
	x := c.x
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !c.attach() {
		return Tuple{}, false
	}
	p := x.page("next", c.page)
	n := x.fillOf(0, c.page)
	for c.slot >= n {
		next := p.Next()
		if next == 0 {
			return Tuple{}, false
		}
		np := x.page("next", next)
		if back := np.Prev(); back != c.page {
			panic(&IntegrityError{Op: "next", PageID: next, Expected: c.page, Found: back})
		}
		c.page, c.slot, p = next, 0, np
		n = x.fillOf(0, next)
	}
	t := x.tupleAt(p, c.slot)
	c.slot++
	return t, true
}

func (c *cursor) FetchPrevious() (Tuple, bool) {
	x := c.x
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !c.attach() {
		return Tuple{}, false
	}
	p := x.page("previous", c.page)
	for c.slot == 0 {
		prev := p.Prev()
		if prev == 0 {
			return Tuple{}, false
		}
		pp := x.page("previous", prev)
		if fwd := pp.Next(); fwd != c.page {
			panic(&IntegrityError{Op: "previous", PageID: prev, Expected: c.page, Found: fwd})
		}
		c.page, c.slot, p = prev, x.fillOf(0, prev), pp
	}
	c.slot--
	return x.tupleAt(p, c.slot), true
}

func (c *cursor) advance(key uint64) {
	x := c.x
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !c.attach() {
		return
	}
	p := x.page("advance", c.page)
	n := x.fillOf(0, c.page)
	if c.slot < n && x.keyAt(p, 0, n-1) >= key {
		c.slot += sort.Search(n-c.slot, func(i int) bool { return x.keyAt(p, 0, c.slot+i) >= key })
		return
	}
	if c.slot >= n && p.Next() == 0 {
		return
	}
	// Everything left on this page is below key: seek from the root.
	c.page, c.slot = x.seekLocked(key)
}

func (c *cursor) retreat(key uint64) {
	if key == math.MaxUint64 {
		return
	}
	x := c.x
	x.mu.RLock()
	defer x.mu.RUnlock()
	if !c.attach() {
		return
	}
	p := x.page("retreat", c.page)
	if c.slot > 0 {
		if x.keyAt(p, 0, 0) <= key {
			c.slot = sort.Search(c.slot, func(i int) bool { return x.keyAt(p, 0, i) > key })
			return
		}
	} else {
		prev := p.Prev()
		if prev == 0 {
			return
		}
		pp := x.page("retreat", prev)
		if x.keyAt(pp, 0, x.fillOf(0, prev)-1) <= key {
			return
		}
	}
	c.page, c.slot = x.seekLocked(key + 1)
}

// Iterator walks the leaf level of an Index.
type Iterator struct {
	*bidi.Buffered[Tuple]
	c *cursor
}

func newIterator(c *cursor) *Iterator {
	return &Iterator{Buffered: bidi.NewBuffered[Tuple](c), c: c}
}

// AdvanceTo re-seeks through the hierarchy when key lies beyond the current
// page and binary searches the page otherwise.
func (it *Iterator) AdvanceTo(key uint64) {
	if t, ok := it.PeekNext(); !ok || t.Key >= key {
		return
	}
	it.Sync()
	it.c.advance(key)
}

// RetreatTo is the backward counterpart of AdvanceTo.
func (it *Iterator) RetreatTo(key uint64) {
	if t, ok := it.PeekPrevious(); !ok || t.Key <= key {
		return
	}
	it.Sync()
	it.c.retreat(key)
}

var _ TupleIterator = (*Iterator)(nil)

// Filtered applies an accept function to a TupleIterator while keeping the
// ability to jump by key.
type Filtered struct {
	*bidi.Filtered[Tuple, Tuple]
	src TupleIterator
}

// Filter wraps src so that only tuples accepted by accept are visible.
func Filter(src TupleIterator, accept bidi.AcceptFunc[Tuple, Tuple]) *Filtered {
	return &Filtered{Filtered: bidi.Filter[Tuple, Tuple](src, accept), src: src}
}

// AdvanceTo forwards the jump to the source iterator.
func (f *Filtered) AdvanceTo(key uint64) {
	f.Sync()
	f.src.AdvanceTo(key)
}

// RetreatTo forwards the jump to the source iterator.
func (f *Filtered) RetreatTo(key uint64) {
	f.Sync()
	f.src.RetreatTo(key)
}

var _ TupleIterator = (*Filtered)(nil)

// SliceIterator is a TupleIterator over sorted in-memory tuples.
type SliceIterator struct {
	*bidi.SliceIterator[Tuple]
}

// FromSlice returns an iterator over tuples (sorted by key) positioned
// before the first tuple with key >= seekKey.
func FromSlice(tuples []Tuple, seekKey uint64) *SliceIterator {
	pos := sort.Search(len(tuples), func(i int) bool { return tuples[i].Key >= seekKey })
	return &SliceIterator{SliceIterator: bidi.FromSliceAt(tuples, pos)}
}

// Empty returns a TupleIterator without tuples.
func Empty() *SliceIterator {
	return FromSlice(nil, 0)
}

// AdvanceTo moves forward to the first tuple with key >= key.
func (s *SliceIterator) AdvanceTo(key uint64) {
	for {
		t, ok := s.PeekNext()
		if !ok || t.Key >= key {
			return
		}
		s.Next()
	}
}

// RetreatTo moves backward to the gap after the last tuple with key <= key.
func (s *SliceIterator) RetreatTo(key uint64) {
	for {
		t, ok := s.PeekPrevious()
		if !ok || t.Key <= key {
			return
		}
		s.Previous()
	}
}

var _ TupleIterator = (*SliceIterator)(nil)
