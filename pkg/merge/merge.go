// Package merge combines sorted tuple iterators into union and intersection
// iterators. Inputs and outputs are ordered by (key, pointer); a pointer
// identifies one event, and every output event appears once.
//
// Heads are moved independently. Between calls they may stand at different
// positions, but never past an event that belongs in the output, so a merge
// iterator can change direction at any time.
package merge

import (
	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

// Tuple is the merged item type.
type Tuple = tupleindex.Tuple

// Iterator is a merged TupleIterator.
type Iterator struct {
	*bidi.Buffered[Tuple]
	heads []tupleindex.TupleIterator
}

func newIterator(f bidi.Fetcher[Tuple], heads []tupleindex.TupleIterator) *Iterator {
	return &Iterator{Buffered: bidi.NewBuffered[Tuple](f), heads: heads}
}

// AdvanceTo moves every head forward to key. Heads never move backward, and
// no output tuple below key lies ahead, so no peek is needed first.
func (it *Iterator) AdvanceTo(key uint64) {
	it.Sync()
	for _, h := range it.heads {
		h.AdvanceTo(key)
	}
}

// RetreatTo moves every head backward to key.
func (it *Iterator) RetreatTo(key uint64) {
	it.Sync()
	for _, h := range it.heads {
		h.RetreatTo(key)
	}
}

// Heads returns the number of merged iterators.
func (it *Iterator) Heads() int { return len(it.heads) }

var _ tupleindex.TupleIterator = (*Iterator)(nil)

func sameEvent(a, b Tuple) bool { return a.Key == b.Key && a.Pointer == b.Pointer }

// skipNext consumes every tuple of h that references the same event as t,
// calling collect for each.
func skipNext(h tupleindex.TupleIterator, t Tuple, collect func(Tuple)) {
	for {
		n, ok := h.PeekNext()
		if !ok || !sameEvent(n, t) {
			return
		}
		h.Next()
		if collect != nil {
			collect(n)
		}
	}
}

func skipPrevious(h tupleindex.TupleIterator, t Tuple, collect func(Tuple)) {
	for {
		p, ok := h.PeekPrevious()
		if !ok || !sameEvent(p, t) {
			return
		}
		h.Previous()
		if collect != nil {
			collect(p)
		}
	}
}
