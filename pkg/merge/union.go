package merge

import (
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

type union struct {
	heads []tupleindex.TupleIterator
}

// Union returns the events present in any head. Tuples of several heads
// that reference the same event are coalesced; the emitted tuple is the
// first head's.
func Union(heads ...tupleindex.TupleIterator) *Iterator {
	return newIterator(&union{heads: heads}, heads)
}

func (u *union) FetchNext() (Tuple, bool) {
	var best Tuple
	found := false
	for _, h := range u.heads {
		if t, ok := h.PeekNext(); ok && (!found || t.Less(best)) {
			best, found = t, true
		}
	}
	if !found {
		return Tuple{}, false
	}
	for _, h := range u.heads {
		skipNext(h, best, nil)
	}
	return best, true
}

func (u *union) FetchPrevious() (Tuple, bool) {
	var best Tuple
	found := false
	for _, h := range u.heads {
		if t, ok := h.PeekPrevious(); ok && (!found || best.Less(t)) {
			best, found = t, true
		}
	}
	if !found {
		return Tuple{}, false
	}
	for _, h := range u.heads {
		skipPrevious(h, best, nil)
	}
	return best, true
}
