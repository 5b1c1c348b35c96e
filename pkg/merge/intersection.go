package merge

import (
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

// roleSet is a set of int8 roles.
type roleSet [4]uint64

func (s *roleSet) add(r int8) {
	b := uint8(int16(r) + 128)
	s[b>>6] |= 1 << (b & 63)
}

func (s *roleSet) intersect(o *roleSet) {
	for i := range s {
		s[i] &= o[i]
	}
}

// first returns the lowest role in s.
func (s *roleSet) first() (int8, bool) {
	for i, w := range s {
		for b := 0; b < 64; b++ {
			if w&(1<<b) != 0 {
				return int8(i*64 + b - 128), true
			}
		}
	}
	return 0, false
}

type intersection struct {
	heads      []tupleindex.TupleIterator
	matchRoles bool
	peeks      []Tuple
}

// Intersection returns the events present in every head. With matchRoles
// an event only matches when some role is carried by a tuple of every head;
// the emitted tuple then holds the lowest common role.
func Intersection(matchRoles bool, heads ...tupleindex.TupleIterator) *Iterator {
	in := &intersection{heads: heads, matchRoles: matchRoles, peeks: make([]Tuple, len(heads))}
	return newIterator(in, heads)
}

func (in *intersection) FetchNext() (Tuple, bool) {
	if len(in.heads) == 0 {
		return Tuple{}, false
	}
	for {
		// Find the highest head; every other head must reach it.
		var top Tuple
		for i, h := range in.heads {
			t, ok := h.PeekNext()
			if !ok {
				return Tuple{}, false
			}
			in.peeks[i] = t
			if i == 0 || top.Less(t) {
				top = t
			}
		}
		aligned := true
		for i, h := range in.heads {
			t := in.peeks[i]
			if sameEvent(t, top) {
				continue
			}
			aligned = false
			if t.Key < top.Key {
				h.AdvanceTo(top.Key)
			} else {
				skipNext(h, t, nil)
			}
		}
		if !aligned {
			continue
		}
		if out, ok := in.consume(top, skipNext); ok {
			return out, true
		}
	}
}

func (in *intersection) FetchPrevious() (Tuple, bool) {
	if len(in.heads) == 0 {
		return Tuple{}, false
	}
	for {
		var low Tuple
		for i, h := range in.heads {
			t, ok := h.PeekPrevious()
			if !ok {
				return Tuple{}, false
			}
			in.peeks[i] = t
			if i == 0 || t.Less(low) {
				low = t
			}
		}
		aligned := true
		for i, h := range in.heads {
			t := in.peeks[i]
			if sameEvent(t, low) {
				continue
			}
			aligned = false
			if t.Key > low.Key {
				h.RetreatTo(low.Key)
			} else {
				skipPrevious(h, t, nil)
			}
		}
		if !aligned {
			continue
		}
		if out, ok := in.consume(low, skipPrevious); ok {
			return out, true
		}
	}
}

// consume moves every head past the event of t. It reports whether the
// event is a match.
func (in *intersection) consume(t Tuple, skip func(tupleindex.TupleIterator, Tuple, func(Tuple))) (Tuple, bool) {
	if !in.matchRoles {
		for _, h := range in.heads {
			skip(h, t, nil)
		}
		return t, true
	}
	var common roleSet
	for i, h := range in.heads {
		var roles roleSet
		skip(h, t, func(x Tuple) { roles.add(x.Role) })
		if i == 0 {
			common = roles
		} else {
			common.intersect(&roles)
		}
	}
	r, ok := common.first()
	if !ok {
		return Tuple{}, false
	}
	t.Role = r
	return t, true
}
