package tupleindex

import "math/bits"

// Bucket maps key in [t1, t2) to one of n equal-width buckets.
func Bucket(key, t1, t2 uint64, n int) int {
	hi, lo := bits.Mul64(key-t1, uint64(n))
	q, _ := bits.Div64(hi, lo, t2-t1)
	return int(q)
}

// FastCount counts the tuples with t1 <= key < t2 in n equal-width buckets.
// A full subtree whose keys fall into one bucket is counted from its size
// without reading its pages, so the cost grows with the number of bucket
// boundaries rather than with the number of tuples.
func (x *Index) FastCount(t1, t2 uint64, n int) []uint64 {
	if n <= 0 {
		return nil
	}
	counts := make([]uint64, n)
	if t1 >= t2 {
		return counts
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.levels) == 0 {
		return counts
	}
	top := len(x.levels) - 1
	fc := fastCounter{x: x, t1: t1, t2: t2, counts: counts}
	fc.visit(top, x.levels[top].first, 0, false)
	return counts
}

type fastCounter struct {
	x      *Index
	t1, t2 uint64
	counts []uint64
}

func (fc *fastCounter) bucket(key uint64) int {
	return Bucket(key, fc.t1, fc.t2, len(fc.counts))
}

// subtreeSize returns the tuple count below a full page of level lvl.
func (fc *fastCounter) subtreeSize(lvl int) uint64 {
	size := uint64(fc.x.leafCap)
	for i := 0; i < lvl; i++ {
		size *= uint64(fc.x.nodeCap)
	}
	return size
}

// visit counts one page. bound is the first key of the following page of
// the same level, if there is one. It returns false once t2 is reached.
func (fc *fastCounter) visit(lvl int, id uint32, bound uint64, hasBound bool) bool {
	x := fc.x
	p := x.page("count", id)
	n := x.fillOf(lvl, id)

	if lvl == 0 {
		for i := 0; i < n; i++ {
			k := x.keyAt(p, 0, i)
			if k >= fc.t2 {
				return false
			}
			if k >= fc.t1 {
				fc.counts[fc.bucket(k)]++
			}
		}
		return true
	}

	for i := 0; i < n; i++ {
		k := x.keyAt(p, lvl, i)
		if k >= fc.t2 {
			return false
		}
		next, hasNext := bound, hasBound
		if i+1 < n {
			next, hasNext = x.keyAt(p, lvl, i+1), true
		}
		if hasNext && next < fc.t1 {
			continue
		}
		// Only the last page of a level can be partially filled, so a child
		// with a successor is a full subtree.
		if hasNext && k >= fc.t1 && next < fc.t2 && fc.bucket(k) == fc.bucket(next) {
			fc.counts[fc.bucket(k)] += fc.subtreeSize(lvl - 1)
			continue
		}
		if !fc.visit(lvl-1, x.childAt(p, i), next, hasNext) {
			return false
		}
	}
	return true
}
