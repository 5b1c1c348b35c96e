package tracedb

import (
	"container/heap"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
)

type pending[T any] struct {
	item T
	key  uint64
	seq  uint64
}

// reorderHeap orders buffered items by key, then arrival.
type reorderHeap[T any] []pending[T]

func (h reorderHeap[T]) Len() int { return len(h) }

func (h reorderHeap[T]) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].seq < h[j].seq
}

func (h reorderHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reorderHeap[T]) Push(x any) { *h = append(*h, x.(pending[T])) }

func (h *reorderHeap[T]) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = pending[T]{}
	*h = old[:n-1]
	return p
}

// reorderBuffer holds up to window items and releases them in key order.
// Items with a key below the last released one can no longer be placed.
type reorderBuffer[T any] struct {
	window  int
	keyOf   func(T) uint64
	heap    reorderHeap[T]
	seq     uint64
	maxSeen uint64
	seen    bool
}

func newReorderBuffer[T any](window int, keyOf func(T) uint64) *reorderBuffer[T] {
	return &reorderBuffer[T]{window: window, keyOf: keyOf}
}

// timestampOf keys events for the event buffer.
func timestampOf(rec *event.Record) uint64 { return rec.Timestamp }

// add buffers item and reports whether it arrived out of order.
func (b *reorderBuffer[T]) add(item T) bool {
	key := b.keyOf(item)
	late := b.seen && key < b.maxSeen
	if !b.seen || key > b.maxSeen {
		b.maxSeen = key
		b.seen = true
	}
	b.seq++
	heap.Push(&b.heap, pending[T]{item: item, key: key, seq: b.seq})
	return late
}

// overflow pops the lowest item once the buffer exceeds its window.
func (b *reorderBuffer[T]) overflow() (T, bool) {
	if b.heap.Len() <= b.window {
		var zero T
		return zero, false
	}
	return heap.Pop(&b.heap).(pending[T]).item, true
}

// drain pops every buffered item in order.
func (b *reorderBuffer[T]) drain() []T {
	out := make([]T, 0, b.heap.Len())
	for b.heap.Len() > 0 {
		out = append(out, heap.Pop(&b.heap).(pending[T]).item)
	}
	return out
}

func (b *reorderBuffer[T]) len() int { return b.heap.Len() }

func (b *reorderBuffer[T]) reset() {
	b.heap = nil
	b.seq = 0
	b.maxSeen = 0
	b.seen = false
}
