// Package bidi defines bidirectional iterators and the adapters used to
// compose them.
//
// An iterator sits in a gap between two items. Next returns the item after
// the gap and moves past it; Previous returns the item before the gap and
// moves before it, so Next followed by Previous yields the same item twice.
package bidi

// Iterator walks a sequence in both directions.
type Iterator[T any] interface {
	HasNext() bool
	Next() (T, bool)
	PeekNext() (T, bool)
	HasPrevious() bool
	Previous() (T, bool)
	PeekPrevious() (T, bool)
}

// Fetcher is the primitive behind Buffered: each call moves the underlying
// position by one item in the requested direction and reports false at the
// boundary without moving.
type Fetcher[T any] interface {
	FetchNext() (T, bool)
	FetchPrevious() (T, bool)
}

// Buffered turns a Fetcher into an Iterator. It caches one peeked item and
// remembers on which side of the logical gap the fetcher currently stands.
type Buffered[T any] struct {
	f      Fetcher[T]
	offset int // fetcher position relative to the gap: -1, 0 or 1
	cached T
}

// NewBuffered wraps f.
func NewBuffered[T any](f Fetcher[T]) *Buffered[T] {
	return &Buffered[T]{f: f}
}

// Sync moves the fetcher back to the logical gap and drops the cached item.
// Callers that reposition the fetcher directly must Sync first.
func (b *Buffered[T]) Sync() {
	switch b.offset {
	case 1:
		b.f.FetchPrevious()
	case -1:
		b.f.FetchNext()
	}
	b.offset = 0
	var zero T
	b.cached = zero
}

// PeekNext returns the next item without moving.
func (b *Buffered[T]) PeekNext() (T, bool) {
	if b.offset == 1 {
		return b.cached, true
	}
	if b.offset == -1 {
		b.f.FetchNext()
		b.offset = 0
	}
	v, ok := b.f.FetchNext()
	if !ok {
		var zero T
		return zero, false
	}
	b.cached = v
	b.offset = 1
	return v, true
}

// Next returns the next item.
func (b *Buffered[T]) Next() (T, bool) {
	v, ok := b.PeekNext()
	if ok {
		b.offset = 0
	}
	return v, ok
}

// HasNext reports whether Next would return an item.
func (b *Buffered[T]) HasNext() bool {
	_, ok := b.PeekNext()
	return ok
}

// PeekPrevious returns the previous item without moving.
func (b *Buffered[T]) PeekPrevious() (T, bool) {
	if b.offset == -1 {
		return b.cached, true
	}
	if b.offset == 1 {
		b.f.FetchPrevious()
		b.offset = 0
	}
	v, ok := b.f.FetchPrevious()
	if !ok {
		var zero T
		return zero, false
	}
	b.cached = v
	b.offset = -1
	return v, true
}

// Previous returns the previous item.
func (b *Buffered[T]) Previous() (T, bool) {
	v, ok := b.PeekPrevious()
	if ok {
		b.offset = 0
	}
	return v, ok
}

// HasPrevious reports whether Previous would return an item.
func (b *Buffered[T]) HasPrevious() bool {
	_, ok := b.PeekPrevious()
	return ok
}

var _ Iterator[int] = (*Buffered[int])(nil)
