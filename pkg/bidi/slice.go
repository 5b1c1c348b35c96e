package bidi

// SliceIterator walks an in-memory slice. It serves as the reference model
// in tests and for small materialized results.
type SliceIterator[T any] struct {
	items []T
	pos   int // gap index: items[pos-1] | items[pos]
}

// FromSlice returns an iterator positioned before the first item.
func FromSlice[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items}
}

// FromSliceAt returns an iterator positioned before items[pos].
func FromSliceAt[T any](items []T, pos int) *SliceIterator[T] {
	if pos < 0 {
		pos = 0
	}
	if pos > len(items) {
		pos = len(items)
	}
	return &SliceIterator[T]{items: items, pos: pos}
}

// Empty returns an iterator with no items.
func Empty[T any]() Iterator[T] {
	return &SliceIterator[T]{}
}

func (s *SliceIterator[T]) HasNext() bool     { return s.pos < len(s.items) }
func (s *SliceIterator[T]) HasPrevious() bool { return s.pos > 0 }

func (s *SliceIterator[T]) PeekNext() (T, bool) {
	if s.pos >= len(s.items) {
		var zero T
		return zero, false
	}
	return s.items[s.pos], true
}

func (s *SliceIterator[T]) Next() (T, bool) {
	v, ok := s.PeekNext()
	if ok {
		s.pos++
	}
	return v, ok
}

func (s *SliceIterator[T]) PeekPrevious() (T, bool) {
	if s.pos == 0 {
		var zero T
		return zero, false
	}
	return s.items[s.pos-1], true
}

func (s *SliceIterator[T]) Previous() (T, bool) {
	v, ok := s.PeekPrevious()
	if ok {
		s.pos--
	}
	return v, ok
}

// Collect drains the remaining items of it in the forward direction.
func Collect[T any](it Iterator[T]) []T {
	var out []T
	for {
		v, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// CollectBackward drains it in the backward direction.
func CollectBackward[T any](it Iterator[T]) []T {
	var out []T
	for {
		v, ok := it.Previous()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
