package bidi

// AcceptFunc decides whether an item passes a filter. It may also substitute
// a derived value. It must be a pure function of its input so that a filter
// skips the same items in both directions.
type AcceptFunc[In, Out any] func(In) (Out, bool)

type filterFetcher[In, Out any] struct {
	src    Iterator[In]
	accept AcceptFunc[In, Out]
}

func (f *filterFetcher[In, Out]) FetchNext() (Out, bool) {
	for {
		v, ok := f.src.Next()
		if !ok {
			var zero Out
			return zero, false
		}
		if out, keep := f.accept(v); keep {
			return out, true
		}
	}
}

func (f *filterFetcher[In, Out]) FetchPrevious() (Out, bool) {
	for {
		v, ok := f.src.Previous()
		if !ok {
			var zero Out
			return zero, false
		}
		if out, keep := f.accept(v); keep {
			return out, true
		}
	}
}

// Filtered is an iterator over the accepted items of a source iterator.
type Filtered[In, Out any] struct {
	*Buffered[Out]
	src Iterator[In]
}

// Filter returns an iterator over the items of src accepted by accept.
// Rejected items are skipped in either direction; a failed fetch stops at
// the boundary of src, so no accepted item is lost when reversing.
func Filter[In, Out any](src Iterator[In], accept AcceptFunc[In, Out]) *Filtered[In, Out] {
	return &Filtered[In, Out]{
		Buffered: NewBuffered[Out](&filterFetcher[In, Out]{src: src, accept: accept}),
		src:      src,
	}
}

// Source returns the wrapped iterator. Call Sync before moving it directly.
func (f *Filtered[In, Out]) Source() Iterator[In] { return f.src }

// Where keeps the items matching pred.
func Where[T any](src Iterator[T], pred func(T) bool) Iterator[T] {
	return Filter(src, func(v T) (T, bool) { return v, pred(v) })
}

type mapped[In, Out any] struct {
	src Iterator[In]
	fn  func(In) Out
}

// Map transforms every item of src with fn.
func Map[In, Out any](src Iterator[In], fn func(In) Out) Iterator[Out] {
	return &mapped[In, Out]{src: src, fn: fn}
}

func (m *mapped[In, Out]) apply(v In, ok bool) (Out, bool) {
	if !ok {
		var zero Out
		return zero, false
	}
	return m.fn(v), true
}

func (m *mapped[In, Out]) HasNext() bool             { return m.src.HasNext() }
func (m *mapped[In, Out]) HasPrevious() bool         { return m.src.HasPrevious() }
func (m *mapped[In, Out]) Next() (Out, bool)         { return m.apply(m.src.Next()) }
func (m *mapped[In, Out]) Previous() (Out, bool)     { return m.apply(m.src.Previous()) }
func (m *mapped[In, Out]) PeekNext() (Out, bool)     { return m.apply(m.src.PeekNext()) }
func (m *mapped[In, Out]) PeekPrevious() (Out, bool) { return m.apply(m.src.PeekPrevious()) }
