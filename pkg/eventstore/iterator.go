package eventstore

import (
	"fmt"

	"github.com/dd0wney/cluso-tracedb/pkg/bitcodec"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
)

// Entry is a record with its pointer.
type Entry struct {
	Pointer Pointer
	Record  *event.Record
}

// Iterator scans records in append order by following the page chain.
// It sees records appended after its creation.
type Iterator struct {
	s    *Store
	page uint32
	pos  int
	err  error
}

// Iterator returns a scan from the first record.
func (s *Store) Iterator() *Iterator {
	return &Iterator{s: s}
}

// Next returns the next record. It returns false at the end of the store
// or on error; check Err.
func (it *Iterator) Next() (Entry, bool) {
	if it.err != nil {
		return Entry{}, false
	}
	s := it.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	if it.page == 0 {
		if len(s.ids) == 0 {
			return Entry{}, false
		}
		it.page = s.ids[0]
	}

	for {
		limit := s.limitOf(it.page)
		if limit < 0 {
			it.err = fmt.Errorf("%w: page %d is not an event page", ErrBadPointer, it.page)
			return Entry{}, false
		}
		page, err := s.pages.Get(it.page)
		if err != nil {
			it.err = err
			return Entry{}, false
		}
		if it.pos+event.KindBits <= limit {
			c := bitcodec.NewCursorAt(page.Data(), it.pos, limit)
			r, k, err := event.Decode(c)
			if err != nil {
				it.err = fmt.Errorf("failed to decode record at %s: %w", MakePointer(it.page, it.pos), err)
				return Entry{}, false
			}
			if k != event.KindEnd {
				e := Entry{Pointer: MakePointer(it.page, it.pos), Record: r}
				it.pos = c.Position()
				return e, true
			}
		}
		if it.page == s.current() {
			return Entry{}, false
		}
		next := page.Next()
		if next == 0 {
			it.err = fmt.Errorf("event page %d has no successor", it.page)
			return Entry{}, false
		}
		it.page, it.pos = next, 0
	}
}

// Err returns the error that stopped the scan, if any.
func (it *Iterator) Err() error { return it.err }
