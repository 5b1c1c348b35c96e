// Package eventstore appends bit-packed event records to chained pages and
// reads them back by pointer.
package eventstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-tracedb/pkg/bitcodec"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
	"github.com/dd0wney/cluso-tracedb/pkg/pools"
)

var (
	// ErrRecordTooLarge is returned for records that cannot fit an empty page
	ErrRecordTooLarge = errors.New("event record larger than a page")

	// ErrBadPointer is returned when a pointer does not locate a record
	ErrBadPointer = errors.New("pointer does not reference a record")
)

// Store is an append-only list of records. Appends come from a single
// writer; Get and iterators may run concurrently with it.
type Store struct {
	mu      sync.RWMutex
	pages   pagestore.Store
	scratch *pools.BytePool
	ids     []uint32 // event pages in chain order
	pos     int      // write position in the last page
	count   uint64
	bits    uint64
}

// New creates an empty store on pages.
func New(pages pagestore.Store) *Store {
	return &Store{pages: pages, scratch: pools.NewBytePool()}
}

func (s *Store) usableBits() int {
	return s.pages.PageSize()*8 - pagestore.TrailerBits
}

func (s *Store) current() uint32 {
	if len(s.ids) == 0 {
		return 0
	}
	return s.ids[len(s.ids)-1]
}

// Append encodes r after the last record and returns its pointer.
func (s *Store) Append(r *event.Record) (Pointer, error) {
	usable := s.usableBits()
	buf := s.scratch.Get(usable/8 + 1)
	defer s.scratch.Put(buf)

	c := bitcodec.NewCursorAt(buf, 0, usable)
	if err := event.Encode(c, r); err != nil {
		if errors.Is(err, bitcodec.ErrOverflow) {
			return 0, ErrRecordTooLarge
		}
		return 0, fmt.Errorf("failed to encode %s record: %w", r.Kind(), err)
	}
	n := c.Position()

	s.mu.Lock()
	defer s.mu.Unlock()

	var page *pagestore.Page
	var err error
	if len(s.ids) == 0 || s.pos+n > usable {
		if page, err = s.grow(usable); err != nil {
			return 0, err
		}
	} else if page, err = s.pages.Get(s.current()); err != nil {
		return 0, err
	}

	page.CopyFrom(buf, 0, s.pos, n)
	ptr := MakePointer(page.ID(), s.pos)
	s.pos += n
	s.count++
	s.bits += uint64(n)
	return ptr, nil
}

// grow closes the current page with an end marker and links a fresh one.
func (s *Store) grow(usable int) (*pagestore.Page, error) {
	np, err := s.pages.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate event page: %w", err)
	}
	if cur := s.current(); cur != 0 {
		old, err := s.pages.Get(cur)
		if err != nil {
			return nil, err
		}
		if usable-s.pos >= event.KindBits {
			old.WriteBits(s.pos, event.KindBits, uint64(event.KindEnd))
		}
		pagestore.Link(old, np)
	}
	s.ids = append(s.ids, np.ID())
	s.pos = 0
	return np, nil
}

// limitOf returns the end of the written region of an event page, or -1
// if id is not an event page. Callers hold the read lock.
func (s *Store) limitOf(id uint32) int {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i == len(s.ids) || s.ids[i] != id {
		return -1
	}
	if i == len(s.ids)-1 {
		return s.pos
	}
	return s.usableBits()
}

// Get decodes the record at ptr.
func (s *Store) Get(ptr Pointer) (*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit := s.limitOf(ptr.Page())
	if limit < 0 || ptr.Offset()+event.KindBits > limit {
		return nil, fmt.Errorf("%w: %s", ErrBadPointer, ptr)
	}
	page, err := s.pages.Get(ptr.Page())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPointer, ptr, err)
	}
	r, k, err := event.Decode(bitcodec.NewCursorAt(page.Data(), ptr.Offset(), limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPointer, ptr, err)
	}
	if k == event.KindEnd {
		return nil, fmt.Errorf("%w: %s: end marker", ErrBadPointer, ptr)
	}
	return r, nil
}

// Count returns the number of records.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Stats describes the store.
type Stats struct {
	Records     uint64
	Pages       int
	EncodedBits uint64
	AvgBits     float64
}

// Stats returns the current store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Records: s.count, Pages: len(s.ids), EncodedBits: s.bits}
	if s.count > 0 {
		st.AvgBits = float64(s.bits) / float64(s.count)
	}
	return st
}

// State is the persisted bookkeeping of a store.
type State struct {
	Pages []uint32
	Pos   int
	Count uint64
	Bits  uint64
}

// State snapshots the store bookkeeping.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{Pages: append([]uint32(nil), s.ids...), Pos: s.pos, Count: s.count, Bits: s.bits}
}

// Restore reattaches the store to pages written earlier.
func (s *Store) Restore(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 1; i < len(st.Pages); i++ {
		if st.Pages[i] <= st.Pages[i-1] {
			return fmt.Errorf("event pages out of order at %d", i)
		}
	}
	if st.Pos > s.usableBits() {
		return fmt.Errorf("write position %d beyond page body", st.Pos)
	}
	s.ids = append(s.ids[:0], st.Pages...)
	s.pos = st.Pos
	s.count = st.Count
	s.bits = st.Bits
	return nil
}

// Reset forgets every record. The page store is cleared by its owner.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.pos = 0
	s.count = 0
	s.bits = 0
}
