// Package objectstore keeps the serialized state of traced objects, the
// class of every referenced object and the loaded classes themselves.
//
// Object states and class references live on the page store shared with
// the events. Each is indexed by object id in a tuple index, so ids must
// arrive in non-decreasing order; the database reorders them beforehand.
// Storing an id again shadows the earlier state.
package objectstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-tracedb/pkg/eventstore"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

var (
	// ErrIDOrder is returned when an object id is lower than the last stored one
	ErrIDOrder = errors.New("object id lower than the last stored id")

	// ErrBadPointer is returned when an index entry does not locate a blob
	ErrBadPointer = errors.New("pointer does not reference an object")

	// ErrClassConflict is returned when a class id is registered twice with
	// different information
	ErrClassConflict = errors.New("class already registered with different information")

	// ErrInvalidClass is returned for a class without a name
	ErrInvalidClass = errors.New("class name is empty")
)

// MinCompressSize is the smallest state that is tried with snappy.
const MinCompressSize = 64

// refLayout stores a class id as the tuple pointer.
var refLayout = tupleindex.Layout{KeyBits: 64, PointerBits: 64}

// Class is a class loaded by the traced program.
type Class struct {
	ID       uint64
	LoaderID uint64
	Name     string
}

// IsArray reports whether the class is an array type.
func (c Class) IsArray() bool { return strings.HasPrefix(c.Name, "[") }

// Options tune a Store.
type Options struct {
	// Fanout caps the tuples per index page; 0 fills pages.
	Fanout int
}

// Store holds object states, object class references and classes. Writes
// come from a single writer; reads may run concurrently with them.
type Store struct {
	mu      sync.RWMutex
	opts    tupleindex.Options
	blobs   blobLog
	objects *tupleindex.Index
	refs    *tupleindex.Index
	classes map[uint64]Class
	raw     uint64
	encoded uint64
}

// New creates an empty store on pages.
func New(pages pagestore.Store, opts Options) (*Store, error) {
	s := &Store{
		opts:    tupleindex.Options{MaxTuplesPerPage: opts.Fanout},
		blobs:   blobLog{pages: pages},
		classes: make(map[uint64]Class),
	}
	if err := s.newIndexes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) newIndexes() error {
	objects, err := tupleindex.New(s.blobs.pages, tupleindex.PlainLayout, s.opts)
	if err != nil {
		return fmt.Errorf("object index: %w", err)
	}
	refs, err := tupleindex.New(s.blobs.pages, refLayout, s.opts)
	if err != nil {
		return fmt.Errorf("object class index: %w", err)
	}
	s.objects, s.refs = objects, refs
	return nil
}

// Put stores the serialized state of object id.
func (s *Store) Put(id uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.objects.Last(); ok && id < last.Key {
		return fmt.Errorf("%w: %d after %d", ErrIDOrder, id, last.Key)
	}

	payload, flags := data, byte(0)
	if len(data) >= MinCompressSize {
		if c := snappy.Encode(nil, data); len(c) < len(data) {
			payload, flags = c, flagCompressed
		}
	}
	ptr, err := s.blobs.append(payload, flags)
	if err != nil {
		return err
	}
	if err := s.objects.Append(tupleindex.Tuple{Key: id, Pointer: uint64(ptr)}); err != nil {
		return fmt.Errorf("failed to index object %d: %w", id, err)
	}
	s.raw += uint64(len(data))
	s.encoded += uint64(len(payload) + headerSize)
	return nil
}

// lastWithKey returns the last tuple of idx with the given key.
func lastWithKey(idx *tupleindex.Index, key uint64) (tupleindex.Tuple, bool) {
	it := idx.Iterator(key)
	var found tupleindex.Tuple
	ok := false
	for {
		t, more := it.Next()
		if !more || t.Key != key {
			return found, ok
		}
		found, ok = t, true
	}
}

// Get returns the latest state stored for object id.
func (s *Store) Get(id uint64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := lastWithKey(s.objects, id)
	if !ok {
		return nil, false, nil
	}
	payload, flags, err := s.blobs.read(eventstore.Pointer(t.Pointer))
	if err != nil {
		return nil, false, fmt.Errorf("object %d: %w", id, err)
	}
	if flags&flagCompressed != 0 {
		if payload, err = snappy.Decode(nil, payload); err != nil {
			return nil, false, fmt.Errorf("object %d: %w: %v", id, ErrBadPointer, err)
		}
	}
	return payload, true, nil
}

// RegisterRef records the class of object id.
func (s *Store) RegisterRef(id, classID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.refs.Last(); ok && id < last.Key {
		return fmt.Errorf("%w: %d after %d", ErrIDOrder, id, last.Key)
	}
	if err := s.refs.Append(tupleindex.Tuple{Key: id, Pointer: classID}); err != nil {
		return fmt.Errorf("failed to index class of object %d: %w", id, err)
	}
	return nil
}

// ClassID returns the class id registered for object id.
func (s *Store) ClassID(id uint64) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := lastWithKey(s.refs, id)
	return t.Pointer, ok
}

// RegisterClass records a loaded class. Registering the same class again
// is a no-op.
func (s *Store) RegisterClass(c Class) error {
	if c.Name == "" {
		return ErrInvalidClass
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.classes[c.ID]; ok && old != c {
		return fmt.Errorf("%w: class %d is %s", ErrClassConflict, c.ID, old.Name)
	}
	s.classes[c.ID] = c
	return nil
}

// Class returns the class registered under id.
func (s *Store) Class(id uint64) (Class, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	return c, ok
}

// ClassOf returns the class of object id, when both the reference and
// the class are known.
func (s *Store) ClassOf(id uint64) (Class, bool) {
	classID, ok := s.ClassID(id)
	if !ok {
		return Class{}, false
	}
	return s.Class(classID)
}

// LastID returns the highest object id stored so far.
func (s *Store) LastID() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.objects.Last()
	return t.Key, ok
}

// LastRefID returns the highest object id with a registered class.
func (s *Store) LastRefID() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refs.Last()
	return t.Key, ok
}

// Stats describes the store.
type Stats struct {
	Objects      uint64
	Refs         uint64
	Classes      int
	Pages        int
	StoredBytes  uint64
	EncodedBytes uint64
}

// Stats returns the current store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Objects:      s.objects.Count(),
		Refs:         s.refs.Count(),
		Classes:      len(s.classes),
		Pages:        len(s.blobs.ids),
		StoredBytes:  s.raw,
		EncodedBytes: s.encoded,
	}
}

// State is the persisted bookkeeping of a store.
type State struct {
	Pages        []uint32
	Pos          int
	StoredBytes  uint64
	EncodedBytes uint64
	Objects      tupleindex.State
	Refs         tupleindex.State
	Classes      []Class
}

// State snapshots the store bookkeeping. Classes are ordered by id.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{
		Pages:        append([]uint32(nil), s.blobs.ids...),
		Pos:          s.blobs.pos,
		StoredBytes:  s.raw,
		EncodedBytes: s.encoded,
		Objects:      s.objects.State(),
		Refs:         s.refs.State(),
		Classes:      make([]Class, 0, len(s.classes)),
	}
	for _, c := range s.classes {
		st.Classes = append(st.Classes, c)
	}
	sort.Slice(st.Classes, func(i, j int) bool { return st.Classes[i].ID < st.Classes[j].ID })
	return st
}

// Restore reattaches the store to pages written earlier.
func (s *Store) Restore(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 1; i < len(st.Pages); i++ {
		if st.Pages[i] <= st.Pages[i-1] {
			return fmt.Errorf("object pages out of order at %d", i)
		}
	}
	if st.Pos > s.blobs.usable() {
		return fmt.Errorf("object write position %d beyond page body", st.Pos)
	}
	if err := s.objects.Restore(st.Objects); err != nil {
		return err
	}
	if err := s.refs.Restore(st.Refs); err != nil {
		return err
	}
	classes := make(map[uint64]Class, len(st.Classes))
	for _, c := range st.Classes {
		classes[c.ID] = c
	}
	s.blobs.ids = append(s.blobs.ids[:0], st.Pages...)
	s.blobs.pos = st.Pos
	s.raw, s.encoded = st.StoredBytes, st.EncodedBytes
	s.classes = classes
	return nil
}

// Reset forgets everything. The page store is cleared by its owner.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs.ids = nil
	s.blobs.pos = 0
	// the layouts were accepted by New
	_ = s.newIndexes()
	s.classes = make(map[uint64]Class)
	s.raw, s.encoded = 0, 0
}
