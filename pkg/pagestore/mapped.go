package pagestore

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/mmap"
)

// MappedStore is a read-only view of a flushed page file through mmap.
type MappedStore struct {
	mu       sync.Mutex
	path     string
	reader   *mmap.ReaderAt
	pageSize int
	count    uint32
	id       uuid.UUID
	pages    []*Page
}

// OpenMapped maps the page file at path.
func OpenMapped(path string) (*MappedStore, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, &PageError{Op: "mmap", Path: path, Cause: err}
	}

	h, err := readHeader(reader)
	if err != nil {
		_ = reader.Close()
		return nil, &PageError{Op: "mmap", Path: path, Cause: err}
	}

	return &MappedStore{
		path:     path,
		reader:   reader,
		pageSize: int(h.PageSize),
		count:    h.PageCount,
		id:       uuid.UUID(h.ID),
		pages:    make([]*Page, h.PageCount),
	}, nil
}

// ID returns the identity stamped into the file header.
func (s *MappedStore) ID() uuid.UUID { return s.id }

// Create always fails on a mapped store.
func (s *MappedStore) Create() (*Page, error) {
	return nil, &PageError{Op: "create", Path: s.path, Cause: ErrReadOnly}
}

// Get copies a page out of the mapping on first access.
func (s *MappedStore) Get(id uint32) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil, ErrClosed
	}
	if id == 0 || id > s.count {
		return nil, pageNotFound(id)
	}
	if p := s.pages[id-1]; p != nil {
		return p, nil
	}
	p := newPage(id, s.pageSize)
	if _, err := s.reader.ReadAt(p.data, int64(id)*int64(s.pageSize)); err != nil {
		return nil, &PageError{Op: "read", PageID: id, Path: s.path, Cause: err}
	}
	s.pages[id-1] = p
	return p, nil
}

// PageSize returns the page size in bytes.
func (s *MappedStore) PageSize() int { return s.pageSize }

// PageCount returns the number of pages in the file.
func (s *MappedStore) PageCount() uint32 { return s.count }

// Clear always fails on a mapped store.
func (s *MappedStore) Clear() error {
	return &PageError{Op: "clear", Path: s.path, Cause: ErrReadOnly}
}

// Flush has nothing to write.
func (s *MappedStore) Flush() error { return nil }

// Close unmaps the file.
func (s *MappedStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	s.pages = nil
	return err
}

var _ Store = (*MappedStore)(nil)
