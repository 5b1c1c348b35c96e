package pagestore

import "sync"

// Store allocates and retrieves pages by id.
type Store interface {
	// Create appends a new zeroed page.
	Create() (*Page, error)
	// Get returns the page with the given id.
	Get(id uint32) (*Page, error)
	// PageSize returns the size of every page in bytes.
	PageSize() int
	// PageCount returns the number of allocated pages.
	PageCount() uint32
	// Clear drops every page.
	Clear() error
	// Flush makes written pages durable.
	Flush() error
	// Close releases the store.
	Close() error
}

// MemoryStore keeps pages in an in-memory arena.
type MemoryStore struct {
	mu       sync.RWMutex
	pageSize int
	pages    []*Page
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(pageSize int) (*MemoryStore, error) {
	if !ValidPageSize(pageSize) {
		return nil, ErrInvalidPageSize
	}
	return &MemoryStore{pageSize: pageSize}, nil
}

// Create appends a new page.
func (s *MemoryStore) Create() (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	p := newPage(uint32(len(s.pages)+1), s.pageSize)
	s.pages = append(s.pages, p)
	return p, nil
}

// Get returns a page by id.
func (s *MemoryStore) Get(id uint32) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == 0 || int(id) > len(s.pages) {
		return nil, pageNotFound(id)
	}
	return s.pages[id-1], nil
}

// PageSize returns the page size in bytes.
func (s *MemoryStore) PageSize() int { return s.pageSize }

// PageCount returns the number of pages.
func (s *MemoryStore) PageCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.pages))
}

// Clear drops all pages.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = nil
	return nil
}

// Flush is a no-op for memory pages.
func (s *MemoryStore) Flush() error { return nil }

// Close releases the pages.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pages = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
