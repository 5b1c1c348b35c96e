package pagestore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

const (
	// FileMagic identifies a page file ("TRDBPAGE")
	FileMagic uint64 = 0x5452444250414745
	// FileVersion is the current page file format version
	FileVersion uint32 = 1
)

// FileHeader occupies slot 0 of a page file; page N lives at offset N*PageSize.
type FileHeader struct {
	Magic     uint64
	Version   uint32
	PageSize  uint32
	PageCount uint32
	_         uint32
	ID        [16]byte
}

func readHeader(r io.ReaderAt) (FileHeader, error) {
	var h FileHeader
	buf := make([]byte, binary.Size(h))
	if _, err := r.ReadAt(buf, 0); err != nil {
		return h, fmt.Errorf("failed to read header: %w", err)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("failed to decode header: %w", err)
	}
	if h.Magic != FileMagic || h.Version != FileVersion || !ValidPageSize(int(h.PageSize)) {
		return h, ErrBadHeader
	}
	return h, nil
}

// FileStore keeps pages in a single growable file. Loaded pages stay cached;
// Flush writes back the dirty ones and the header.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	pageSize int
	id       uuid.UUID
	count    uint32
	pages    []*Page // index id-1, nil until loaded
	closed   bool
}

// OpenFile opens or creates the page file at path. An existing file keeps its
// own page size; pageSize applies to new files only.
func OpenFile(path string, pageSize int) (*FileStore, error) {
	if !ValidPageSize(pageSize) {
		return nil, ErrInvalidPageSize
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &PageError{Op: "open", Path: path, Cause: err}
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &PageError{Op: "stat", Path: path, Cause: err}
	}

	s := &FileStore{path: path, file: f, pageSize: pageSize}
	if st.Size() == 0 {
		s.id = uuid.New()
		if err := s.writeHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
		return s, nil
	}

	h, err := readHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, &PageError{Op: "open", Path: path, Cause: err}
	}
	s.pageSize = int(h.PageSize)
	s.count = h.PageCount
	s.id = uuid.UUID(h.ID)
	s.pages = make([]*Page, s.count)
	return s, nil
}

// ID returns the identity stamped into the file header.
func (s *FileStore) ID() uuid.UUID { return s.id }

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) writeHeader() error {
	h := FileHeader{
		Magic:     FileMagic,
		Version:   FileVersion,
		PageSize:  uint32(s.pageSize),
		PageCount: s.count,
		ID:        [16]byte(s.id),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	slot := make([]byte, s.pageSize)
	copy(slot, buf.Bytes())
	if _, err := s.file.WriteAt(slot, 0); err != nil {
		return &PageError{Op: "write header", Path: s.path, Cause: err}
	}
	return nil
}

// Create appends a new page. It reaches the file on the next Flush.
func (s *FileStore) Create() (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.count++
	p := newPage(s.count, s.pageSize)
	p.touch()
	s.pages = append(s.pages, p)
	return p, nil
}

// Get returns a page, loading it from the file on first access.
func (s *FileStore) Get(id uint32) (*Page, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	if id == 0 || id > s.count {
		s.mu.RUnlock()
		return nil, pageNotFound(id)
	}
	if p := s.pages[id-1]; p != nil {
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.pages[id-1]; p != nil {
		return p, nil
	}
	p := newPage(id, s.pageSize)
	if _, err := s.file.ReadAt(p.data, int64(id)*int64(s.pageSize)); err != nil && !errors.Is(err, io.EOF) {
		return nil, &PageError{Op: "read", PageID: id, Path: s.path, Cause: err}
	}
	s.pages[id-1] = p
	return p, nil
}

// PageSize returns the page size in bytes.
func (s *FileStore) PageSize() int { return s.pageSize }

// PageCount returns the number of pages.
func (s *FileStore) PageCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Clear truncates the file back to its header.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.count = 0
	s.pages = nil
	if err := s.file.Truncate(int64(s.pageSize)); err != nil {
		return &PageError{Op: "clear", Path: s.path, Cause: err}
	}
	return s.writeHeader()
}

// Flush writes dirty pages and the header, then syncs the file.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	for _, p := range s.pages {
		if p == nil || !p.dirty.Load() {
			continue
		}
		p.dirty.Store(false)
		if _, err := s.file.WriteAt(p.data, int64(p.id)*int64(s.pageSize)); err != nil {
			p.dirty.Store(true)
			return &PageError{Op: "flush", PageID: p.id, Path: s.path, Cause: err}
		}
	}
	if err := s.writeHeader(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return &PageError{Op: "sync", Path: s.path, Cause: err}
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.flushLocked()
	closeErr := s.file.Close()
	s.pages = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

var _ Store = (*FileStore)(nil)
