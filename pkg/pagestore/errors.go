package pagestore

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrPageNotFound    = errors.New("page not found")
	ErrReadOnly        = errors.New("page store is read-only")
	ErrClosed          = errors.New("page store is closed")
	ErrBadHeader       = errors.New("invalid page file header")
	ErrInvalidPageSize = errors.New("page size must be a power of two between 256 and 65536")
)

// PageError provides structured error information for page operations.
type PageError struct {
	Op     string // Operation that failed (e.g., "get", "flush")
	PageID uint32 // Page ID (0 when not applicable)
	Path   string // Backing file, if any
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	switch {
	case e.PageID != 0 && e.Path != "":
		return fmt.Sprintf("%s page %d in %s: %v", e.Op, e.PageID, e.Path, e.Cause)
	case e.PageID != 0:
		return fmt.Sprintf("%s page %d: %v", e.Op, e.PageID, e.Cause)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PageError) Unwrap() error {
	return e.Cause
}

func pageNotFound(id uint32) error {
	return &PageError{Op: "get", PageID: id, Cause: ErrPageNotFound}
}

// IsNotFound returns true if the error is a page not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

// ValidPageSize reports whether size is an accepted page size.
func ValidPageSize(size int) bool {
	return size >= MinPageSize && size <= MaxPageSize && size&(size-1) == 0
}
