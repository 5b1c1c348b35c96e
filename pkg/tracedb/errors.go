package tracedb

import (
	"errors"
	"fmt"
)

var (
	ErrClosed          = errors.New("database is closed")
	ErrReadOnly        = errors.New("database is read-only")
	ErrOutOfOrder      = errors.New("event timestamp precedes the last appended event")
	ErrLateEvent       = errors.New("event arrived after its reorder window closed")
	ErrLateObject      = errors.New("object id arrived after its reorder window closed")
	ErrNilRecord       = errors.New("nil event record")
	ErrCatalogCorrupt  = errors.New("catalog is corrupt")
	ErrCatalogMismatch = errors.New("catalog does not match page file")
	ErrMissingCatalog  = errors.New("page file has data but no catalog")

	// ErrFailed is returned by writes after an event was stored but could
	// not be fully indexed. Reopening restores the last flushed state.
	ErrFailed = errors.New("database failed, reopen to recover")
)

// DBError describes a failed database operation.
type DBError struct {
	Op        string // e.g. "append", "open"
	Timestamp uint64 // event timestamp, when the operation concerns one event
	Path      string
	Cause     error
}

func (e *DBError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
	case e.Timestamp != 0:
		return fmt.Sprintf("%s event at %d: %v", e.Op, e.Timestamp, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *DBError) Unwrap() error { return e.Cause }
