// Package tupleindex implements an append-only hierarchical index of
// (key, pointer, role) tuples stored in chained pages.
//
// Level 0 holds the tuples. Every page of level L contributes one summary
// tuple (first key, page id) to level L+1, and the top level always fits in
// a single page, so a seek reads one page per level.
package tupleindex

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
)

// Tuple is one index entry.
type Tuple struct {
	Key     uint64
	Pointer uint64
	Role    int8
}

// Less orders tuples by key, then pointer.
func (t Tuple) Less(o Tuple) bool {
	if t.Key != o.Key {
		return t.Key < o.Key
	}
	return t.Pointer < o.Pointer
}

// Compare returns -1, 0 or 1 comparing (key, pointer).
func (t Tuple) Compare(o Tuple) int {
	switch {
	case t.Key < o.Key:
		return -1
	case t.Key > o.Key:
		return 1
	case t.Pointer < o.Pointer:
		return -1
	case t.Pointer > o.Pointer:
		return 1
	}
	return 0
}

func (t Tuple) String() string {
	return fmt.Sprintf("(%d, %#x, %d)", t.Key, t.Pointer, t.Role)
}

// Layout fixes the bit widths of leaf tuples.
type Layout struct {
	KeyBits     int
	PointerBits int
	RoleBits    int // 0 for plain indexes
}

// DefaultPointerBits matches the event store pointer format (page id << 20 | bit offset).
const DefaultPointerBits = 52

// PlainLayout is the layout of indexes without roles.
var PlainLayout = Layout{KeyBits: 64, PointerBits: DefaultPointerBits}

// RoleLayout is the layout of role-tagged indexes.
var RoleLayout = Layout{KeyBits: 64, PointerBits: DefaultPointerBits, RoleBits: 8}

// HasRoles reports whether tuples carry a role.
func (l Layout) HasRoles() bool { return l.RoleBits > 0 }

func (l Layout) leafBits() int { return l.KeyBits + l.PointerBits + l.RoleBits }

func (l Layout) nodeBits() int { return l.KeyBits + pagestore.PointerBits }

func (l Layout) validate() error {
	if l.KeyBits < 1 || l.KeyBits > 64 || l.PointerBits < 1 || l.PointerBits > 64 ||
		l.RoleBits < 0 || l.RoleBits > 8 {
		return fmt.Errorf("invalid tuple layout %+v", l)
	}
	return nil
}

// Options tune an index.
type Options struct {
	// MaxTuplesPerPage caps the fan-out of every level; 0 fills pages.
	MaxTuplesPerPage int
}

var (
	// ErrKeyOrder is returned when a key is lower than the last appended key
	ErrKeyOrder = errors.New("tuple key lower than last key")

	// ErrTupleOverflow is returned when a tuple field exceeds its bit width
	ErrTupleOverflow = errors.New("tuple field exceeds layout width")

	// ErrFanout is returned when pages cannot hold at least two tuples
	ErrFanout = errors.New("index fan-out must be at least 2")
)

// IntegrityError reports a broken page chain. Iterators panic with it: the
// index cannot be read any further.
type IntegrityError struct {
	Op       string
	PageID   uint32
	Expected uint32
	Found    uint32
	Cause    error
}

func (e *IntegrityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("index integrity: %s page %d: %v", e.Op, e.PageID, e.Cause)
	}
	return fmt.Sprintf("index integrity: %s page %d: expected link %d, found %d",
		e.Op, e.PageID, e.Expected, e.Found)
}

func (e *IntegrityError) Unwrap() error { return e.Cause }
