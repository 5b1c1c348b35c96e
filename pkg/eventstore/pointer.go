package eventstore

import "fmt"

// OffsetBits is the width of the in-page bit offset of a pointer. It covers
// the largest page size (64 KiB = 2^19 bits).
const OffsetBits = 20

// Pointer locates a record: page id in the high bits, bit offset of the
// record start in the low OffsetBits. Pointers grow with append order.
type Pointer uint64

// MakePointer builds a pointer.
func MakePointer(page uint32, offset int) Pointer {
	return Pointer(uint64(page)<<OffsetBits | uint64(offset))
}

// Page returns the page id.
func (p Pointer) Page() uint32 { return uint32(uint64(p) >> OffsetBits) }

// Offset returns the bit offset inside the page.
func (p Pointer) Offset() int { return int(uint64(p) & (1<<OffsetBits - 1)) }

func (p Pointer) String() string { return fmt.Sprintf("%d:%d", p.Page(), p.Offset()) }
