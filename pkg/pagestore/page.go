// Package pagestore provides fixed-size pages addressed by dense integer ids.
//
// Page ids start at 1; id 0 is the null page. Every page reserves its last
// 64 bits for two page pointers (previous and next) so that structures built
// on pages can chain them without any other bookkeeping.
package pagestore

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/dd0wney/cluso-tracedb/pkg/bitcodec"
)

const (
	// DefaultPageSize is the page size used when none is configured
	DefaultPageSize = 4096
	// MinPageSize is the smallest accepted page size
	MinPageSize = 256
	// MaxPageSize is the largest accepted page size
	MaxPageSize = 65536

	// PointerBits is the width of a page pointer slot
	PointerBits = 32
	// TrailerBits is the space reserved at the end of every page
	TrailerBits = 2 * PointerBits
)

// Page is one fixed-size block of a store. Positions are bit offsets unless
// a method says otherwise.
type Page struct {
	id    uint32
	data  []byte
	dirty atomic.Bool
}

func newPage(id uint32, size int) *Page {
	return &Page{id: id, data: make([]byte, size)}
}

// ID returns the page id.
func (p *Page) ID() uint32 { return p.id }

// Size returns the page size in bytes.
func (p *Page) Size() int { return len(p.data) }

// Bits returns the page size in bits.
func (p *Page) Bits() int { return len(p.data) * 8 }

// UsableBits returns the bits available in front of the pointer trailer.
func (p *Page) UsableBits() int { return len(p.data)*8 - TrailerBits }

// Data exposes the raw page bytes.
func (p *Page) Data() []byte { return p.data }

// Dirty reports whether the page changed since the last flush.
func (p *Page) Dirty() bool { return p.dirty.Load() }

func (p *Page) touch() { p.dirty.Store(true) }

// Cursor returns a bit cursor over the page body, excluding the trailer.
func (p *Page) Cursor() *bitcodec.Cursor {
	return bitcodec.NewCursorAt(p.data, 0, p.UsableBits())
}

// ReadBits reads an n-bit unsigned value at pos.
func (p *Page) ReadBits(pos, n int) uint64 {
	return bitcodec.ReadBits(p.data, pos, n)
}

// WriteBits writes the low n bits of v at pos.
func (p *Page) WriteBits(pos, n int, v uint64) {
	bitcodec.WriteBits(p.data, pos, n, v)
	p.touch()
}

// ReadBool reads one bit.
func (p *Page) ReadBool(pos int) bool {
	return bitcodec.ReadBits(p.data, pos, 1) == 1
}

// WriteBool writes one bit.
func (p *Page) WriteBool(pos int, b bool) {
	var v uint64
	if b {
		v = 1
	}
	p.WriteBits(pos, 1, v)
}

// ReadUint8 reads a byte at bit position pos.
func (p *Page) ReadUint8(pos int) uint8 { return uint8(p.ReadBits(pos, 8)) }

// WriteUint8 writes a byte at bit position pos.
func (p *Page) WriteUint8(pos int, v uint8) { p.WriteBits(pos, 8, uint64(v)) }

// ReadUint32 reads a 32-bit value at bit position pos.
func (p *Page) ReadUint32(pos int) uint32 { return uint32(p.ReadBits(pos, 32)) }

// WriteUint32 writes a 32-bit value at bit position pos.
func (p *Page) WriteUint32(pos int, v uint32) { p.WriteBits(pos, 32, uint64(v)) }

// ReadUint64 reads a 64-bit value at bit position pos.
func (p *Page) ReadUint64(pos int) uint64 {
	if pos&7 == 0 {
		return binary.LittleEndian.Uint64(p.data[pos>>3:])
	}
	return p.ReadBits(pos, 64)
}

// WriteUint64 writes a 64-bit value at bit position pos.
func (p *Page) WriteUint64(pos int, v uint64) {
	if pos&7 == 0 {
		binary.LittleEndian.PutUint64(p.data[pos>>3:], v)
		p.touch()
		return
	}
	p.WriteBits(pos, 64, v)
}

// ReadBytes copies n bytes starting at byte offset off.
func (p *Page) ReadBytes(off, n int) []byte {
	out := make([]byte, n)
	copy(out, p.data[off:off+n])
	return out
}

// WriteBytes copies b into the page at byte offset off.
func (p *Page) WriteBytes(off int, b []byte) {
	copy(p.data[off:], b)
	p.touch()
}

// Move shifts n bits inside the page from src to dst.
func (p *Page) Move(src, dst, n int) {
	bitcodec.CopyBits(p.data, dst, p.data, src, n)
	p.touch()
}

// CopyTo copies n bits from this page at srcPos into dst at dstPos.
func (p *Page) CopyTo(dst *Page, srcPos, dstPos, n int) {
	bitcodec.CopyBits(dst.data, dstPos, p.data, srcPos, n)
	dst.touch()
}

// CopyFrom copies n bits of src starting at srcPos into the page at dstPos.
func (p *Page) CopyFrom(src []byte, srcPos, dstPos, n int) {
	bitcodec.CopyBits(p.data, dstPos, src, srcPos, n)
	p.touch()
}

// Prev returns the previous page pointer (0 = none).
func (p *Page) Prev() uint32 { return p.ReadUint32(p.Bits() - TrailerBits) }

// Next returns the next page pointer (0 = none).
func (p *Page) Next() uint32 { return p.ReadUint32(p.Bits() - PointerBits) }

// SetPrev sets the previous page pointer.
func (p *Page) SetPrev(id uint32) { p.WriteUint32(p.Bits()-TrailerBits, id) }

// SetNext sets the next page pointer.
func (p *Page) SetNext(id uint32) { p.WriteUint32(p.Bits()-PointerBits, id) }

// Link chains next after prev in both directions.
func Link(prev, next *Page) {
	prev.SetNext(next.id)
	next.SetPrev(prev.id)
}
