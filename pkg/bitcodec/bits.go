// Package bitcodec provides bit-level encodings over byte buffers.
//
// Bit order is little-endian: bit i of a stream is bit (i % 8) of byte (i / 8),
// and multi-bit values are written least significant bit first.
package bitcodec

// ReadBits reads an n-bit unsigned value (1 <= n <= 64) starting at bit pos.
// The caller guarantees that the range is inside buf.
func ReadBits(buf []byte, pos, n int) uint64 {
	var v uint64
	shift := 0
	for n > 0 {
		idx := pos >> 3
		off := pos & 7
		w := 8 - off
		if w > n {
			w = n
		}
		b := (buf[idx] >> off) & byte((1<<w)-1)
		v |= uint64(b) << shift
		shift += w
		pos += w
		n -= w
	}
	return v
}

// WriteBits writes the low n bits of v (1 <= n <= 64) starting at bit pos.
// Bits of buf outside the range are preserved.
func WriteBits(buf []byte, pos, n int, v uint64) {
	for n > 0 {
		idx := pos >> 3
		off := pos & 7
		w := 8 - off
		if w > n {
			w = n
		}
		mask := byte(((1 << w) - 1) << off)
		buf[idx] = buf[idx]&^mask | byte(v<<off)&mask
		v >>= w
		pos += w
		n -= w
	}
}

// CopyBits copies n bits from src at srcPos to dst at dstPos.
// Overlapping ranges inside the same buffer are handled like memmove.
func CopyBits(dst []byte, dstPos int, src []byte, srcPos int, n int) {
	if n <= 0 {
		return
	}
	if &dst[0] == &src[0] && dstPos > srcPos && dstPos < srcPos+n {
		// Overlapping forward shift: copy from the tail.
		for n > 0 {
			w := n
			if w > 64 {
				w = 64
			}
			n -= w
			WriteBits(dst, dstPos+n, w, ReadBits(src, srcPos+n, w))
		}
		return
	}
	for n > 0 {
		w := n
		if w > 64 {
			w = 64
		}
		WriteBits(dst, dstPos, w, ReadBits(src, srcPos, w))
		dstPos += w
		srcPos += w
		n -= w
	}
}

// Fits reports whether v can be stored in an n-bit unsigned field.
func Fits(v uint64, n int) bool {
	if n >= 64 {
		return true
	}
	if n <= 0 {
		return false
	}
	return v>>uint(n) == 0
}
