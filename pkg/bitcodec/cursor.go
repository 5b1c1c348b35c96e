package bitcodec

import "math/bits"

// Cursor is a bit position over a byte buffer, bounded by a limit.
// A Cursor is not safe for concurrent use.
type Cursor struct {
	buf   []byte
	pos   int
	limit int
	mark  int
}

// NewCursor returns a cursor over the whole buffer positioned at bit 0.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf, limit: len(buf) * 8, mark: -1}
}

// NewCursorAt returns a cursor over buf positioned at pos with the given bit limit.
func NewCursorAt(buf []byte, pos, limit int) *Cursor {
	if limit > len(buf)*8 {
		limit = len(buf) * 8
	}
	return &Cursor{buf: buf, pos: pos, limit: limit, mark: -1}
}

// Bytes returns the underlying buffer.
func (c *Cursor) Bytes() []byte { return c.buf }

// Position returns the current bit position.
func (c *Cursor) Position() int { return c.pos }

// SetPosition moves the cursor. Positions past the limit are rejected.
func (c *Cursor) SetPosition(pos int) error {
	if pos < 0 || pos > c.limit {
		return ErrOverflow
	}
	c.pos = pos
	return nil
}

// Limit returns the bit limit.
func (c *Cursor) Limit() int { return c.limit }

// SetLimit changes the bit limit, clamped to the buffer size.
func (c *Cursor) SetLimit(limit int) {
	if limit > len(c.buf)*8 {
		limit = len(c.buf) * 8
	}
	c.limit = limit
	if c.pos > limit {
		c.pos = limit
	}
}

// Remaining returns the number of bits between position and limit.
func (c *Cursor) Remaining() int { return c.limit - c.pos }

// Mark records the current position.
func (c *Cursor) Mark() { c.mark = c.pos }

// Reset returns to the marked position, or to 0 if no mark was set.
func (c *Cursor) Reset() {
	if c.mark < 0 {
		c.pos = 0
		return
	}
	c.pos = c.mark
}

// Skip advances the position by n bits.
func (c *Cursor) Skip(n int) error {
	if c.pos+n > c.limit {
		return ErrOverflow
	}
	c.pos += n
	return nil
}

// PutBits writes v as an n-bit unsigned field.
func (c *Cursor) PutBits(v uint64, n int) error {
	if n < 1 || n > 64 {
		return ErrInvalidWidth
	}
	if !Fits(v, n) {
		return ErrValueTooWide
	}
	if c.pos+n > c.limit {
		return ErrOverflow
	}
	WriteBits(c.buf, c.pos, n, v)
	c.pos += n
	return nil
}

// GetBits reads an n-bit unsigned field.
func (c *Cursor) GetBits(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, ErrInvalidWidth
	}
	if c.pos+n > c.limit {
		return 0, ErrUnderflow
	}
	v := ReadBits(c.buf, c.pos, n)
	c.pos += n
	return v, nil
}

// PutBool writes a single bit.
func (c *Cursor) PutBool(b bool) error {
	var v uint64
	if b {
		v = 1
	}
	return c.PutBits(v, 1)
}

// GetBool reads a single bit.
func (c *Cursor) GetBool() (bool, error) {
	v, err := c.GetBits(1)
	return v == 1, err
}

// PutSigned writes v as an n-bit two's complement field.
func (c *Cursor) PutSigned(v int64, n int) error {
	if n < 1 || n > 64 {
		return ErrInvalidWidth
	}
	if n < 64 {
		lo := int64(-1) << uint(n-1)
		if v < lo || v > ^lo {
			return ErrValueTooWide
		}
	}
	u := uint64(v)
	if n < 64 {
		u &= (1 << uint(n)) - 1
	}
	return c.PutBits(u, n)
}

// GetSigned reads an n-bit two's complement field.
func (c *Cursor) GetSigned(n int) (int64, error) {
	u, err := c.GetBits(n)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - n)
	return int64(u<<shift) >> shift, nil
}

// PutUnary writes v as v zero bits followed by a one bit.
func (c *Cursor) PutUnary(v uint64) error {
	if uint64(c.Remaining()) < v+1 || v+1 == 0 {
		return ErrOverflow
	}
	n := int(v)
	for n > 0 {
		w := n
		if w > 64 {
			w = 64
		}
		WriteBits(c.buf, c.pos, w, 0)
		c.pos += w
		n -= w
	}
	WriteBits(c.buf, c.pos, 1, 1)
	c.pos++
	return nil
}

// GetUnary reads a unary coded value.
func (c *Cursor) GetUnary() (uint64, error) {
	start := c.pos
	for c.pos < c.limit {
		bit := ReadBits(c.buf, c.pos, 1)
		c.pos++
		if bit == 1 {
			return uint64(c.pos - start - 1), nil
		}
	}
	c.pos = start
	return 0, ErrUnderflow
}

// PutGamma writes v >= 1 with Elias-gamma coding: the bit length minus one
// in unary (whose terminating one bit doubles as the leading one of v),
// then the remaining low bits of v.
func (c *Cursor) PutGamma(v uint64) error {
	if v == 0 {
		return ErrNotPositive
	}
	n := bits.Len64(v) - 1
	if c.Remaining() < 2*n+1 {
		return ErrOverflow
	}
	if err := c.PutUnary(uint64(n)); err != nil {
		return err
	}
	if n > 0 {
		WriteBits(c.buf, c.pos, n, v)
		c.pos += n
	}
	return nil
}

// GetGamma reads an Elias-gamma coded value.
func (c *Cursor) GetGamma() (uint64, error) {
	start := c.pos
	n, err := c.GetUnary()
	if err != nil {
		return 0, err
	}
	if n > 63 {
		c.pos = start
		return 0, ErrCorrupt
	}
	if n == 0 {
		return 1, nil
	}
	if c.pos+int(n) > c.limit {
		c.pos = start
		return 0, ErrUnderflow
	}
	low := ReadBits(c.buf, c.pos, int(n))
	c.pos += int(n)
	return 1<<n | low, nil
}

// PutSignedGamma writes v through a zig-zag transform shifted by one so
// that zero is representable. math.MinInt64 has no encoding.
func (c *Cursor) PutSignedGamma(v int64) error {
	z := ZigZag(v)
	if z == ^uint64(0) {
		return ErrValueTooWide
	}
	return c.PutGamma(z + 1)
}

// GetSignedGamma reads a value written by PutSignedGamma.
func (c *Cursor) GetSignedGamma() (int64, error) {
	g, err := c.GetGamma()
	if err != nil {
		return 0, err
	}
	return UnZigZag(g - 1), nil
}

// ZigZag maps signed integers to unsigned ones so that small magnitudes
// get small codes: 0, -1, 1, -2, 2 ... become 0, 1, 2, 3, 4 ...
func ZigZag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

// UnZigZag inverts ZigZag.
func UnZigZag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// UnaryLen returns the encoded size of v in unary code.
func UnaryLen(v uint64) int { return int(v) + 1 }

// GammaLen returns the encoded size of v >= 1 in Elias-gamma code.
func GammaLen(v uint64) int { return 2*bits.Len64(v) - 1 }

// SignedGammaLen returns the encoded size of v written by PutSignedGamma.
func SignedGammaLen(v int64) int { return GammaLen(ZigZag(v) + 1) }
