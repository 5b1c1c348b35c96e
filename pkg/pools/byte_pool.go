package pools

import (
	"math/bits"
	"sync"
)

// Size classes follow the accepted page sizes.
const (
	MinClass   = 256
	MaxClass   = 65536
	classCount = 9 // 256, 512, ... 65536
)

// BytePool pools byte slices in power-of-two size classes.
type BytePool struct {
	classes [classCount]sync.Pool
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := MinClass << i
		p.classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

func classOf(size int) int {
	if size <= MinClass {
		return 0
	}
	return bits.Len(uint(size-1)) - bits.Len(uint(MinClass-1))
}

// Get returns a slice of length size. Its content is unspecified.
// Sizes above MaxClass are allocated directly.
func (p *BytePool) Get(size int) []byte {
	if size > MaxClass {
		return make([]byte, size)
	}
	bp, ok := p.classes[classOf(size)].Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, size)
	}
	return (*bp)[:size]
}

// GetZeroed returns a cleared slice of length size.
func (p *BytePool) GetZeroed(size int) []byte {
	b := p.Get(size)
	clear(b)
	return b
}

// Put returns b to the pool. Slices that do not match a class exactly are dropped.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c < MinClass || c > MaxClass || c&(c-1) != 0 {
		return
	}
	b = b[:c]
	p.classes[classOf(c)].Put(&b)
}
