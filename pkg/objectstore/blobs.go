package objectstore

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-tracedb/pkg/eventstore"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
)

// Blob header: payload length (4 bytes) and flags (1 byte).
const (
	headerSize     = 5
	flagCompressed = 1 << 0
)

// blobLog appends byte strings to chained pages. A blob may continue on
// the following pages; its header never straddles a page boundary.
// Callers hold the store lock.
type blobLog struct {
	pages pagestore.Store
	ids   []uint32
	pos   int // byte offset in the last page
}

func (l *blobLog) usable() int {
	return (l.pages.PageSize()*8 - pagestore.TrailerBits) / 8
}

func (l *blobLog) current() uint32 {
	if len(l.ids) == 0 {
		return 0
	}
	return l.ids[len(l.ids)-1]
}

func (l *blobLog) grow() (*pagestore.Page, error) {
	np, err := l.pages.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate object page: %w", err)
	}
	if cur := l.current(); cur != 0 {
		old, err := l.pages.Get(cur)
		if err != nil {
			return nil, err
		}
		pagestore.Link(old, np)
	}
	l.ids = append(l.ids, np.ID())
	l.pos = 0
	return np, nil
}

// append writes one blob and returns its pointer.
func (l *blobLog) append(payload []byte, flags byte) (eventstore.Pointer, error) {
	usable := l.usable()
	var page *pagestore.Page
	var err error
	if len(l.ids) == 0 || usable-l.pos < headerSize {
		page, err = l.grow()
	} else {
		page, err = l.pages.Get(l.current())
	}
	if err != nil {
		return 0, err
	}

	ptr := eventstore.MakePointer(page.ID(), l.pos*8)
	var header [headerSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = flags
	page.WriteBytes(l.pos, header[:])
	l.pos += headerSize

	for rest := payload; len(rest) > 0; {
		if l.pos == usable {
			if page, err = l.grow(); err != nil {
				return 0, err
			}
		}
		n := min(len(rest), usable-l.pos)
		page.WriteBytes(l.pos, rest[:n])
		l.pos += n
		rest = rest[n:]
	}
	return ptr, nil
}

// limitOf returns the end of the written region of a blob page, or -1.
func (l *blobLog) limitOf(id uint32) int {
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= id })
	if i == len(l.ids) || l.ids[i] != id {
		return -1
	}
	if i == len(l.ids)-1 {
		return l.pos
	}
	return l.usable()
}

// read returns the payload and flags of the blob at ptr.
func (l *blobLog) read(ptr eventstore.Pointer) ([]byte, byte, error) {
	id, off := ptr.Page(), ptr.Offset()/8
	limit := l.limitOf(id)
	if limit < 0 || ptr.Offset()%8 != 0 || off+headerSize > limit {
		return nil, 0, fmt.Errorf("%w: %s", ErrBadPointer, ptr)
	}
	page, err := l.pages.Get(id)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrBadPointer, ptr, err)
	}
	header := page.ReadBytes(off, headerSize)
	n := int(binary.LittleEndian.Uint32(header[:4]))
	flags := header[4]
	off += headerSize

	out := make([]byte, 0, n)
	for len(out) < n {
		if off == limit {
			if id == l.current() {
				return nil, 0, fmt.Errorf("%w: %s: blob runs past the log", ErrBadPointer, ptr)
			}
			if id = page.Next(); id == 0 {
				return nil, 0, fmt.Errorf("%w: %s: broken page chain", ErrBadPointer, ptr)
			}
			if page, err = l.pages.Get(id); err != nil {
				return nil, 0, fmt.Errorf("%w: %s: %v", ErrBadPointer, ptr, err)
			}
			if limit = l.limitOf(id); limit < 0 {
				return nil, 0, fmt.Errorf("%w: %s: page %d is not an object page", ErrBadPointer, ptr, id)
			}
			off = 0
		}
		k := min(n-len(out), limit-off)
		out = append(out, page.ReadBytes(off, k)...)
		off += k
	}
	return out, flags, nil
}
