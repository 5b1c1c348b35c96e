package tupleindex

import (
	"sort"
	"sync"

	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
)

// level tracks the page chain of one index level. Every page except the
// current one is full.
type level struct {
	first   uint32
	current uint32
	fill    int
	pages   uint32
}

// Index is a hierarchical sorted tuple index. Appends must come from a
// single writer; readers may run concurrently.
type Index struct {
	mu      sync.RWMutex
	store   pagestore.Store
	layout  Layout
	leafCap int
	nodeCap int
	levels  []level
	count   uint64
	last    Tuple
}

// New creates an empty index whose pages come from store.
func New(store pagestore.Store, layout Layout, opts Options) (*Index, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}
	usable := store.PageSize()*8 - pagestore.TrailerBits
	idx := &Index{
		store:   store,
		layout:  layout,
		leafCap: usable / layout.leafBits(),
		nodeCap: usable / layout.nodeBits(),
	}
	if m := opts.MaxTuplesPerPage; m > 0 {
		idx.leafCap = min(idx.leafCap, m)
		idx.nodeCap = min(idx.nodeCap, m)
	}
	if idx.leafCap < 2 || idx.nodeCap < 2 {
		return nil, ErrFanout
	}
	return idx, nil
}

// Layout returns the tuple layout.
func (x *Index) Layout() Layout { return x.layout }

func (x *Index) capacity(lvl int) int {
	if lvl == 0 {
		return x.leafCap
	}
	return x.nodeCap
}

func (x *Index) slotBits(lvl int) int {
	if lvl == 0 {
		return x.layout.leafBits()
	}
	return x.layout.nodeBits()
}

// fillOf returns the number of tuples in a page of the given level.
func (x *Index) fillOf(lvl int, id uint32) int {
	if id == x.levels[lvl].current {
		return x.levels[lvl].fill
	}
	return x.capacity(lvl)
}

func (x *Index) page(op string, id uint32) *pagestore.Page {
	p, err := x.store.Get(id)
	if err != nil {
		panic(&IntegrityError{Op: op, PageID: id, Cause: err})
	}
	return p
}

func (x *Index) keyAt(p *pagestore.Page, lvl, slot int) uint64 {
	return p.ReadBits(slot*x.slotBits(lvl), x.layout.KeyBits)
}

func (x *Index) childAt(p *pagestore.Page, slot int) uint32 {
	return uint32(p.ReadBits(slot*x.layout.nodeBits()+x.layout.KeyBits, pagestore.PointerBits))
}

func (x *Index) tupleAt(p *pagestore.Page, slot int) Tuple {
	l := x.layout
	pos := slot * l.leafBits()
	t := Tuple{
		Key:     p.ReadBits(pos, l.KeyBits),
		Pointer: p.ReadBits(pos+l.KeyBits, l.PointerBits),
	}
	if l.RoleBits > 0 {
		raw := p.ReadBits(pos+l.KeyBits+l.PointerBits, l.RoleBits)
		shift := 64 - l.RoleBits
		t.Role = int8(int64(raw<<shift) >> shift)
	}
	return t
}

func (x *Index) writeTuple(p *pagestore.Page, slot int, t Tuple) {
	l := x.layout
	pos := slot * l.leafBits()
	p.WriteBits(pos, l.KeyBits, t.Key)
	p.WriteBits(pos+l.KeyBits, l.PointerBits, t.Pointer)
	if l.RoleBits > 0 {
		p.WriteBits(pos+l.KeyBits+l.PointerBits, l.RoleBits, uint64(int64(t.Role)))
	}
}

func (x *Index) writeNode(p *pagestore.Page, slot int, key uint64, child uint32) {
	pos := slot * x.layout.nodeBits()
	p.WriteBits(pos, x.layout.KeyBits, key)
	p.WriteBits(pos+x.layout.KeyBits, pagestore.PointerBits, uint64(child))
}

func (x *Index) fits(t Tuple) bool {
	l := x.layout
	if l.KeyBits < 64 && t.Key>>uint(l.KeyBits) != 0 {
		return false
	}
	if l.PointerBits < 64 && t.Pointer>>uint(l.PointerBits) != 0 {
		return false
	}
	if l.RoleBits == 0 {
		return t.Role == 0
	}
	lo := int8(-1) << uint(l.RoleBits-1)
	return t.Role >= lo && t.Role <= ^lo
}

// Append adds a tuple. Keys must be non-decreasing.
func (x *Index) Append(t Tuple) error {
	if !x.fits(t) {
		return ErrTupleOverflow
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.count > 0 && t.Key < x.last.Key {
		return ErrKeyOrder
	}
	if len(x.levels) == 0 {
		p, err := x.store.Create()
		if err != nil {
			return err
		}
		x.levels = append(x.levels, level{first: p.ID(), current: p.ID(), pages: 1})
	}
	if err := x.appendAt(0, t, 0); err != nil {
		return err
	}
	x.count++
	x.last = t
	return nil
}

// appendAt writes a tuple at level lvl. Summary tuples carry the child page
// id instead of a pointer.
func (x *Index) appendAt(lvl int, t Tuple, child uint32) error {
	lv := &x.levels[lvl]
	if lv.fill < x.capacity(lvl) {
		p := x.page("append", lv.current)
		x.writeSlot(p, lvl, lv.fill, t, child)
		lv.fill++
		return nil
	}

	old := x.page("append", lv.current)
	np, err := x.store.Create()
	if err != nil {
		return err
	}
	x.writeSlot(np, lvl, 0, t, child)
	pagestore.Link(old, np)
	lv.current = np.ID()
	lv.fill = 1
	lv.pages++

	if lvl == len(x.levels)-1 {
		// The root split: grow a new root summarizing the old one.
		root, err := x.store.Create()
		if err != nil {
			return err
		}
		x.writeNode(root, 0, x.keyAt(old, lvl, 0), old.ID())
		x.levels = append(x.levels, level{first: root.ID(), current: root.ID(), fill: 1, pages: 1})
	}
	return x.appendAt(lvl+1, Tuple{Key: t.Key}, np.ID())
}

func (x *Index) writeSlot(p *pagestore.Page, lvl, slot int, t Tuple, child uint32) {
	if lvl == 0 {
		x.writeTuple(p, slot, t)
		return
	}
	x.writeNode(p, slot, t.Key, child)
}

// seekLocked returns the leaf gap before the first tuple with key >= key.
func (x *Index) seekLocked(key uint64) (uint32, int) {
	top := len(x.levels) - 1
	id := x.levels[top].first
	for lvl := top; lvl > 0; lvl-- {
		p := x.page("seek", id)
		n := x.fillOf(lvl, id)
		i := sort.Search(n, func(i int) bool { return x.keyAt(p, lvl, i) >= key }) - 1
		if i < 0 {
			i = 0
		}
		id = x.childAt(p, i)
	}
	p := x.page("seek", id)
	n := x.fillOf(0, id)
	return id, sort.Search(n, func(i int) bool { return x.keyAt(p, 0, i) >= key })
}

// Iterator returns an iterator positioned so that Next yields the first
// tuple with key >= seekKey and Previous the tuple before it.
func (x *Index) Iterator(seekKey uint64) *Iterator {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c := &cursor{x: x, seek: seekKey}
	if len(x.levels) > 0 {
		c.page, c.slot = x.seekLocked(seekKey)
	}
	return newIterator(c)
}

// Count returns the number of tuples.
func (x *Index) Count() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

// Last returns the last appended tuple.
func (x *Index) Last() (Tuple, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.last, x.count > 0
}

// Stats describes the shape of an index.
type Stats struct {
	Tuples        uint64
	Levels        int
	PagesPerLevel []uint32
	LeafFanout    int
	NodeFanout    int
	LastKey       uint64
}

// Stats returns the current index shape.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := Stats{
		Tuples:     x.count,
		Levels:     len(x.levels),
		LeafFanout: x.leafCap,
		NodeFanout: x.nodeCap,
		LastKey:    x.last.Key,
	}
	for _, lv := range x.levels {
		s.PagesPerLevel = append(s.PagesPerLevel, lv.pages)
	}
	return s
}

// LevelState is the persisted form of one level.
type LevelState struct {
	First   uint32
	Current uint32
	Fill    int
	Pages   uint32
}

// State is everything needed to reattach an index to its pages.
type State struct {
	Levels []LevelState
	Count  uint64
	Last   Tuple
}

// State snapshots the index bookkeeping.
func (x *Index) State() State {
	x.mu.RLock()
	defer x.mu.RUnlock()
	s := State{Count: x.count, Last: x.last}
	for _, lv := range x.levels {
		s.Levels = append(s.Levels, LevelState{First: lv.first, Current: lv.current, Fill: lv.fill, Pages: lv.pages})
	}
	return s
}

// Restore reattaches an index to pages written earlier.
func (x *Index) Restore(s State) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.levels = x.levels[:0]
	for i, lv := range s.Levels {
		if lv.Fill < 1 || lv.Fill > x.capacity(i) || lv.First == 0 || lv.Current == 0 {
			return &IntegrityError{Op: "restore", PageID: lv.Current, Expected: uint32(x.capacity(i)), Found: uint32(lv.Fill)}
		}
		x.levels = append(x.levels, level{first: lv.First, current: lv.Current, fill: lv.Fill, pages: lv.Pages})
	}
	if n := len(x.levels); n > 0 && x.levels[n-1].first != x.levels[n-1].current {
		return &IntegrityError{Op: "restore root", PageID: x.levels[n-1].first, Expected: x.levels[n-1].first, Found: x.levels[n-1].current}
	}
	x.count = s.Count
	x.last = s.Last
	return nil
}
