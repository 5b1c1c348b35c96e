package tracedb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/dd0wney/cluso-tracedb/pkg/bitcodec"
	"github.com/dd0wney/cluso-tracedb/pkg/eventstore"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

const (
	// CatalogMagic identifies a catalog file ("TRDBCATL")
	CatalogMagic uint64 = 0x5452444243415446
	// CatalogVersion is the current catalog format version
	CatalogVersion = 2

	catalogHeaderSize = 8 + 4 + 4 // magic, checksum, payload length
)

// catalog is everything needed to reattach a database to its page file.
type catalog struct {
	PageFile    uuid.UUID
	PageSize    int
	PageCount   uint32
	Fanout      int
	ObjectParts []int
	ArrayParts  []int
	LastKey     uint64
	HasLast     bool
	Store       eventstore.State
	Registry    registry.State
	Probes      []registry.ProbeEntry
	Objects     objectstore.State
}

// catalogWriter accumulates the first error so encoders read straight through.
type catalogWriter struct {
	c   *bitcodec.Cursor
	err error
}

func (w *catalogWriter) bits(v uint64, n int) {
	if w.err == nil {
		w.err = w.c.PutBits(v, n)
	}
}

func (w *catalogWriter) bool(b bool) {
	if w.err == nil {
		w.err = w.c.PutBool(b)
	}
}

// count writes a non-negative integer as gamma(n+1).
func (w *catalogWriter) count(n int) {
	if w.err == nil && n < 0 {
		w.err = fmt.Errorf("negative count %d", n)
	}
	if w.err == nil {
		w.err = w.c.PutGamma(uint64(n) + 1)
	}
}

func (w *catalogWriter) parts(p []int) {
	w.count(len(p))
	for _, n := range p {
		w.bits(uint64(n), 7)
	}
}

// pageList writes strictly increasing page ids as deltas, all >= 1.
func (w *catalogWriter) pageList(ids []uint32) {
	w.count(len(ids))
	var prev uint32
	for _, id := range ids {
		w.count(int(id - prev - 1))
		prev = id
	}
}

func (w *catalogWriter) index(st tupleindex.State) {
	w.count(len(st.Levels))
	for _, lv := range st.Levels {
		w.bits(uint64(lv.First), 32)
		w.bits(uint64(lv.Current), 32)
		w.count(lv.Fill)
		w.bits(uint64(lv.Pages), 32)
	}
	w.bits(st.Count, 64)
	w.bits(st.Last.Key, 64)
	w.bits(st.Last.Pointer, 64)
	w.bits(uint64(uint8(st.Last.Role)), 8)
}

func (w *catalogWriter) string(v string) {
	w.count(len(v))
	for i := 0; i < len(v); i++ {
		w.bits(uint64(v[i]), 8)
	}
}

type catalogReader struct {
	c   *bitcodec.Cursor
	err error
}

func (r *catalogReader) bits(n int) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.c.GetBits(n)
	r.err = err
	return v
}

func (r *catalogReader) bool() bool { return r.bits(1) == 1 }

func (r *catalogReader) count() int {
	if r.err != nil {
		return 0
	}
	v, err := r.c.GetGamma()
	if err != nil {
		r.err = err
		return 0
	}
	if v-1 > math.MaxInt32 {
		r.err = ErrCatalogCorrupt
		return 0
	}
	return int(v - 1)
}

// length reads a slice length, bounded by the bits left to describe it.
func (r *catalogReader) length() int {
	n := r.count()
	if r.err == nil && n > r.c.Remaining() {
		r.err = ErrCatalogCorrupt
		return 0
	}
	return n
}

func (r *catalogReader) parts() []int {
	n := r.length()
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(r.bits(7))
	}
	return out
}

func (r *catalogReader) pageList() []uint32 {
	n := r.length()
	ids := make([]uint32, 0, n)
	var prev uint32
	for range n {
		prev += uint32(r.count()) + 1
		ids = append(ids, prev)
	}
	return ids
}

func (r *catalogReader) index() tupleindex.State {
	var st tupleindex.State
	levels := r.length()
	for range levels {
		st.Levels = append(st.Levels, tupleindex.LevelState{
			First:   uint32(r.bits(32)),
			Current: uint32(r.bits(32)),
			Fill:    r.count(),
			Pages:   uint32(r.bits(32)),
		})
	}
	st.Count = r.bits(64)
	st.Last = tupleindex.Tuple{
		Key:     r.bits(64),
		Pointer: r.bits(64),
		Role:    int8(uint8(r.bits(8))),
	}
	return st
}

func (r *catalogReader) string() string {
	n := r.length()
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.bits(8))
	}
	return string(b)
}

func (cat *catalog) encode(w *catalogWriter) {
	w.bits(CatalogVersion, 8)
	w.bits(binary.BigEndian.Uint64(cat.PageFile[:8]), 64)
	w.bits(binary.BigEndian.Uint64(cat.PageFile[8:]), 64)
	w.count(cat.PageSize)
	w.bits(uint64(cat.PageCount), 32)
	w.count(cat.Fanout)
	w.parts(cat.ObjectParts)
	w.parts(cat.ArrayParts)
	w.bits(cat.LastKey, 64)
	w.bool(cat.HasLast)

	w.pageList(cat.Store.Pages)
	w.count(cat.Store.Pos)
	w.bits(cat.Store.Count, 64)
	w.bits(cat.Store.Bits, 64)

	w.count(len(cat.Registry.Indexes))
	for _, is := range cat.Registry.Indexes {
		w.bits(uint64(is.Dimension), 8)
		w.count(is.Part)
		w.bits(is.Value, 64)
		w.index(is.Index)
	}

	w.count(len(cat.Probes))
	for _, p := range cat.Probes {
		w.bits(uint64(p.ID), 32)
		w.bits(uint64(p.Info.Behavior), 16)
		w.bits(uint64(p.Info.BytecodeIndex), 16)
		w.bits(uint64(p.Info.AdviceSource), 16)
		w.bits(uint64(p.Info.BytecodeRole), 8)
	}

	obj := &cat.Objects
	w.pageList(obj.Pages)
	w.count(obj.Pos)
	w.bits(obj.StoredBytes, 64)
	w.bits(obj.EncodedBytes, 64)
	w.index(obj.Objects)
	w.index(obj.Refs)
	w.count(len(obj.Classes))
	for _, c := range obj.Classes {
		w.bits(c.ID, 64)
		w.bits(c.LoaderID, 64)
		w.string(c.Name)
	}
}

func decodeCatalog(r *catalogReader) (*catalog, error) {
	if v := r.bits(8); r.err == nil && v != CatalogVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCatalogCorrupt, v)
	}
	cat := &catalog{}
	binary.BigEndian.PutUint64(cat.PageFile[:8], r.bits(64))
	binary.BigEndian.PutUint64(cat.PageFile[8:], r.bits(64))
	cat.PageSize = r.count()
	cat.PageCount = uint32(r.bits(32))
	cat.Fanout = r.count()
	cat.ObjectParts = r.parts()
	cat.ArrayParts = r.parts()
	cat.LastKey = r.bits(64)
	cat.HasLast = r.bool()

	cat.Store.Pages = r.pageList()
	cat.Store.Pos = r.count()
	cat.Store.Count = r.bits(64)
	cat.Store.Bits = r.bits(64)

	n := r.length()
	cat.Registry.Indexes = make([]registry.IndexState, 0, n)
	for range n {
		is := registry.IndexState{
			Dimension: registry.Dimension(r.bits(8)),
			Part:      r.count(),
			Value:     r.bits(64),
		}
		is.Index = r.index()
		cat.Registry.Indexes = append(cat.Registry.Indexes, is)
	}

	n = r.length()
	for range n {
		cat.Probes = append(cat.Probes, registry.ProbeEntry{
			ID: uint32(r.bits(32)),
			Info: registry.ProbeInfo{
				Behavior:      uint16(r.bits(16)),
				BytecodeIndex: uint16(r.bits(16)),
				AdviceSource:  uint16(r.bits(16)),
				BytecodeRole:  uint8(r.bits(8)),
			},
		})
	}

	obj := &cat.Objects
	obj.Pages = r.pageList()
	obj.Pos = r.count()
	obj.StoredBytes = r.bits(64)
	obj.EncodedBytes = r.bits(64)
	obj.Objects = r.index()
	obj.Refs = r.index()
	n = r.length()
	obj.Classes = make([]objectstore.Class, 0, n)
	for range n {
		obj.Classes = append(obj.Classes, objectstore.Class{
			ID:       r.bits(64),
			LoaderID: r.bits(64),
			Name:     r.string(),
		})
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogCorrupt, r.err)
	}
	return cat, nil
}

// marshal packs the catalog, growing the buffer until it fits, then
// compresses it and frames it with a magic and a checksum.
func (cat *catalog) marshal() ([]byte, error) {
	size := 4096
	for {
		w := &catalogWriter{c: bitcodec.NewCursor(make([]byte, size))}
		cat.encode(w)
		if errors.Is(w.err, bitcodec.ErrOverflow) {
			size *= 2
			continue
		}
		if w.err != nil {
			return nil, fmt.Errorf("encode catalog: %w", w.err)
		}
		raw := w.c.Bytes()[:(w.c.Position()+7)/8]
		payload := snappy.Encode(nil, raw)

		out := make([]byte, catalogHeaderSize, catalogHeaderSize+len(payload))
		binary.LittleEndian.PutUint64(out[0:8], CatalogMagic)
		binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(payload))
		binary.LittleEndian.PutUint32(out[12:16], uint32(len(payload)))
		return append(out, payload...), nil
	}
}

func unmarshalCatalog(data []byte) (*catalog, error) {
	if len(data) < catalogHeaderSize {
		return nil, fmt.Errorf("%w: short file", ErrCatalogCorrupt)
	}
	if binary.LittleEndian.Uint64(data[0:8]) != CatalogMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCatalogCorrupt)
	}
	sum := binary.LittleEndian.Uint32(data[8:12])
	n := binary.LittleEndian.Uint32(data[12:16])
	payload := data[catalogHeaderSize:]
	if uint32(len(payload)) != n {
		return nil, fmt.Errorf("%w: payload length %d, header says %d", ErrCatalogCorrupt, len(payload), n)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCatalogCorrupt)
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogCorrupt, err)
	}
	return decodeCatalog(&catalogReader{c: bitcodec.NewCursor(raw)})
}

func writeCatalog(path string, cat *catalog) error {
	data, err := cat.marshal()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename catalog: %w", err)
	}
	return nil
}

func readCatalog(path string) (*catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return unmarshalCatalog(data)
}
