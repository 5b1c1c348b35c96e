// Package registry owns the attribute indexes of the database: one lazily
// created tuple index per (dimension, part, value), all sharing one page
// store. It also derives which tuples an event contributes.
package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/pagestore"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

// Default split widths.
var (
	DefaultObjectParts = []int{16, 16}
	DefaultArrayParts  = []int{14, 14}
)

// Options configure a Registry.
type Options struct {
	// Fanout caps tuples per index page; 0 fills pages.
	Fanout      int
	ObjectParts []int
	ArrayParts  []int
	Logger      logging.Logger
	Metrics     *metrics.Registry
}

type indexKey struct {
	dim   Dimension
	part  int
	value uint64
}

// Registry maps attribute values to their indexes.
type Registry struct {
	mu      sync.RWMutex
	pages   pagestore.Store
	fanout  int
	parts   [dimensionCount][]int
	indexes map[indexKey]*tupleindex.Index
	order   []indexKey
	logger  logging.Logger
	metrics *metrics.Registry
}

// New creates an empty registry whose index pages come from pages.
func New(pages pagestore.Store, opts Options) (*Registry, error) {
	if opts.ObjectParts == nil {
		opts.ObjectParts = DefaultObjectParts
	}
	if opts.ArrayParts == nil {
		opts.ArrayParts = DefaultArrayParts
	}
	if err := validateParts(opts.ObjectParts); err != nil {
		return nil, fmt.Errorf("object parts: %w", err)
	}
	if err := validateParts(opts.ArrayParts); err != nil {
		return nil, fmt.Errorf("array index parts: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	r := &Registry{
		pages:   pages,
		fanout:  opts.Fanout,
		indexes: make(map[indexKey]*tupleindex.Index),
		logger:  opts.Logger.With(logging.Component("registry")),
		metrics: opts.Metrics,
	}
	r.parts[DimObject] = slices.Clone(opts.ObjectParts)
	r.parts[DimArrayIndex] = slices.Clone(opts.ArrayParts)

	// Fail early on a fan-out the page size cannot honour.
	if _, err := tupleindex.New(pages, tupleindex.RoleLayout, r.indexOptions()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) indexOptions() tupleindex.Options {
	return tupleindex.Options{MaxTuplesPerPage: r.fanout}
}

// Parts returns the bit widths of a split dimension, nil otherwise.
func (r *Registry) Parts(d Dimension) []int {
	if !d.Valid() {
		return nil
	}
	return slices.Clone(r.parts[d])
}

// Validate checks that part designates an index set of d. WholeValue is
// accepted for every dimension.
func (r *Registry) Validate(d Dimension, part int) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownDimension, d)
	}
	if part == WholeValue {
		return nil
	}
	n := max(len(r.parts[d]), 1)
	if part < 0 || part >= n {
		return fmt.Errorf("%w: %s has no part %d", ErrBadPart, d, part)
	}
	return nil
}

// Split returns the per-part values of v for dimension d. Unsplit
// dimensions return v itself.
func (r *Registry) Split(d Dimension, v uint64) ([]uint64, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDimension, d)
	}
	parts := r.parts[d]
	if parts == nil {
		return []uint64{v}, nil
	}
	return splitValue(v, parts)
}

// Check verifies that every attribute can be indexed, so that a record is
// rejected before anything is written.
func (r *Registry) Check(attrs []Attribute) error {
	for _, a := range attrs {
		if _, err := r.Split(a.Dim, a.Value); err != nil {
			return fmt.Errorf("%s: %w", a.Dim, err)
		}
	}
	return nil
}

// Index returns the index of (d, part, value), or nil when no event has
// populated it yet.
func (r *Registry) Index(d Dimension, part int, value uint64) *tupleindex.Index {
	if part == WholeValue {
		part = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexes[indexKey{dim: d, part: part, value: value}]
}

func (r *Registry) indexFor(k indexKey) (*tupleindex.Index, error) {
	r.mu.RLock()
	idx := r.indexes[k]
	r.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx = r.indexes[k]; idx != nil {
		return idx, nil
	}
	layout := tupleindex.PlainLayout
	if k.dim.Info().Roles {
		layout = tupleindex.RoleLayout
	}
	idx, err := tupleindex.New(r.pages, layout, r.indexOptions())
	if err != nil {
		return nil, err
	}
	r.indexes[k] = idx
	r.order = append(r.order, k)
	r.logger.Debug("index created",
		logging.Dimension(k.dim.String()), logging.Int("part", k.part), logging.Uint64("value", k.value))
	if r.metrics != nil {
		r.metrics.RecordIndexCreated(k.dim.String())
	}
	return idx, nil
}

// IndexAttributes appends one tuple per attribute part, keyed by key and
// referencing pointer. It returns the number of tuples per dimension name.
func (r *Registry) IndexAttributes(attrs []Attribute, key, pointer uint64) (map[string]int, error) {
	counts := make(map[string]int, len(attrs))
	for _, a := range attrs {
		values, err := r.Split(a.Dim, a.Value)
		if err != nil {
			return counts, fmt.Errorf("%s: %w", a.Dim, err)
		}
		for part, v := range values {
			idx, err := r.indexFor(indexKey{dim: a.Dim, part: part, value: v})
			if err != nil {
				return counts, err
			}
			t := tupleindex.Tuple{Key: key, Pointer: pointer}
			if a.Dim.Info().Roles {
				t.Role = int8(a.Role)
			}
			if err := idx.Append(t); err != nil {
				return counts, fmt.Errorf("index %s/%d/%d: %w", a.Dim, part, v, err)
			}
			counts[a.Dim.String()]++
		}
	}
	return counts, nil
}

// IndexEvent derives the attributes of rec and indexes them under the
// record's timestamp.
func (r *Registry) IndexEvent(rec *event.Record, pointer uint64, probes *ProbeTable) (map[string]int, error) {
	attrs := Attributes(rec, probes)
	if err := r.Check(attrs); err != nil {
		return nil, err
	}
	return r.IndexAttributes(attrs, rec.Timestamp, pointer)
}

// Values lists the populated values of (d, part) in ascending order.
func (r *Registry) Values(d Dimension, part int) []uint64 {
	if part == WholeValue {
		part = 0
	}
	r.mu.RLock()
	var out []uint64
	for k := range r.indexes {
		if k.dim == d && k.part == part {
			out = append(out, k.value)
		}
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// DimensionStats summarises the indexes of one dimension.
type DimensionStats struct {
	Dimension Dimension
	Indexes   int
	Tuples    uint64
}

// Stats summarises the registry.
type Stats struct {
	Indexes    int
	Tuples     uint64
	Dimensions []DimensionStats
}

// Stats returns per-dimension index and tuple counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	per := make(map[Dimension]*DimensionStats)
	var st Stats
	for k, idx := range r.indexes {
		ds := per[k.dim]
		if ds == nil {
			ds = &DimensionStats{Dimension: k.dim}
			per[k.dim] = ds
		}
		n := idx.Count()
		ds.Indexes++
		ds.Tuples += n
		st.Indexes++
		st.Tuples += n
	}
	for _, ds := range per {
		st.Dimensions = append(st.Dimensions, *ds)
	}
	sort.Slice(st.Dimensions, func(i, j int) bool {
		return st.Dimensions[i].Dimension < st.Dimensions[j].Dimension
	})
	return st
}

// IndexState is the persisted form of one index.
type IndexState struct {
	Dimension Dimension
	Part      int
	Value     uint64
	Index     tupleindex.State
}

// State is the persisted form of the registry, in index creation order.
type State struct {
	Indexes []IndexState
}

// State snapshots every index.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{Indexes: make([]IndexState, 0, len(r.order))}
	for _, k := range r.order {
		st.Indexes = append(st.Indexes, IndexState{
			Dimension: k.dim,
			Part:      k.part,
			Value:     k.value,
			Index:     r.indexes[k].State(),
		})
	}
	return st
}

// Restore replaces the registry content with indexes reattached to pages
// written earlier.
func (r *Registry) Restore(st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	indexes := make(map[indexKey]*tupleindex.Index, len(st.Indexes))
	order := make([]indexKey, 0, len(st.Indexes))
	for _, is := range st.Indexes {
		if err := r.Validate(is.Dimension, is.Part); err != nil || is.Part == WholeValue {
			return fmt.Errorf("restore index %d/%d: %w", is.Dimension, is.Part, ErrBadPart)
		}
		k := indexKey{dim: is.Dimension, part: is.Part, value: is.Value}
		if _, dup := indexes[k]; dup {
			return fmt.Errorf("restore index %s/%d/%d: duplicate", k.dim, k.part, k.value)
		}
		layout := tupleindex.PlainLayout
		if k.dim.Info().Roles {
			layout = tupleindex.RoleLayout
		}
		idx, err := tupleindex.New(r.pages, layout, r.indexOptions())
		if err != nil {
			return err
		}
		if err := idx.Restore(is.Index); err != nil {
			return fmt.Errorf("restore index %s/%d/%d: %w", k.dim, k.part, k.value, err)
		}
		indexes[k] = idx
		order = append(order, k)
	}
	r.indexes = indexes
	r.order = order
	return nil
}

// Reset drops every index. The caller clears the page store.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.indexes = make(map[indexKey]*tupleindex.Index)
	r.order = nil
	r.mu.Unlock()
}
