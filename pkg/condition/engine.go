package condition

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-tracedb/pkg/bidi"
	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/eventstore"
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/merge"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

// Options configure an Engine.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Registry
	// FastCounts lets CountInRange answer simple conditions from the
	// summary levels of a single index.
	FastCounts bool
}

// Engine evaluates conditions against a registry and its event store.
type Engine struct {
	reg        *registry.Registry
	store      *eventstore.Store
	probes     *registry.ProbeTable
	logger     logging.Logger
	metrics    *metrics.Registry
	fastCounts bool
	epoch      atomic.Uint64
}

// NewEngine creates an engine. probes may be nil.
func NewEngine(reg *registry.Registry, store *eventstore.Store, probes *registry.ProbeTable, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	return &Engine{
		reg:        reg,
		store:      store,
		probes:     probes,
		logger:     opts.Logger.With(logging.Component("condition")),
		metrics:    opts.Metrics,
		fastCounts: opts.FastCounts,
	}
}

// Invalidate ends every Results created so far. Their next fetch fails
// with ErrStaleResults. Call it before the registry and store are reset.
func (e *Engine) Invalidate() {
	e.epoch.Add(1)
}

func queryType(c Condition) string {
	switch c.(type) {
	case *Simple:
		return "simple"
	case *Conjunction:
		return "conjunction"
	case *Disjunction:
		return "disjunction"
	}
	return "unknown"
}

// Validate checks a condition tree without evaluating it.
func (e *Engine) Validate(c Condition) error {
	if err := e.validate(c); err != nil {
		qe := &QueryError{Op: "validate", Cause: err}
		if c != nil {
			qe.Condition = c.String()
		}
		return qe
	}
	return nil
}

func (e *Engine) validate(c Condition) error {
	switch n := c.(type) {
	case *Simple:
		if n == nil {
			return ErrNilCondition
		}
		return e.validateSimple(n)
	case *Conjunction:
		if n == nil {
			return ErrNilCondition
		}
		if len(n.Children) == 0 {
			return ErrEmptyCompound
		}
		for _, child := range n.Children {
			if _, ok := child.(*Simple); n.MatchRoles && !ok {
				return fmt.Errorf("%w: %v", ErrMatchRoles, child)
			}
			if err := e.validate(child); err != nil {
				return err
			}
		}
		return nil
	case *Disjunction:
		if n == nil {
			return ErrNilCondition
		}
		if len(n.Children) == 0 {
			return ErrEmptyCompound
		}
		for _, child := range n.Children {
			if err := e.validate(child); err != nil {
				return err
			}
		}
		return nil
	}
	return ErrNilCondition
}

func (e *Engine) validateSimple(s *Simple) error {
	if err := e.reg.Validate(s.Dim, s.Part); err != nil {
		return err
	}
	switch s.Dim {
	case registry.DimBehavior:
		if !event.ValidBehaviorRole(s.Role) {
			return fmt.Errorf("%w: %s for %s", ErrInvalidRole, s.Role, s.Dim)
		}
	case registry.DimObject:
		if !event.ValidObjectRole(s.Role) {
			return fmt.Errorf("%w: %s for %s", ErrInvalidRole, s.Role, s.Dim)
		}
	default:
		if s.Role != 0 {
			return fmt.Errorf("%w: %s", ErrRoleNotAllowed, s.Dim)
		}
	}
	parts := e.reg.Parts(s.Dim)
	switch {
	case parts == nil:
	case s.Part == registry.WholeValue:
		if _, err := e.reg.Split(s.Dim, s.Value); err != nil {
			return err
		}
	default:
		if w := parts[s.Part]; s.Value>>w != 0 {
			return fmt.Errorf("%w: %d exceeds %d bits", registry.ErrKeyOverflow, s.Value, w)
		}
	}
	return nil
}

// roleMatches reports whether a stored role satisfies the role of a leaf.
func roleMatches(dim registry.Dimension, query, stored event.Role) bool {
	switch dim {
	case registry.DimBehavior:
		return event.MatchBehavior(query, stored)
	case registry.DimObject:
		return event.MatchObject(query, stored)
	}
	return true
}

func anyRole(dim registry.Dimension, r event.Role) bool {
	switch dim {
	case registry.DimBehavior:
		return r == event.RoleAnyBehavior
	case registry.DimObject:
		return r == event.RoleAnyObject
	}
	return true
}

// counted tallies the tuples read from a leaf.
type counted struct {
	tupleindex.TupleIterator
	n *uint64
}

func (c counted) Next() (tupleindex.Tuple, bool) {
	t, ok := c.TupleIterator.Next()
	if ok {
		*c.n++
	}
	return t, ok
}

func (c counted) Previous() (tupleindex.Tuple, bool) {
	t, ok := c.TupleIterator.Previous()
	if ok {
		*c.n++
	}
	return t, ok
}

type builder struct {
	e       *Engine
	seek    uint64
	scanned *uint64
}

func (b *builder) leaf(dim registry.Dimension, part int, value uint64, role event.Role) tupleindex.TupleIterator {
	idx := b.e.reg.Index(dim, part, value)
	if idx == nil {
		return tupleindex.Empty()
	}
	var it tupleindex.TupleIterator = counted{TupleIterator: idx.Iterator(b.seek), n: b.scanned}
	if !anyRole(dim, role) {
		it = tupleindex.Filter(it, func(t tupleindex.Tuple) (tupleindex.Tuple, bool) {
			return t, roleMatches(dim, role, event.Role(t.Role))
		})
	}
	return it
}

func (b *builder) build(c Condition) tupleindex.TupleIterator {
	switch n := c.(type) {
	case *Simple:
		parts := b.e.reg.Parts(n.Dim)
		if parts == nil || n.Part != registry.WholeValue {
			return b.leaf(n.Dim, max(n.Part, 0), n.Value, n.Role)
		}
		// validated beforehand, the split cannot fail
		values, _ := b.e.reg.Split(n.Dim, n.Value)
		heads := make([]tupleindex.TupleIterator, len(values))
		for i, v := range values {
			heads[i] = b.leaf(n.Dim, i, v, n.Role)
		}
		return merge.Intersection(n.Dim.Info().Roles, heads...)
	case *Conjunction:
		heads := make([]tupleindex.TupleIterator, len(n.Children))
		for i, child := range n.Children {
			heads[i] = b.build(child)
		}
		return merge.Intersection(n.MatchRoles, heads...)
	case *Disjunction:
		heads := make([]tupleindex.TupleIterator, len(n.Children))
		for i, child := range n.Children {
			heads[i] = b.build(child)
		}
		return merge.Union(heads...)
	}
	return tupleindex.Empty()
}

func (e *Engine) pipeline(op string, c Condition, seek uint64, scanned *uint64) (tupleindex.TupleIterator, error) {
	if err := e.validate(c); err != nil {
		qe := &QueryError{Op: op, Cause: err}
		if c != nil {
			qe.Condition = c.String()
		}
		return nil, qe
	}
	b := builder{e: e, seek: seek, scanned: scanned}
	it := b.build(c)
	if _, ok := it.(*merge.Iterator); !ok {
		// one event may hold several tuples in a leaf
		it = merge.Union(it)
	}
	return it, nil
}

// EvaluateTuples returns the tuples of the events matched by c, one per
// event, positioned before the first event with timestamp >= seek.
func (e *Engine) EvaluateTuples(c Condition, seek uint64) (tupleindex.TupleIterator, error) {
	var scanned uint64
	return e.pipeline("evaluate", c, seek, &scanned)
}

// Results iterates the records of the events matched by a condition.
//
// The query is recorded in the metrics once, when the results first reach
// an end in either direction or when Close is called, so the recorded
// duration and tuple count cover the iteration.
type Results struct {
	*bidi.Filtered[tupleindex.Tuple, *event.Record]
	tuples   tupleindex.TupleIterator
	scanned  *uint64
	err      error
	finished bool
	finish   func()
	epoch    uint64
	current  *atomic.Uint64
}

// Err returns the first record that failed to load, or ErrStaleResults.
func (r *Results) Err() error { return r.err }

// Scanned returns how many index tuples were read so far.
func (r *Results) Scanned() uint64 { return *r.scanned }

// Tuples returns the underlying tuple iterator. Call Sync before moving it.
func (r *Results) Tuples() tupleindex.TupleIterator { return r.tuples }

// Close records the query if the results never reached an end. The
// results stay usable.
func (r *Results) Close() {
	r.done()
}

// stale stops the results once the engine was invalidated.
func (r *Results) stale() bool {
	if r.current.Load() == r.epoch {
		return false
	}
	if r.err == nil {
		r.err = ErrStaleResults
	}
	r.done()
	return true
}

func (r *Results) done() {
	if !r.finished {
		r.finished = true
		r.finish()
	}
}

// ending reports the first exhausted fetch of the source to its results.
type ending struct {
	tupleindex.TupleIterator
	res *Results
}

func (x ending) Next() (tupleindex.Tuple, bool) {
	if x.res.stale() {
		return tupleindex.Tuple{}, false
	}
	t, ok := x.TupleIterator.Next()
	if !ok {
		x.res.done()
	}
	return t, ok
}

func (x ending) Previous() (tupleindex.Tuple, bool) {
	if x.res.stale() {
		return tupleindex.Tuple{}, false
	}
	t, ok := x.TupleIterator.Previous()
	if !ok {
		x.res.done()
	}
	return t, ok
}

// Evaluate returns the records matched by c, positioned before the first
// event with timestamp >= seek.
func (e *Engine) Evaluate(c Condition, seek uint64) (*Results, error) {
	start := time.Now()
	res := &Results{scanned: new(uint64), epoch: e.epoch.Load(), current: &e.epoch}
	it, err := e.pipeline("evaluate", c, seek, res.scanned)
	if err != nil {
		e.record(c, "error", start, 0)
		e.logger.Warn("invalid query", logging.Error(err))
		return nil, err
	}
	res.tuples = it
	res.finish = func() {
		status := "success"
		if res.err != nil {
			status = "error"
		}
		e.record(c, status, start, *res.scanned)
	}
	res.Filtered = bidi.Filter[tupleindex.Tuple, *event.Record](ending{TupleIterator: it, res: res}, func(t tupleindex.Tuple) (*event.Record, bool) {
		rec, err := e.store.Get(eventstore.Pointer(t.Pointer))
		if err != nil {
			if res.err == nil {
				res.err = fmt.Errorf("load %s: %w", eventstore.Pointer(t.Pointer), err)
			}
			return nil, false
		}
		return rec, true
	})
	e.logger.Debug("query built", logging.Condition(c), logging.Timestamp(seek))
	return res, nil
}

func (e *Engine) record(c Condition, status string, start time.Time, scanned uint64) {
	if e.metrics != nil {
		e.metrics.RecordQuery(queryType(c), status, time.Since(start), int(scanned))
	}
}
