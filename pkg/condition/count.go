package condition

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
	"github.com/dd0wney/cluso-tracedb/pkg/tupleindex"
)

// CountInRange counts the events matched by c with t1 <= timestamp < t2 in
// n equal-width buckets.
func (e *Engine) CountInRange(c Condition, t1, t2 uint64, n int) ([]uint64, error) {
	start := time.Now()
	if t1 >= t2 || n <= 0 {
		err := &QueryError{Op: "count", Cause: fmt.Errorf("%w: [%d, %d) in %d buckets", ErrInvalidRange, t1, t2, n)}
		if c != nil {
			err.Condition = c.String()
		}
		e.record(c, "error", start, 0)
		return nil, err
	}

	if s, ok := c.(*Simple); ok && e.fastCounts && e.fastCountable(s) {
		if err := e.Validate(s); err != nil {
			e.record(c, "error", start, 0)
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.RecordCount(metrics.CountFast)
		}
		idx := e.reg.Index(s.Dim, s.Part, s.Value)
		if idx == nil {
			return make([]uint64, n), nil
		}
		counts := idx.FastCount(t1, t2, n)
		e.record(c, "success", start, 0)
		return counts, nil
	}

	var scanned uint64
	it, err := e.pipeline("count", c, t1, &scanned)
	if err != nil {
		e.record(c, "error", start, 0)
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordCount(metrics.CountMerge)
	}
	counts := make([]uint64, n)
	for {
		t, ok := it.Next()
		if !ok || t.Key >= t2 {
			break
		}
		counts[tupleindex.Bucket(t.Key, t1, t2, n)]++
	}
	e.record(c, "success", start, scanned)
	e.logger.Debug("count done", logging.Condition(c), logging.Uint64("scanned", scanned),
		logging.Latency(time.Since(start)))
	return counts, nil
}

// fastCountable reports whether one index holds exactly one tuple per
// matched event, so that tuple counts are event counts.
func (e *Engine) fastCountable(s *Simple) bool {
	if s.Dim.Info().Roles {
		return false
	}
	return e.reg.Parts(s.Dim) == nil || s.Part != registry.WholeValue
}
