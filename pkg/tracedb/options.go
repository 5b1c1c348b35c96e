package tracedb

import (
	"github.com/dd0wney/cluso-tracedb/pkg/logging"
	"github.com/dd0wney/cluso-tracedb/pkg/metrics"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

type options struct {
	logger  logging.Logger
	metrics *metrics.Registry
	probes  *registry.ProbeTable
}

// Option customises Open and OpenReadOnly.
type Option func(*options)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records database activity into m.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbes shares an existing probe table with the database. Probes
// stored in the catalog are registered into it on open.
func WithProbes(t *registry.ProbeTable) Option {
	return func(o *options) { o.probes = t }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNopLogger()
	}
	if o.probes == nil {
		o.probes = registry.NewProbeTable()
	}
	return o
}
