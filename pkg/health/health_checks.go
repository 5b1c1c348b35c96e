package health

import "math"

// DatabaseCheck reports whether ping succeeds.
func DatabaseCheck(ping func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "database"}
		if err := ping(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}
		check.Status = StatusHealthy
		check.Message = "Open"
		return check
	}
}

// IngestState is what IngestCheck needs to know about the writer.
type IngestState struct {
	Buffered   int
	Window     int
	OutOfOrder uint64
	Dropped    uint64
}

// IngestCheck degrades once events arrive later than the reorder window
// can absorb.
func IngestCheck(state func() IngestState) CheckFunc {
	return func() Check {
		st := state()
		check := Check{
			Name: "ingest",
			Details: map[string]any{
				"buffered":     st.Buffered,
				"window":       st.Window,
				"out_of_order": st.OutOfOrder,
				"dropped":      st.Dropped,
			},
		}
		if st.Dropped > 0 {
			check.Status = StatusDegraded
			check.Message = "Late events dropped, consider a larger reorder window"
			return check
		}
		check.Status = StatusHealthy
		check.Message = "No events dropped"
		return check
	}
}

// PageCapacityCheck watches how much of the page id space is used. Event
// pointers address at most math.MaxUint32 pages.
func PageCapacityCheck(pages func() uint32) CheckFunc {
	return func() Check {
		used := pages()
		percent := float64(used) / math.MaxUint32 * 100
		check := Check{
			Name: "page_capacity",
			Details: map[string]any{
				"pages":         used,
				"usage_percent": percent,
			},
		}
		switch {
		case percent > 95:
			check.Status = StatusUnhealthy
			check.Message = "Page id space nearly exhausted"
		case percent > 80:
			check.Status = StatusDegraded
			check.Message = "Page id space running low"
		default:
			check.Status = StatusHealthy
			check.Message = "Sufficient page ids"
		}
		return check
	}
}

// MemoryCheck degrades when the heap holds most of the memory obtained
// from the OS.
func MemoryCheck(usage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		alloc, sys := usage()
		check := Check{
			Name: "memory",
			Details: map[string]any{
				"alloc_bytes": alloc,
				"sys_bytes":   sys,
			},
		}
		if sys > 0 && float64(alloc)/float64(sys) > 0.9 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
			return check
		}
		check.Status = StatusHealthy
		check.Message = "Memory usage normal"
		return check
	}
}
