package registry

import (
	"fmt"
	"sort"
	"sync"
)

// ProbeInfo is the static information attached to an instrumentation probe.
// Zero fields mean "unknown".
type ProbeInfo struct {
	Behavior      uint16
	BytecodeIndex uint16
	AdviceSource  uint16
	BytecodeRole  uint8
}

// ProbeEntry pairs a probe id with its information.
type ProbeEntry struct {
	ID   uint32
	Info ProbeInfo
}

// ProbeTable maps probe ids to their static information. It is filled by
// whoever drives ingestion and is safe for concurrent use.
type ProbeTable struct {
	mu     sync.RWMutex
	probes map[uint32]ProbeInfo
}

// NewProbeTable creates an empty probe table.
func NewProbeTable() *ProbeTable {
	return &ProbeTable{probes: make(map[uint32]ProbeInfo)}
}

// Register records the information of probe id. Indexed events were
// derived from the first registration, so registering the same id again
// with different information fails with ErrProbeConflict.
func (t *ProbeTable) Register(id uint32, info ProbeInfo) error {
	if id == 0 {
		return ErrInvalidProbe
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.probes[id]; ok && old != info {
		return fmt.Errorf("%w: probe %d", ErrProbeConflict, id)
	}
	t.probes[id] = info
	return nil
}

// Lookup returns the information of probe id. A nil table knows no probes.
func (t *ProbeTable) Lookup(id uint32) (ProbeInfo, bool) {
	if t == nil || id == 0 {
		return ProbeInfo{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.probes[id]
	return info, ok
}

// Len returns the number of registered probes.
func (t *ProbeTable) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.probes)
}

// All returns every probe ordered by id.
func (t *ProbeTable) All() []ProbeEntry {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	out := make([]ProbeEntry, 0, len(t.probes))
	for id, info := range t.probes {
		out = append(out, ProbeEntry{ID: id, Info: info})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset forgets every probe.
func (t *ProbeTable) Reset() {
	t.mu.Lock()
	t.probes = make(map[uint32]ProbeInfo)
	t.mu.Unlock()
}
