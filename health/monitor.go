package health

import (
	"sync"
	"time"
)

// Probe reports the current state of a subsystem when the health document
// is assembled, for subsystems whose state is queried rather than pushed.
type Probe func() Status

// Monitor tracks subsystem health. Static subsystems push updates;
// connection-like subsystems register a probe evaluated at read time.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Update records the status for a subsystem.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Subsystem = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// RegisterProbe attaches a live probe for a subsystem. A probe shadows any
// pushed status under the same name.
func (m *Monitor) RegisterProbe(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// Get retrieves the current status for a subsystem.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	probe, hasProbe := m.probes[name]
	status, hasStatus := m.statuses[name]
	m.mu.RUnlock()

	if hasProbe {
		s := probe()
		s.Subsystem = name
		return s, true
	}
	return status, hasStatus
}

// Snapshot evaluates every probe and returns all current statuses.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	statuses := make([]Status, 0, len(m.statuses)+len(m.probes))
	for name, status := range m.statuses {
		if _, shadowed := m.probes[name]; shadowed {
			continue
		}
		statuses = append(statuses, status)
	}
	probes := make(map[string]Probe, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	// Probes run outside the lock; they may take their own locks
	for name, probe := range probes {
		s := probe()
		s.Subsystem = name
		statuses = append(statuses, s)
	}
	return statuses
}

// Aggregate folds every subsystem into one system-level status.
func (m *Monitor) Aggregate(system string) Status {
	return Aggregate(system, m.Snapshot())
}

// Remove drops a subsystem from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// Count returns the number of tracked subsystems.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.probes)
	for name := range m.statuses {
		if _, shadowed := m.probes[name]; !shadowed {
			n++
		}
	}
	return n
}
