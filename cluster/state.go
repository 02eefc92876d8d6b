package cluster

import (
	"context"
	"sort"
	"sync"
)

// State is an in-memory view of the services scheduled on this node and
// their REST ports. It backs the locator (membership and port lookups) and
// the snapshot endpoints (pool and node-services documents). Mutations
// advance the configuration revision so cached snapshots invalidate.
type State struct {
	mu       sync.RWMutex
	host     string
	services map[string]int
	keyToSvc map[string]string
	revision *ConfigRevision
}

// NewState seeds the node state. services maps service name to REST port;
// portKeys follows the locator convention and nil uses DefaultPortKeys.
func NewState(host string, services map[string]int, portKeys map[string]string, revision *ConfigRevision) *State {
	if host == "" {
		host = "127.0.0.1"
	}
	if portKeys == nil {
		portKeys = DefaultPortKeys()
	}
	if revision == nil {
		revision = NewConfigRevision()
	}

	keyToSvc := make(map[string]string, len(portKeys))
	for svc, key := range portKeys {
		keyToSvc[key] = svc
	}

	copied := make(map[string]int, len(services))
	for name, port := range services {
		copied[name] = port
	}

	return &State{
		host:     host,
		services: copied,
		keyToSvc: keyToSvc,
		revision: revision,
	}
}

// IsServiceLocal reports whether the service is scheduled on this node.
func (s *State) IsServiceLocal(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.services[name]
	return ok
}

// GetInt resolves a port-config key to the locally configured port.
func (s *State) GetInt(key string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.keyToSvc[key]
	if !ok {
		return 0, false
	}
	port, ok := s.services[svc]
	return port, ok
}

// SetServicePort schedules (or reschedules) a service on this node and
// advances the revision.
func (s *State) SetServicePort(name string, port int) {
	s.mu.Lock()
	s.services[name] = port
	s.mu.Unlock()
	s.revision.Advance()
}

// RemoveService unschedules a service and advances the revision. Removing
// an absent service is a no-op.
func (s *State) RemoveService(name string) {
	s.mu.Lock()
	_, ok := s.services[name]
	delete(s.services, name)
	s.mu.Unlock()
	if ok {
		s.revision.Advance()
	}
}

// Services returns a copy of the scheduled service map.
func (s *State) Services() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.services))
	for name, port := range s.services {
		out[name] = port
	}
	return out
}

// BuildPoolInfo renders the pool document state-watching clients poll.
func (s *State) BuildPoolInfo(context.Context) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)

	return map[string]any{
		"name": "default",
		"rev":  s.revision.Current(),
		"nodes": []map[string]any{
			{
				"hostname": s.host,
				"services": names,
				"status":   "healthy",
			},
		},
	}, nil
}

// BuildNodeServices renders the per-node service/port table.
func (s *State) BuildNodeServices(context.Context) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ports := make(map[string]int, len(s.services))
	for name, port := range s.services {
		ports[name] = port
	}

	return map[string]any{
		"rev": s.revision.Current(),
		"nodesExt": []map[string]any{
			{
				"hostname": s.host,
				"services": ports,
				"thisNode": true,
			},
		},
	}, nil
}
