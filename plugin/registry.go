package plugin

import "strings"

// Registry is the ordered, prefix-unique collection of service descriptors.
// It is built once at startup and immutable afterwards, so lookups need no
// synchronization.
type Registry struct {
	ordered  []ServiceDescriptor
	byPrefix map[string]ServiceDescriptor
	byName   map[string]ServiceDescriptor
}

func newRegistry() *Registry {
	return &Registry{
		byPrefix: make(map[string]ServiceDescriptor),
		byName:   make(map[string]ServiceDescriptor),
	}
}

// insert assumes the caller already checked the prefix for collisions
func (r *Registry) insert(desc ServiceDescriptor) {
	r.ordered = append(r.ordered, desc)
	r.byPrefix[desc.RESTPrefix] = desc
	if _, ok := r.byName[desc.Service]; !ok {
		// First descriptor for a service name wins the secondary index too
		r.byName[desc.Service] = desc
	}
}

// LookupByPrefix returns the descriptor registered under prefix, if any.
func (r *Registry) LookupByPrefix(prefix string) (ServiceDescriptor, bool) {
	desc, ok := r.byPrefix[normalizePrefix(prefix)]
	return desc, ok
}

// LookupByName returns the first-loaded descriptor for a service name.
func (r *Registry) LookupByName(name string) (ServiceDescriptor, bool) {
	desc, ok := r.byName[name]
	return desc, ok
}

// Match resolves a proxy path (already stripped of the pluggable-UI prefix)
// to a descriptor and the downstream remainder. The first path segment is
// the rest-api-prefix; the remainder always starts with "/".
func (r *Registry) Match(path string) (ServiceDescriptor, string, bool) {
	path = strings.TrimPrefix(path, "/")
	segment, remainder, _ := strings.Cut(path, "/")

	desc, ok := r.byPrefix[segment]
	if !ok {
		return ServiceDescriptor{}, "", false
	}
	return desc, "/" + remainder, true
}

// Descriptors returns the registered descriptors in load order.
func (r *Registry) Descriptors() []ServiceDescriptor {
	out := make([]ServiceDescriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int { return len(r.ordered) }
