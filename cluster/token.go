package cluster

import "sync/atomic"

// TokenSource exposes the current configuration generation. The core only
// reads it; mutation belongs to the component that owns configuration
// changes.
type TokenSource interface {
	Current() uint64
}

// ConfigRevision is the monotonically advancing change token. Any mutation
// to watched configuration advances it exactly once. Hooks registered with
// OnAdvance fire after the token has moved, which is how the notification
// bus learns about changes.
type ConfigRevision struct {
	value uint64
	hooks []func()
}

// NewConfigRevision starts the token at 1 so a zero token can mean
// "never computed" for cache entries.
func NewConfigRevision() *ConfigRevision {
	return &ConfigRevision{value: 1}
}

// Current returns the current token value.
func (r *ConfigRevision) Current() uint64 {
	return atomic.LoadUint64(&r.value)
}

// Advance moves the token forward and fires the registered hooks. Called by
// the configuration owner whenever watched configuration mutates, and by the
// change bridge when a remote node announces a mutation.
func (r *ConfigRevision) Advance() uint64 {
	v := atomic.AddUint64(&r.value, 1)
	for _, hook := range r.hooks {
		hook()
	}
	return v
}

// OnAdvance registers a hook fired after every Advance. Registration is not
// synchronized and must finish before the revision is shared, i.e. during
// process wiring.
func (r *ConfigRevision) OnAdvance(hook func()) {
	r.hooks = append(r.hooks, hook)
}
