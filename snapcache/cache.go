// Package snapcache memoizes expensive cluster-state snapshots, keyed by
// request shape, with single-flight computation and change-token
// invalidation on top of a nominal TTL.
package snapcache

import (
	"context"
	"sync"
	"time"
)

// ComputeFunc builds a fresh value. It returns the value, its nominal TTL,
// and the change token observed at compute time. The token must be read
// before the heavy work begins so a mutation racing the computation makes
// the result stale rather than silently current.
type ComputeFunc[V any] func(ctx context.Context) (value V, ttl time.Duration, token uint64, err error)

// StaleFunc decides whether a cached value computed under tokenAtCompute is
// still usable. It is evaluated against the live change token at read time,
// so a cached value becomes unusable the instant the token advances,
// independent of its TTL.
type StaleFunc[V any] func(value V, tokenAtCompute uint64) bool

// entry is one cache slot. Fields other than ready are written only by the
// computing goroutine before ready is closed, and read-only afterwards.
type entry[V any] struct {
	value     V
	err       error
	token     uint64
	expiresAt time.Time
	ready     chan struct{}
}

// Cache is a thread-safe single-flight snapshot cache.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	stats   *Statistics
	now     func() time.Time // injectable for tests
}

// Option configures a Cache
type Option[V any] func(*Cache[V])

// New creates an empty cache.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		stats:   NewStatistics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the cache statistics.
func (c *Cache[V]) Stats() *Statistics { return c.stats }

// LookupOrCompute returns the cached value for key when one is live
// (unexpired and not stale per isStale), otherwise computes it. At most one
// computation per key runs at a time; callers arriving during an in-flight
// computation wait for and share its result. A compute error propagates to
// every current waiter and leaves no entry behind, so the next caller
// retries fresh.
func (c *Cache[V]) LookupOrCompute(
	ctx context.Context, key string, compute ComputeFunc[V], isStale StaleFunc[V],
) (V, error) {
	var zero V

	for {
		c.mu.Lock()
		e, exists := c.entries[key]

		if !exists {
			// Become the computing goroutine for this key
			e = &entry[V]{ready: make(chan struct{})}
			c.entries[key] = e
			c.mu.Unlock()

			c.stats.Miss()
			return c.runCompute(ctx, key, e, compute)
		}

		if !isClosed(e.ready) {
			// A peer is computing; wait for its result
			c.mu.Unlock()

			select {
			case <-e.ready:
			case <-ctx.Done():
				return zero, ctx.Err()
			}

			c.stats.Shared()
			if e.err != nil {
				return zero, e.err
			}
			return e.value, nil
		}

		// Completed entry: usable only while unexpired and not stale
		if c.now().Before(e.expiresAt) && !isStale(e.value, e.token) {
			c.mu.Unlock()
			c.stats.Hit()
			return e.value, nil
		}

		delete(c.entries, key)
		c.mu.Unlock()
		c.stats.Eviction()
		// Loop: next pass either computes or joins a newer in-flight peer
	}
}

// Invalidate drops the completed entry for key, if any. In-flight
// computations are left to finish; their result will fail the staleness
// check on the next lookup if the token has moved.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && isClosed(e.ready) {
		delete(c.entries, key)
		c.stats.Eviction()
	}
}

// Len returns the number of entries, including in-flight ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) runCompute(ctx context.Context, key string, e *entry[V], compute ComputeFunc[V]) (V, error) {
	var zero V

	value, ttl, token, err := compute(ctx)

	c.mu.Lock()
	if err != nil {
		e.err = err
		// Failed computations are not cached
		delete(c.entries, key)
	} else {
		e.value = value
		e.token = token
		e.expiresAt = c.now().Add(ttl)
	}
	close(e.ready)
	c.mu.Unlock()

	if err != nil {
		return zero, err
	}
	return value, nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
