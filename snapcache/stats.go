package snapcache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Statistics tracks cache effectiveness. Always collected.
type Statistics struct {
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	shared    atomic.Uint64

	// Optional prometheus export
	hitCounter    prometheus.Counter
	missCounter   prometheus.Counter
	evictCounter  prometheus.Counter
	sharedCounter prometheus.Counter
}

// NewStatistics creates zeroed statistics.
func NewStatistics() *Statistics { return &Statistics{} }

// Hit records a lookup served from a live entry
func (s *Statistics) Hit() {
	s.hits.Add(1)
	if s.hitCounter != nil {
		s.hitCounter.Inc()
	}
}

// Miss records a lookup that started a fresh computation
func (s *Statistics) Miss() {
	s.misses.Add(1)
	if s.missCounter != nil {
		s.missCounter.Inc()
	}
}

// Eviction records removal of an expired or stale entry
func (s *Statistics) Eviction() {
	s.evictions.Add(1)
	if s.evictCounter != nil {
		s.evictCounter.Inc()
	}
}

// Shared records a lookup that joined an in-flight peer computation
func (s *Statistics) Shared() {
	s.shared.Add(1)
	if s.sharedCounter != nil {
		s.sharedCounter.Inc()
	}
}

// Hits returns the number of lookups served from live entries.
func (s *Statistics) Hits() uint64 { return s.hits.Load() }

// Misses returns the number of lookups that computed fresh values.
func (s *Statistics) Misses() uint64 { return s.misses.Load() }

// Evictions returns the number of expired or stale entries dropped.
func (s *Statistics) Evictions() uint64 { return s.evictions.Load() }

// SharedResults returns the number of lookups that shared an in-flight
// computation instead of starting their own.
func (s *Statistics) SharedResults() uint64 { return s.shared.Load() }
