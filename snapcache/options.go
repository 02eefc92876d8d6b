package snapcache

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sigmod/ns-server/metric"
)

// WithMetrics additionally exposes cache statistics as prometheus counters
// registered under the given component name. Registration failures are
// surfaced through the registrar; a nil registrar is ignored.
func WithMetrics[V any](registrar metric.MetricsRegistrar, component string) Option[V] {
	return func(c *Cache[V]) {
		if registrar == nil || component == "" {
			return
		}

		mk := func(name, help string) prometheus.Counter {
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "snapcache",
				Name:      fmt.Sprintf("%s_%s", component, name),
				Help:      help,
			})
			if err := registrar.RegisterCounter(component, name, counter); err != nil {
				return nil
			}
			return counter
		}

		c.stats.hitCounter = mk("hits_total", "Cache lookups served from live entries")
		c.stats.missCounter = mk("misses_total", "Cache lookups that computed fresh values")
		c.stats.evictCounter = mk("evictions_total", "Expired or stale entries dropped")
		c.stats.sharedCounter = mk("shared_total", "Lookups that shared an in-flight computation")
	}
}
