package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all gateway-level metrics (not handler-specific)
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestsFailed  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Proxy relay metrics
	ProxyForwards     *prometheus.CounterVec
	ProxyBytesRelayed prometheus.Counter

	// Long-poll metrics
	WatchersActive  prometheus.Gauge
	PollWakeups     *prometheus.CounterVec
	SnapshotsServed prometheus.Counter

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"handler", "code"},
		),

		RequestsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "http",
				Name:      "requests_failed_total",
				Help:      "Total number of HTTP requests answered with an error status",
			},
			[]string{"handler", "code"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nsgateway",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request handling duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),

		ProxyForwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "proxy",
				Name:      "forwards_total",
				Help:      "Total number of proxied requests by target service and outcome",
			},
			[]string{"service", "outcome"},
		),

		ProxyBytesRelayed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "proxy",
				Name:      "bytes_relayed_total",
				Help:      "Total response body bytes relayed from backends to callers",
			},
		),

		WatchersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nsgateway",
				Subsystem: "longpoll",
				Name:      "watchers_active",
				Help:      "Number of currently registered change watchers",
			},
		),

		PollWakeups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "longpoll",
				Name:      "wakeups_total",
				Help:      "Long-poll wakeups by reason (notify, timeout, cancel)",
			},
			[]string{"reason"},
		),

		SnapshotsServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "longpoll",
				Name:      "snapshots_served_total",
				Help:      "Total number of snapshot payloads written to long-poll clients",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nsgateway",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nsgateway",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// collectors returns every core metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestsTotal,
		m.RequestsFailed,
		m.RequestDuration,
		m.ProxyForwards,
		m.ProxyBytesRelayed,
		m.WatchersActive,
		m.PollWakeups,
		m.SnapshotsServed,
		m.NATSConnected,
		m.NATSReconnects,
	}
}
