// Package metric provides Prometheus-based metrics collection for the
// gateway.
//
// A MetricsRegistry owns a private Prometheus registry pre-populated with
// core gateway metrics (request counters, proxy relay counters, long-poll
// watcher gauges, NATS connectivity) plus the Go runtime collectors.
// Components may register additional metrics through the MetricsRegistrar
// interface; duplicate registrations are rejected with a classified error.
//
// The registry exposes its metrics through Handler(), which the gateway
// mounts at /metrics on its own mux.
package metric
