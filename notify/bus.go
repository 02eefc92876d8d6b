// Package notify implements the process-wide notification bus that wakes
// long-poll connections when watched configuration changes.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WakeReason describes why a Wait returned.
type WakeReason int

// Wait outcomes
const (
	// WakeNotify means a change notification arrived
	WakeNotify WakeReason = iota
	// WakeTimeout means the maximum wait elapsed without a notification
	WakeTimeout
	// WakeCanceled means the caller's context was canceled
	WakeCanceled
)

// String returns the reason label used in logs and metrics
func (r WakeReason) String() string {
	switch r {
	case WakeNotify:
		return "notify"
	case WakeTimeout:
		return "timeout"
	case WakeCanceled:
		return "cancel"
	default:
		return "unknown"
	}
}

// Bus broadcasts payload-free "something changed" signals to all registered
// watchers. Publish never blocks: each watcher holds a one-slot signal
// channel, so a signal pending delivery coalesces with later ones. That is
// sound because signals carry no payload; at-least-once delivery holds.
type Bus struct {
	mu       sync.Mutex
	watchers map[uint64]chan struct{}
	nextID   uint64

	gauge prometheus.Gauge // optional active-watcher gauge
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithWatcherGauge exports the live watcher count through the given gauge
func WithWatcherGauge(g prometheus.Gauge) BusOption {
	return func(b *Bus) { b.gauge = g }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{watchers: make(map[uint64]chan struct{})}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a watcher and returns its handle. A watcher registered
// before a Publish call is guaranteed to observe that publish: registration
// completes under the bus lock before Publish snapshots the watcher set.
func (b *Bus) Register() *Watcher {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan struct{}, 1)
	b.watchers[id] = ch
	if b.gauge != nil {
		b.gauge.Set(float64(len(b.watchers)))
	}

	return &Watcher{id: id, ch: ch, bus: b}
}

// Publish signals every currently registered watcher. Callable from any
// goroutine that mutates watched configuration; it never blocks on delivery.
func (b *Bus) Publish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.watchers {
		select {
		case ch <- struct{}{}:
		default:
			// A signal is already pending for this watcher
		}
	}
}

// Watchers returns the number of currently registered watchers.
func (b *Bus) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

func (b *Bus) unregister(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.watchers, id)
	if b.gauge != nil {
		b.gauge.Set(float64(len(b.watchers)))
	}
}

// Watcher is one connection's subscription to the bus. It is owned
// exclusively by the connection's goroutine; the bus keeps only the signal
// channel, never lifecycle control.
type Watcher struct {
	id   uint64
	ch   chan struct{}
	bus  *Bus
	once sync.Once
}

// Unregister removes the watcher from the bus. Idempotent. After it
// returns, no further notifications are delivered to this watcher.
func (w *Watcher) Unregister() {
	w.once.Do(func() {
		w.bus.unregister(w.id)
	})
}

// Wait blocks until a notification arrives, the wait elapses, or ctx is
// canceled, whichever comes first. On cancellation it returns WakeCanceled
// together with the context error.
func (w *Watcher) Wait(ctx context.Context, d time.Duration) (WakeReason, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.ch:
		return WakeNotify, nil
	case <-timer.C:
		return WakeTimeout, nil
	case <-ctx.Done():
		return WakeCanceled, ctx.Err()
	}
}

// Drain discards any queued notification without blocking. Used after the
// debounce delay so a burst of rapid changes collapses into a single
// recomputation.
func (w *Watcher) Drain() {
	for {
		select {
		case <-w.ch:
		default:
			return
		}
	}
}
