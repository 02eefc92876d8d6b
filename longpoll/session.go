// Package longpoll implements the change-driven streaming protocol: answer
// a state-watching request immediately when the state differs from what the
// client last saw, otherwise hold the connection until a change notification
// or a bounded wait elapses.
package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/sigmod/ns-server/metric"
	"github.com/sigmod/ns-server/notify"
)

const (
	// DefaultMaxWait bounds one suspension cycle; the client's waitChange
	// may only lower it
	DefaultMaxWait = 25 * time.Second

	// DefaultDebounce is how long a woken session waits before
	// recomputing, so a burst of rapid changes collapses into one
	// recomputation
	DefaultDebounce = 200 * time.Millisecond
)

// Snapshot is a computed state payload plus its content hash.
type Snapshot struct {
	Payload []byte
	ETag    string
}

// SnapshotFunc computes the current state snapshot.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// QuickFunc computes the cheap payload used for value-equality comparison
// in continuous streaming mode.
type QuickFunc func(ctx context.Context) (any, error)

// ETag fingerprints a payload. Clients echo it back to ask "only answer if
// this changed".
func ETag(payload []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Session drives long-poll and continuous-stream requests over a shared
// notification bus. One Session serves many connections; per-connection
// state lives on the request goroutine's stack.
type Session struct {
	bus      *notify.Bus
	maxWait  time.Duration
	debounce time.Duration
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// Option configures a Session
type Option func(*Session)

// WithMaxWait overrides the per-cycle suspension bound
func WithMaxWait(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.maxWait = d
		}
	}
}

// WithDebounce overrides the post-wake debounce delay
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires wakeup and snapshot counters into the core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession creates a session driver over the given bus.
func NewSession(bus *notify.Bus, opts ...Option) *Session {
	s := &Session{
		bus:      bus,
		maxWait:  DefaultMaxWait,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve answers one state-watching request. Without a waitChange parameter
// the current snapshot is returned immediately. With one, the session
// registers as a watcher before computing its baseline (so a change racing
// the registration is never missed), then answers as soon as the snapshot's
// ETag differs from the client's, or after the wait elapses, whichever
// first. The connection closes after one full response; the client
// reconnects for the next cycle.
func (s *Session) Serve(w http.ResponseWriter, r *http.Request, snapshot SnapshotFunc) {
	ctx := r.Context()
	query := r.URL.Query()
	clientETag := query.Get("etag")
	waitStr := query.Get("waitChange")

	if waitStr == "" {
		snap, err := snapshot(ctx)
		if err != nil {
			s.fail(w, ctx, err)
			return
		}
		s.writeSnapshot(w, snap)
		return
	}

	waitMS, err := strconv.Atoi(waitStr)
	if err != nil || waitMS < 0 {
		http.Error(w, "invalid waitChange value", http.StatusBadRequest)
		return
	}
	wait := time.Duration(waitMS) * time.Millisecond
	if wait == 0 || wait > s.maxWait {
		wait = s.maxWait
	}

	// Register before the baseline compute: a publish that lands between
	// registration and suspension is held in the watcher's signal slot
	watcher := s.bus.Register()
	defer watcher.Unregister()

	for {
		snap, err := snapshot(ctx)
		if err != nil {
			s.fail(w, ctx, err)
			return
		}

		if snap.ETag != clientETag {
			s.writeSnapshot(w, snap)
			return
		}

		reason, _ := watcher.Wait(ctx, wait)
		s.countWake(reason)

		switch reason {
		case notify.WakeCanceled:
			// Client went away; nothing more to send
			return

		case notify.WakeTimeout:
			watcher.Unregister()
			snap, err := snapshot(ctx)
			if err != nil {
				s.fail(w, ctx, err)
				return
			}
			s.writeSnapshot(w, snap)
			return

		case notify.WakeNotify:
			if !s.sleep(ctx, s.debounce) {
				return
			}
			watcher.Drain()
			// Loop: recompute and compare again
		}
	}
}

// ServeStream answers a persistent chunked stream: a fresh payload is
// pushed whenever the cheap payload differs by value equality from the one
// last sent on this connection. The connection never terminates from the
// server side; only client disconnect ends it.
func (s *Session) ServeStream(w http.ResponseWriter, r *http.Request, quick QuickFunc, full SnapshotFunc) {
	ctx := r.Context()
	flusher, _ := w.(http.Flusher)

	watcher := s.bus.Register()
	defer watcher.Unregister()

	var last any
	first := true

	for {
		q, err := quick(ctx)
		if err != nil {
			if first {
				s.fail(w, ctx, err)
			} else if ctx.Err() == nil {
				s.logger.Warn("stream payload computation failed", "error", err)
			}
			return
		}

		if first || !reflect.DeepEqual(q, last) {
			snap, err := full(ctx)
			if err != nil {
				if first {
					s.fail(w, ctx, err)
				} else if ctx.Err() == nil {
					s.logger.Warn("stream payload computation failed", "error", err)
				}
				return
			}

			if first {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
			}
			if _, err := w.Write(append(snap.Payload, '\n')); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if s.metrics != nil {
				s.metrics.SnapshotsServed.Inc()
			}

			last = q
			first = false
		}

		reason, _ := watcher.Wait(ctx, s.maxWait)
		s.countWake(reason)

		switch reason {
		case notify.WakeCanceled:
			return
		case notify.WakeNotify:
			if !s.sleep(ctx, s.debounce) {
				return
			}
			watcher.Drain()
		case notify.WakeTimeout:
			// Nothing changed; loop and re-verify cheaply
		}
	}
}

// sleep waits d unless ctx is canceled first. Returns false on cancel.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) writeSnapshot(w http.ResponseWriter, snap Snapshot) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", snap.ETag)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.Payload)
	if s.metrics != nil {
		s.metrics.SnapshotsServed.Inc()
	}
}

// fail answers a server error unless the cause is the client disconnecting,
// which is silent cancellation, not an error.
func (s *Session) fail(w http.ResponseWriter, ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Error("snapshot computation failed", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	data, _ := json.Marshal(map[string]any{
		"error":  "unexpected server error",
		"status": http.StatusInternalServerError,
	})
	_, _ = w.Write(data)
}

func (s *Session) countWake(reason notify.WakeReason) {
	if s.metrics != nil {
		s.metrics.PollWakeups.WithLabelValues(reason.String()).Inc()
	}
}
