package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterThenPublishIsObserved(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	defer w.Unregister()

	// Publish after registration but before the wait begins: the signal
	// must be buffered, not lost.
	bus.Publish()

	reason, err := w.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, WakeNotify, reason)
}

func TestPublishWakesSuspendedWatcher(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	defer w.Unregister()

	done := make(chan WakeReason, 1)
	go func() {
		reason, _ := w.Wait(context.Background(), 5*time.Second)
		done <- reason
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Publish()

	select {
	case reason := <-done:
		assert.Equal(t, WakeNotify, reason)
	case <-time.After(time.Second):
		t.Fatal("watcher was not woken by publish")
	}
}

func TestWaitTimeout(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	defer w.Unregister()

	start := time.Now()
	reason, err := w.Wait(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, WakeTimeout, reason)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitCanceled(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	defer w.Unregister()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	reason, err := w.Wait(ctx, 5*time.Second)
	assert.Equal(t, WakeCanceled, reason)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnregisteredWatcherReceivesNothing(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	w.Unregister()

	bus.Publish()

	reason, _ := w.Wait(context.Background(), 30*time.Millisecond)
	assert.Equal(t, WakeTimeout, reason, "publish after unregister must not be delivered")
}

func TestUnregisterIdempotent(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	w.Unregister()
	w.Unregister()
	assert.Equal(t, 0, bus.Watchers())
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	defer w.Unregister()

	// Nobody draining the watcher; repeated publishes must coalesce, not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an idle watcher")
	}
}

func TestDrainCollapsesBurst(t *testing.T) {
	bus := NewBus()
	w := bus.Register()
	defer w.Unregister()

	bus.Publish()
	bus.Publish()
	bus.Publish()
	w.Drain()

	reason, _ := w.Wait(context.Background(), 30*time.Millisecond)
	assert.Equal(t, WakeTimeout, reason, "drain must leave no queued signals")
}

func TestPublishDeliversToAllWatchers(t *testing.T) {
	bus := NewBus()

	const n = 10
	watchers := make([]*Watcher, n)
	for i := range watchers {
		watchers[i] = bus.Register()
	}
	assert.Equal(t, n, bus.Watchers())

	bus.Publish()

	var wg sync.WaitGroup
	woken := make(chan struct{}, n)
	for _, w := range watchers {
		wg.Add(1)
		go func(w *Watcher) {
			defer wg.Done()
			defer w.Unregister()
			if reason, _ := w.Wait(context.Background(), time.Second); reason == WakeNotify {
				woken <- struct{}{}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, n, len(woken))
	assert.Equal(t, 0, bus.Watchers())
}

func TestWatcherGauge(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_watchers", Help: "test"})
	bus := NewBus(WithWatcherGauge(gauge))

	w1 := bus.Register()
	w2 := bus.Register()
	assert.Equal(t, 2, bus.Watchers())

	w1.Unregister()
	w2.Unregister()
	assert.Equal(t, 0, bus.Watchers())
}

func TestConcurrentRegisterUnregisterPublish(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w := bus.Register()
			_, _ = w.Wait(context.Background(), 10*time.Millisecond)
			w.Unregister()
		}()
		go func() {
			defer wg.Done()
			bus.Publish()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, bus.Watchers())
}
