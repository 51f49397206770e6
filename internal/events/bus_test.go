package events

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
)

func newTestBus(t *testing.T, cap int) *Bus {
	t.Helper()
	return New(zap.NewNop(), cap)
}

func TestBusCapacityEviction(t *testing.T) {
	b := newTestBus(t, DefaultCapacity)
	for i := 0; i < 600; i++ {
		b.Info(types.EventInfo, "tick", nil)
	}
	if got := b.Len(); got != DefaultCapacity {
		t.Fatalf("Len() = %d, want %d", got, DefaultCapacity)
	}
	latest := b.Latest(1)
	if len(latest) != 1 {
		t.Fatalf("Latest(1) returned %d events", len(latest))
	}
	stats := b.Stats()
	if stats.Total != DefaultCapacity {
		t.Fatalf("Stats().Total = %d, want %d", stats.Total, DefaultCapacity)
	}
	if stats.Dropped != 100 {
		t.Fatalf("Stats().Dropped = %d, want 100", stats.Dropped)
	}
}

func TestBusOrdering(t *testing.T) {
	b := newTestBus(t, 10)
	b.Info(types.EventInfo, "first", nil)
	b.Info(types.EventInfo, "second", nil)
	b.Info(types.EventInfo, "third", nil)

	got := b.Get(0, nil, nil)
	want := []string{"third", "second", "first"}
	if len(got) != len(want) {
		t.Fatalf("Get returned %d events, want %d", len(got), len(want))
	}
	for i, msg := range want {
		if got[i].Message != msg {
			t.Fatalf("Get()[%d].Message = %q, want %q", i, got[i].Message, msg)
		}
	}
}

func TestBusFilterByType(t *testing.T) {
	b := newTestBus(t, 10)
	b.Info(types.EventOrderCreated, "order", nil)
	b.Warning(types.EventWarning, "warn", nil)

	want := types.EventOrderCreated
	got := b.Get(0, &want, nil)
	if len(got) != 1 || got[0].Type != types.EventOrderCreated {
		t.Fatalf("Get with type filter = %+v", got)
	}
}

func TestBusListenerPanicDoesNotBlockEmit(t *testing.T) {
	b := newTestBus(t, 10)
	calls := 0
	b.Subscribe(func(types.Event) {
		calls++
		panic("boom")
	})
	b.Info(types.EventInfo, "one", nil)
	b.Info(types.EventInfo, "two", nil)
	if calls != 2 {
		t.Fatalf("listener invoked %d times, want 2", calls)
	}
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
}

func TestBusUnsubscribeStopsFutureNotifications(t *testing.T) {
	b := newTestBus(t, 10)
	calls := 0
	id := b.Subscribe(func(types.Event) { calls++ })
	b.Info(types.EventInfo, "one", nil)

	b.Unsubscribe(id)
	b.Info(types.EventInfo, "two", nil)

	if calls != 1 {
		t.Fatalf("listener invoked %d times after Unsubscribe, want 1", calls)
	}
	// idempotent: a second Unsubscribe of the same id must not panic.
	b.Unsubscribe(id)
}

func TestBusSubscribeIDsNeverReused(t *testing.T) {
	b := newTestBus(t, 10)
	first := b.Subscribe(func(types.Event) {})
	b.Unsubscribe(first)
	second := b.Subscribe(func(types.Event) {})
	if second == first {
		t.Fatalf("Subscribe() reused id %d after Unsubscribe", first)
	}
}

// TestBusConcurrentSubscribeUnsubscribeDuringEmit reproduces the shape of a
// websocket client connecting/disconnecting while the agent goroutine keeps
// emitting: Emit must dispatch from a snapshot, never the live listener map,
// or this races under -race (and can fatal with "concurrent map iteration
// and map write" in production).
func TestBusConcurrentSubscribeUnsubscribeDuringEmit(t *testing.T) {
	b := newTestBus(t, 100)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			b.Info(types.EventInfo, "tick", nil)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := b.Subscribe(func(types.Event) {})
			b.Unsubscribe(id)
		}
	}()

	wg.Wait()
}

func TestBusClear(t *testing.T) {
	b := newTestBus(t, 10)
	b.Info(types.EventInfo, "x", nil)
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", b.Len())
	}
}
