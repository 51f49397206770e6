// Package events implements the bounded, in-memory event bus (component E):
// a single FIFO ring of typed Events, fed synchronously by the agent and
// paper trader, and read by the HTTP surface through polling queries.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
	"github.com/hhlabs/trading-agent/pkg/utils"
)

// DefaultCapacity is the ring's default size (§4.E).
const DefaultCapacity = 500

// Listener is notified synchronously, in emission order, of every emitted
// event. The notification itself happens after the ring mutex is released,
// so a slow listener delays only the emitting call's return, never another
// emitter waiting on the lock. Listeners MUST NOT perform I/O or block for
// long: Emit still blocks on each listener in turn before returning.
type Listener func(types.Event)

// Stats is the counts-by-type/severity projection returned by Stats().
type Stats struct {
	Total      int                      `json:"total"`
	ByType     map[types.EventType]int  `json:"byType"`
	BySeverity map[types.Severity]int   `json:"bySeverity"`
	Dropped    uint64                   `json:"dropped"`
}

// Bus is a bounded FIFO ring of Events. Only one writer is expected (the
// agent task); reads may come from any number of goroutines concurrently.
// Grounded on the teacher's internal/events/event_bus.go for its zap-logged
// lifecycle and atomic counters; its channel-plus-worker-pool transport is
// replaced here with a mutex-guarded ring and in-line synchronous dispatch,
// since the spec needs bounded capacity with FIFO eviction and polling
// reads, not unbounded async fan-out.
type Bus struct {
	mu         sync.Mutex
	logger     *zap.Logger
	cap        int
	ring       []types.Event
	listeners  map[int]Listener
	nextListen int
	dropped    uint64 // count of evicted-while-full events, informational only
	emitted    uint64
}

// New constructs a Bus with the given capacity. capacity <= 0 uses
// DefaultCapacity.
func New(logger *zap.Logger, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		logger:    logger.Named("event_bus"),
		cap:       capacity,
		ring:      make([]types.Event, 0, capacity),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener invoked for every future emission. Returns
// an id usable with Unsubscribe; ids are never reused, so a stale id from a
// disconnected client (e.g. a closed websocket stream) can't accidentally
// unsubscribe a newer listener.
func (b *Bus) Subscribe(l Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextListen
	b.nextListen++
	b.listeners[id] = l
	return id
}

// Unsubscribe removes a listener previously registered with Subscribe. Safe
// to call more than once or with an unknown id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
}

// Emit appends a new Event and notifies listeners synchronously. data may be
// nil. severity defaults to SeverityInfo if the zero value is passed.
func (b *Bus) Emit(typ types.EventType, severity types.Severity, message string, data map[string]any) types.Event {
	if severity == "" {
		severity = types.SeverityInfo
	}
	ev := types.Event{
		ID:        utils.GenerateEventID(),
		Type:      typ,
		Timestamp: time.Now(),
		Severity:  severity,
		Message:   message,
		Data:      data,
	}

	b.mu.Lock()
	if len(b.ring) >= b.cap {
		copy(b.ring, b.ring[1:])
		b.ring = b.ring[:len(b.ring)-1]
		b.dropped++
	}
	b.ring = append(b.ring, ev)
	b.emitted++
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event listener panicked", zap.Any("recover", r), zap.String("event_id", ev.ID))
				}
			}()
			l(ev)
		}()
	}

	b.logger.Debug("event emitted", zap.String("type", string(typ)), zap.String("id", ev.ID))
	return ev
}

// Info is a convenience wrapper for Emit with SeverityInfo.
func (b *Bus) Info(typ types.EventType, message string, data map[string]any) types.Event {
	return b.Emit(typ, types.SeverityInfo, message, data)
}

// Warning is a convenience wrapper for Emit with SeverityWarning.
func (b *Bus) Warning(typ types.EventType, message string, data map[string]any) types.Event {
	return b.Emit(typ, types.SeverityWarning, message, data)
}

// Error is a convenience wrapper for Emit with SeverityError.
func (b *Bus) Error(typ types.EventType, message string, data map[string]any) types.Event {
	return b.Emit(typ, types.SeverityError, message, data)
}

// Success is a convenience wrapper for Emit with SeveritySuccess.
func (b *Bus) Success(typ types.EventType, message string, data map[string]any) types.Event {
	return b.Emit(typ, types.SeveritySuccess, message, data)
}

// Get returns up to limit events, most-recent-first, optionally filtered by
// type and/or a since timestamp (exclusive). limit <= 0 means no limit.
func (b *Bus) Get(limit int, typ *types.EventType, since *time.Time) []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Event, 0, len(b.ring))
	for i := len(b.ring) - 1; i >= 0; i-- {
		ev := b.ring[i]
		if typ != nil && ev.Type != *typ {
			continue
		}
		if since != nil && !ev.Timestamp.After(*since) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Latest returns the most recent n events, most-recent-first.
func (b *Bus) Latest(n int) []types.Event {
	return b.Get(n, nil, nil)
}

// Stats returns counts by type and severity over the current ring contents.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Total:      len(b.ring),
		ByType:     make(map[types.EventType]int),
		BySeverity: make(map[types.Severity]int),
		Dropped:    b.dropped,
	}
	for _, ev := range b.ring {
		s.ByType[ev.Type]++
		s.BySeverity[ev.Severity]++
	}
	return s
}

// Clear empties the ring. Listeners are left registered.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = b.ring[:0]
}

// Len returns the current number of events held (never exceeds capacity).
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}
