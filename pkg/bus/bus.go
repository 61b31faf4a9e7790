package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType tags entries on the progress stream.
type EventType string

const (
	EventProgress EventType = "progress"
	EventError    EventType = "error"
	EventResponse EventType = "response"
	EventComplete EventType = "complete"
)

// Event is one progress-stream entry for a session. Delivery is best-effort;
// consumers must not assume any particular count of progress events before
// the response.
type Event struct {
	Type    EventType              `json:"type"`
	Content string                 `json:"content"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// EventBus fans session-scoped events out to subscribers. Publishing never
// blocks a turn for long: a full subscriber channel gets a short grace
// period, then the event is dropped and counted.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string]map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Uint64
}

const publishTimeout = 100 * time.Millisecond

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers an event to every subscriber of the session.
func (b *EventBus) Publish(sessionID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs[sessionID] {
		select {
		case ch <- event:
		default:
			timer := time.NewTimer(publishTimeout)
			select {
			case ch <- event:
			case <-timer.C:
				b.dropped.Add(1)
			}
			timer.Stop()
		}
	}
}

// Subscribe registers a consumer for one session's events. The returned
// cancel func must be called to release the subscription.
func (b *EventBus) Subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 32)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[sessionID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[sessionID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

// Close tears the bus down and closes all subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[string]map[int]chan Event)
}

// Dropped reports how many events were discarded due to slow subscribers.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
