package bus

import (
	"testing"
	"time"
)

func TestEventBus_PublishToSubscriber(t *testing.T) {
	b := NewEventBus()
	defer b.Close()

	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish("s1", Event{Type: EventProgress, Content: "working"})

	select {
	case event := <-ch:
		if event.Type != EventProgress || event.Content != "working" {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_SessionIsolation(t *testing.T) {
	b := NewEventBus()
	defer b.Close()

	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish("s2", Event{Type: EventProgress, Content: "elsewhere"})

	select {
	case event := <-ch:
		t.Fatalf("received event for another session: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_CancelClosesChannel(t *testing.T) {
	b := NewEventBus()
	defer b.Close()

	ch, cancel := b.Subscribe("s1")
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic.
	b.Publish("s1", Event{Type: EventProgress, Content: "late"})
	cancel() // idempotent
}

func TestEventBus_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewEventBus()
	defer b.Close()

	_, cancel := b.Subscribe("s1")
	defer cancel()

	// Nobody reads: fill the buffer and one more to force a drop.
	for i := 0; i < 33; i++ {
		b.Publish("s1", Event{Type: EventProgress, Content: "spam"})
	}

	if b.Dropped() == 0 {
		t.Error("expected at least one dropped event")
	}
}

func TestEventBus_CloseStopsDelivery(t *testing.T) {
	b := NewEventBus()
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Close()

	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed on bus close")
	}
	b.Publish("s1", Event{Type: EventProgress, Content: "after close"})

	chLate, cancelLate := b.Subscribe("s1")
	defer cancelLate()
	if _, ok := <-chLate; ok {
		t.Error("subscriptions after close should come back closed")
	}
}
