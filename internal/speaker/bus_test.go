package speaker

import (
	"fmt"
	"testing"
	"time"
)

func stateEvent(identity string, volume int) Event {
	return Event{Kind: EventStateChanged, Speaker: Speaker{Identity: identity, Port: volume}}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(stateEvent("a", i))
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Speaker.Port != i {
				t.Fatalf("event %d carries sequence %d; order broken", i, ev.Speaker.Port)
			}
		case <-time.After(time.Second):
			t.Fatalf("stalled waiting for event %d of %d", i, n)
		}
	}
}

func TestBusSlowSubscriberLosesNothing(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	// Publish far beyond the delivery channel capacity before reading
	// anything. A lossy bus would drop; this one queues.
	const n = subscriptionBuffer * 20
	for i := 0; i < n; i++ {
		bus.Publish(stateEvent("a", i))
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.Events():
			if ev.Speaker.Port != i {
				t.Fatalf("sequence %d arrived at position %d", ev.Speaker.Port, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("lost events: received %d of %d", i, n)
		}
	}
}

func TestBusNoReplayBeforeSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Publish(stateEvent("early", 0))

	sub := bus.Subscribe()
	defer sub.Close()

	bus.Publish(stateEvent("late", 1))

	select {
	case ev := <-sub.Events():
		if ev.Speaker.Identity != "late" {
			t.Errorf("received pre-subscription event %q", ev.Speaker.Identity)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusIndependentSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe()
	defer slow.Close()
	fast := bus.Subscribe()
	defer fast.Close()

	const n = subscriptionBuffer * 4
	for i := 0; i < n; i++ {
		bus.Publish(stateEvent("a", i))
	}

	// The fast subscriber drains fully while the slow one reads nothing.
	for i := 0; i < n; i++ {
		select {
		case <-fast.Events():
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber stalled at %d; a slow sibling must not block it", i)
		}
	}
}

func TestBusClosedSubscriptionStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // safe to call twice

	bus.Publish(stateEvent("a", 1))

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return // channel closed, as expected
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}

func TestBusSubscribeAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	sub := bus.Subscribe()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("received an event from a closed bus")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription on a closed bus never closed its channel")
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Close()

	const publishers, each = 8, 50
	for p := 0; p < publishers; p++ {
		go func(p int) {
			for i := 0; i < each; i++ {
				bus.Publish(stateEvent(fmt.Sprintf("pub-%d", p), i))
			}
		}(p)
	}

	for i := 0; i < publishers*each; i++ {
		select {
		case <-sub.Events():
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", i, publishers*each)
		}
	}
}
