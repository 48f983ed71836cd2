package speaker

import "sync"

// subscriptionBuffer is the delivery channel capacity per subscription.
// Overflow spills into the unbounded queue, never onto the floor.
const subscriptionBuffer = 16

// Bus fans registry events out to any number of subscribers without
// losing events. Each subscriber gets its own ordered queue; a slow
// subscriber delays only itself.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber. It receives every event
// published after this call; there is no replay of earlier events.
// Callers must Close the subscription when done.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		out:    make(chan Event, subscriptionBuffer),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		bus:    b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.Close()
		close(s.out) // no pump was started for this subscription
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

// Publish delivers an event to every live subscription in order.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// Close shuts the bus down and closes every subscription. Subscribers
// still drain events already queued for them.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// remove detaches a subscription, usually because it closed itself.
func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one subscriber's ordered, lossless event feed.
type Subscription struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	out    chan Event
	notify chan struct{}
	done   chan struct{}

	closeOnce sync.Once
	bus       *Bus
}

// Events returns the receive channel. It is closed after Close once all
// queued events have been delivered or abandoned.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close ends the subscription. Events not yet received are discarded.
// Safe to call multiple times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		if s.bus != nil {
			s.bus.remove(s)
		}
	})
}

// enqueue appends an event and wakes the pump.
func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves events from the queue to the delivery channel, preserving
// order. It exits when the subscription closes.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
