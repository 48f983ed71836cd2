package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func newTestWatcher(events chan Event) *Watcher {
	return NewWatcher(Config{
		Service:        "_kef-info._tcp",
		BrowseInterval: 20 * time.Millisecond,
		GracePeriod:    50 * time.Millisecond,
		Events:         events,
	})
}

func speakerEntry(instance, addr string) Entry {
	return Entry{
		Instance: instance,
		Addrs:    []net.IP{net.ParseIP(addr)},
		Port:     80,
		Text:     []string{"name=Living Room", "modelName=LS50 Wireless II"},
	}
}

func drainEvents(events <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestObserveReportsNewSpeaker(t *testing.T) {
	events := make(chan Event, 16)
	w := newTestWatcher(events)

	w.observe(speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40"), time.Now())

	got := drainEvents(events)
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Type != EventFound {
		t.Errorf("event type = %s, want found", ev.Type)
	}
	want := Announcement{
		Identity: "KEF-LS50W2-ABC123",
		Name:     "Living Room",
		Model:    "LS50 Wireless II",
		Address:  "192.168.1.40",
		Port:     80,
	}
	if ev.Announcement != want {
		t.Errorf("announcement = %+v, want %+v", ev.Announcement, want)
	}
}

func TestObserveDeduplicatesUnchangedAnnouncements(t *testing.T) {
	events := make(chan Event, 16)
	w := newTestWatcher(events)
	now := time.Now()

	for i := 0; i < 3; i++ {
		w.observe(speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40"), now.Add(time.Duration(i)*time.Second))
	}

	if got := drainEvents(events); len(got) != 1 {
		t.Fatalf("got %d events for repeated identical announcements, want 1", len(got))
	}
}

func TestObserveReportsAddressChange(t *testing.T) {
	events := make(chan Event, 16)
	w := newTestWatcher(events)
	now := time.Now()

	w.observe(speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40"), now)
	w.observe(speakerEntry("KEF-LS50W2-ABC123", "192.168.1.77"), now.Add(time.Second))

	got := drainEvents(events)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[1].Type != EventFound || got[1].Announcement.Address != "192.168.1.77" {
		t.Errorf("address change event = %+v, want found at 192.168.1.77", got[1])
	}
}

func TestObserveIgnoresAddressReordering(t *testing.T) {
	events := make(chan Event, 16)
	w := newTestWatcher(events)
	now := time.Now()

	first := speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40")
	first.Addrs = []net.IP{net.ParseIP("192.168.1.40"), net.ParseIP("192.168.1.41")}
	second := speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40")
	second.Addrs = []net.IP{net.ParseIP("192.168.1.41"), net.ParseIP("192.168.1.40")}

	w.observe(first, now)
	w.observe(second, now.Add(time.Second))

	if got := drainEvents(events); len(got) != 1 {
		t.Fatalf("got %d events, want 1 (address list order must not matter)", len(got))
	}
}

func TestObserveSkipsEntriesWithoutAddress(t *testing.T) {
	events := make(chan Event, 16)
	w := newTestWatcher(events)

	w.observe(Entry{Instance: "KEF-LS50W2-ABC123", Port: 80}, time.Now())

	if got := drainEvents(events); len(got) != 0 {
		t.Fatalf("got %d events for an unresolvable entry, want 0", len(got))
	}
}

func TestSweepHonoursGracePeriod(t *testing.T) {
	events := make(chan Event, 16)
	w := newTestWatcher(events) // grace period 50ms
	start := time.Now()

	w.observe(speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40"), start)
	drainEvents(events)

	// Silence shorter than the grace period is tolerated.
	w.sweep(start.Add(40 * time.Millisecond))
	if got := drainEvents(events); len(got) != 0 {
		t.Fatalf("speaker reported lost inside the grace period: %+v", got)
	}

	// Past the grace period it is gone.
	w.sweep(start.Add(60 * time.Millisecond))
	got := drainEvents(events)
	if len(got) != 1 || got[0].Type != EventLost {
		t.Fatalf("got %+v, want one lost event", got)
	}
	if got[0].Announcement.Identity != "KEF-LS50W2-ABC123" {
		t.Errorf("lost identity = %q", got[0].Announcement.Identity)
	}

	// Reappearance after loss is a fresh announcement, not an error.
	w.observe(speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40"), start.Add(70*time.Millisecond))
	got = drainEvents(events)
	if len(got) != 1 || got[0].Type != EventFound {
		t.Fatalf("got %+v, want one found event after reappearance", got)
	}
}

// scriptedBrowser emits a fixed entry on every browse window.
type scriptedBrowser struct {
	entry Entry
	err   error
}

func (b scriptedBrowser) Browse(ctx context.Context, _, _ string, entries chan<- Entry) error {
	if b.err != nil {
		return b.err
	}
	select {
	case entries <- b.entry:
	case <-ctx.Done():
	}
	return nil
}

func TestWatcherLifecycle(t *testing.T) {
	events := make(chan Event, 16)
	w := NewWatcher(Config{
		Service:        "_kef-info._tcp",
		BrowseInterval: 10 * time.Millisecond,
		GracePeriod:    time.Minute,
		Events:         events,
		Browser:        scriptedBrowser{entry: speakerEntry("KEF-LS50W2-ABC123", "192.168.1.40")},
	})

	w.Start(context.Background())

	select {
	case ev := <-events:
		if ev.Type != EventFound {
			t.Errorf("event type = %s, want found", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no found event from a browsing watcher")
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop() // safe to call twice
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWatcherSurvivesBrowserErrors(t *testing.T) {
	events := make(chan Event, 16)
	w := NewWatcher(Config{
		Service:        "_kef-info._tcp",
		BrowseInterval: 5 * time.Millisecond,
		GracePeriod:    time.Minute,
		Events:         events,
		Browser:        scriptedBrowser{err: errors.New("no multicast route")},
	})

	w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	// Reaching here without panic or hang is the assertion.
}

func TestConfigDefaults(t *testing.T) {
	w := NewWatcher(Config{Service: "_kef-info._tcp"})

	if w.domain != "local." {
		t.Errorf("domain = %q, want local.", w.domain)
	}
	if w.browseInterval != 15*time.Second {
		t.Errorf("browse interval = %s, want 15s", w.browseInterval)
	}
	if w.gracePeriod != 45*time.Second {
		t.Errorf("grace period = %s, want 45s (three intervals)", w.gracePeriod)
	}
}
