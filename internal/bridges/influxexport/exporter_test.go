package influxexport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// fakeWriter records writes for assertions.
type fakeWriter struct {
	mu           sync.Mutex
	states       []string
	connectivity []string
}

func (f *fakeWriter) WriteSpeakerState(identity string, state kef.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, identity)
}

func (f *fakeWriter) WriteConnectivity(identity string, connectivity kef.Connectivity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectivity = append(f.connectivity, identity+":"+string(connectivity))
}

func (f *fakeWriter) counts() (states, connectivity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states), len(f.connectivity)
}

type fakeRegistry struct {
	bus *speaker.Bus
}

func (f *fakeRegistry) Subscribe() *speaker.Subscription {
	return f.bus.Subscribe()
}

func startTestExporter(t *testing.T) (*fakeWriter, *fakeRegistry) {
	t.Helper()

	writer := &fakeWriter{}
	registry := &fakeRegistry{bus: speaker.NewBus()}

	exp := New(Config{}, writer, registry)
	exp.Start(context.Background())
	t.Cleanup(func() {
		exp.Stop()
		registry.bus.Close()
	})

	return writer, registry
}

// waitFor polls until check passes or the deadline expires.
func waitFor(t *testing.T, check func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestExporterWritesStateChanges(t *testing.T) {
	writer, registry := startTestExporter(t)

	state := kef.State{Power: kef.PowerOn, Source: kef.SourceWifi, Volume: 30, Muted: false}
	registry.bus.Publish(speaker.Event{
		Kind: speaker.EventStateChanged,
		Speaker: speaker.Speaker{
			Identity:     "kef-1",
			State:        &state,
			Connectivity: kef.ConnectivityConnected,
		},
	})

	waitFor(t, func() bool {
		states, _ := writer.counts()
		return states == 1
	})
}

func TestExporterWritesConnectivityChanges(t *testing.T) {
	writer, registry := startTestExporter(t)

	registry.bus.Publish(speaker.Event{
		Kind: speaker.EventConnectivityChanged,
		Speaker: speaker.Speaker{
			Identity:     "kef-1",
			Connectivity: kef.ConnectivityUnreachable,
		},
	})

	waitFor(t, func() bool {
		_, connectivity := writer.counts()
		return connectivity == 1
	})

	writer.mu.Lock()
	got := writer.connectivity[0]
	writer.mu.Unlock()
	if got != "kef-1:unreachable" {
		t.Errorf("connectivity write = %q, want kef-1:unreachable", got)
	}
}

func TestExporterWritesInitialSnapshotOnAdd(t *testing.T) {
	writer, registry := startTestExporter(t)

	state := kef.State{Power: kef.PowerOn, Source: kef.SourceOptical, Volume: 25, Muted: false}
	registry.bus.Publish(speaker.Event{
		Kind: speaker.EventSpeakerAdded,
		Speaker: speaker.Speaker{
			Identity:     "kef-1",
			State:        &state,
			Connectivity: kef.ConnectivityConnected,
		},
	})

	waitFor(t, func() bool {
		states, connectivity := writer.counts()
		return states == 1 && connectivity == 1
	})
}

func TestExporterSkipsRemoval(t *testing.T) {
	writer, registry := startTestExporter(t)

	state := kef.State{Power: kef.PowerOn, Source: kef.SourceWifi, Volume: 30, Muted: false}
	registry.bus.Publish(speaker.Event{
		Kind: speaker.EventSpeakerRemoved,
		Speaker: speaker.Speaker{
			Identity:     "kef-1",
			State:        &state,
			Connectivity: kef.ConnectivityUnknown,
		},
	})
	registry.bus.Publish(speaker.Event{
		Kind: speaker.EventStateChanged,
		Speaker: speaker.Speaker{
			Identity:     "kef-1",
			State:        &state,
			Connectivity: kef.ConnectivityConnected,
		},
	})

	waitFor(t, func() bool {
		states, _ := writer.counts()
		return states == 1
	})

	_, connectivity := writer.counts()
	if connectivity != 0 {
		t.Errorf("connectivity writes = %d, want 0 (removal must not export)", connectivity)
	}
}

func TestExporterStopIsIdempotent(t *testing.T) {
	writer := &fakeWriter{}
	registry := &fakeRegistry{bus: speaker.NewBus()}
	defer registry.bus.Close()

	exp := New(Config{}, writer, registry)
	exp.Start(context.Background())

	done := make(chan struct{})
	go func() {
		exp.Stop()
		exp.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
