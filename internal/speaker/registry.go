package speaker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/kefd/internal/discovery"
	"github.com/nerrad567/kefd/internal/kef"
)

// eventBuffer sizes the registry's inbound channels. Producers block
// briefly rather than drop when the run loop falls behind.
const eventBuffer = 32

// Controller is the per-device session surface the registry drives. It
// is satisfied by *kef.Session and by fakes in tests.
type Controller interface {
	Start(ctx context.Context)
	Stop()
	SetTarget(address string, port int)
	SendCommand(ctx context.Context, cmd kef.Command) error
	State() (kef.State, bool)
	Connectivity() kef.Connectivity
}

// ControllerFactory builds the session for a newly discovered speaker.
// The session must publish its events to the given channel.
type ControllerFactory func(identity string, events chan<- kef.SessionEvent) Controller

// Logger defines the logging interface for the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RegistryConfig holds settings for the registry.
type RegistryConfig struct {
	// Factory builds sessions for discovered speakers. Required.
	Factory ControllerFactory

	// Logger is optional.
	Logger Logger

	// Clock is optional and exists for tests.
	Clock func() time.Time
}

// entry is the registry's mutable record for one speaker. Touched only
// by the run loop goroutine.
type entry struct {
	identity     string
	name         string
	model        string
	address      string
	port         int
	state        *kef.State
	connectivity kef.Connectivity
	firstSeen    time.Time
	lastSeen     time.Time
	controller   Controller
}

// snapshot copies the entry into a caller-safe Speaker value.
func (e *entry) snapshot() Speaker {
	var st *kef.State
	if e.state != nil {
		clone := *e.state
		st = &clone
	}
	return Speaker{
		Identity:     e.identity,
		Name:         e.name,
		Model:        e.model,
		Address:      e.address,
		Port:         e.port,
		State:        st,
		Connectivity: e.connectivity,
		FirstSeen:    e.firstSeen,
		LastSeen:     e.lastSeen,
	}
}

// Registry maps device identities to live sessions and is the single
// source of truth for speaker state. Exactly one session exists per
// identity at any time.
type Registry struct {
	factory ControllerFactory
	logger  Logger
	clock   func() time.Time

	entries map[string]*entry
	bus     *Bus

	discoveryCh chan discovery.Event
	sessionCh   chan kef.SessionEvent
	requests    chan func()

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRegistry creates a registry. Call Start before use.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Registry{
		factory:     cfg.Factory,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		entries:     make(map[string]*entry),
		bus:         NewBus(),
		discoveryCh: make(chan discovery.Event, eventBuffer),
		sessionCh:   make(chan kef.SessionEvent, eventBuffer),
		requests:    make(chan func()),
	}
}

// Start launches the run loop. Call Stop to tear the registry down.
func (r *Registry) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
}

// Stop retires every session and waits for the run loop to exit. Safe to
// call multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

// DiscoverySink returns the channel discovery events must be sent to.
// Wire it into the discovery watcher's Events config field.
func (r *Registry) DiscoverySink() chan<- discovery.Event {
	return r.discoveryCh
}

// Subscribe returns a lossless feed of registry events published after
// this call. The caller must Close the subscription.
func (r *Registry) Subscribe() *Subscription {
	return r.bus.Subscribe()
}

// ListSpeakers returns a snapshot of every known speaker, sorted by
// identity for a stable presentation order.
func (r *Registry) ListSpeakers() []Speaker {
	var out []Speaker
	err := r.do(func() {
		out = make([]Speaker, 0, len(r.entries))
		for _, e := range r.entries {
			out = append(out, e.snapshot())
		}
	})
	if err != nil {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// GetSpeaker returns the snapshot for one identity.
func (r *Registry) GetSpeaker(identity string) (Speaker, error) {
	var (
		sp    Speaker
		found bool
	)
	err := r.do(func() {
		if e, ok := r.entries[identity]; ok {
			sp = e.snapshot()
			found = true
		}
	})
	if err != nil {
		return Speaker{}, err
	}
	if !found {
		return Speaker{}, fmt.Errorf("%w: %s", ErrUnknownSpeaker, identity)
	}
	return sp, nil
}

// IssueCommand sends a command to the identified speaker. The device
// exchange happens outside the run loop, so a slow speaker never stalls
// registry bookkeeping. Commands for one speaker are serialised by its
// session; commands for different speakers proceed independently.
func (r *Registry) IssueCommand(ctx context.Context, identity string, cmd kef.Command) error {
	var ctrl Controller
	err := r.do(func() {
		if e, ok := r.entries[identity]; ok {
			ctrl = e.controller
		}
	})
	if err != nil {
		return err
	}
	if ctrl == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSpeaker, identity)
	}
	return ctrl.SendCommand(ctx, cmd)
}

// Forget retires a speaker immediately without waiting for discovery to
// report it lost.
func (r *Registry) Forget(identity string) error {
	var found bool
	err := r.do(func() {
		if _, ok := r.entries[identity]; ok {
			found = true
			r.retire(identity)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownSpeaker, identity)
	}
	return nil
}

// do runs fn on the run loop goroutine and waits for it to complete.
func (r *Registry) do(fn func()) error {
	if r.ctx == nil {
		return ErrRegistryClosed
	}
	done := make(chan struct{})
	select {
	case r.requests <- func() { fn(); close(done) }:
	case <-r.ctx.Done():
		return ErrRegistryClosed
	}
	select {
	case <-done:
		return nil
	case <-r.ctx.Done():
		return ErrRegistryClosed
	}
}

// run is the single mutation path for the speaker map.
func (r *Registry) run() {
	defer r.wg.Done()
	defer r.teardown()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.discoveryCh:
			r.handleDiscovery(ev)
		case ev := <-r.sessionCh:
			r.handleSession(ev)
		case req := <-r.requests:
			req()
		}
	}
}

// teardown stops every session and closes the bus after the run loop
// exits.
func (r *Registry) teardown() {
	for identity, e := range r.entries {
		e.controller.Stop()
		delete(r.entries, identity)
	}
	r.bus.Close()
}

// handleDiscovery reconciles one discovery event against the map.
func (r *Registry) handleDiscovery(ev discovery.Event) {
	switch ev.Type {
	case discovery.EventFound:
		r.found(ev.Announcement)
	case discovery.EventLost:
		// A later Found recreates the entry; losing one here is routine.
		r.retire(ev.Announcement.Identity)
	}
}

// found creates a session for a new identity or retargets an existing
// one. The entry's identity never changes; only its address does.
func (r *Registry) found(ann discovery.Announcement) {
	now := r.clock()

	if e, ok := r.entries[ann.Identity]; ok {
		e.lastSeen = now
		if ann.Name != "" {
			e.name = ann.Name
		}
		if ann.Model != "" {
			e.model = ann.Model
		}
		if e.address != ann.Address || e.port != ann.Port {
			e.address = ann.Address
			e.port = ann.Port
			e.controller.SetTarget(ann.Address, ann.Port)
			r.publish(EventSpeakerUpdated, e)
		}
		return
	}

	ctrl := r.factory(ann.Identity, r.sessionCh)
	e := &entry{
		identity:     ann.Identity,
		name:         ann.Name,
		model:        ann.Model,
		address:      ann.Address,
		port:         ann.Port,
		connectivity: kef.ConnectivityUnknown,
		firstSeen:    now,
		lastSeen:     now,
		controller:   ctrl,
	}
	r.entries[ann.Identity] = e

	ctrl.SetTarget(ann.Address, ann.Port)
	ctrl.Start(r.ctx)

	r.logger.Info("speaker registered",
		"identity", ann.Identity, "name", ann.Name, "address", ann.Address, "port", ann.Port)
	r.publish(EventSpeakerAdded, e)
}

// retire stops a speaker's session and removes its entry.
func (r *Registry) retire(identity string) {
	e, ok := r.entries[identity]
	if !ok {
		return
	}
	delete(r.entries, identity)
	e.controller.Stop()

	r.logger.Info("speaker retired", "identity", identity)
	r.publish(EventSpeakerRemoved, e)
}

// handleSession folds a session event into the entry and republishes it
// with the full snapshot. Events for retired speakers are discarded.
func (r *Registry) handleSession(ev kef.SessionEvent) {
	e, ok := r.entries[ev.Identity]
	if !ok {
		return
	}

	switch ev.Kind {
	case kef.EventStateChanged:
		st := ev.State
		e.state = &st
		r.publish(EventStateChanged, e)
	case kef.EventConnectivityChanged:
		e.connectivity = ev.Connectivity
		r.publish(EventConnectivityChanged, e)
	}
}

// publish emits a registry event carrying the entry's current snapshot.
func (r *Registry) publish(kind EventKind, e *entry) {
	r.bus.Publish(Event{Kind: kind, Speaker: e.snapshot()})
}
