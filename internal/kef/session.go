package kef

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// powerOnSettle is how long a speaker in standby needs after power-on
// before it accepts a source change.
const powerOnSettle = 500 * time.Millisecond

// Logger is the logging interface used by this package.
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

// Exchanger is the transport surface a session drives. It is satisfied by
// *Transport and by fakes in tests.
type Exchanger interface {
	Get(ctx context.Context, query url.Values) ([]byte, error)
	Set(ctx context.Context, query url.Values) ([]byte, error)
	Subscribe(ctx context.Context, query url.Values) ([]byte, error)
	Poll(ctx context.Context, query url.Values) ([]byte, error)
	SetTarget(address string, port int)
	Target() string
	PollHold() time.Duration
}

// SessionConfig holds settings for a device session.
type SessionConfig struct {
	// Identity is the stable identifier events are reported under.
	Identity string

	// FailureThreshold is the number of consecutive transport failures
	// before connectivity flips to unreachable. Default 3.
	FailureThreshold int

	// BackoffInitial and BackoffMax bound the retry backoff once the
	// threshold is crossed. Defaults 1s and 30s.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Events receives state and connectivity events. Required.
	Events chan<- SessionEvent

	// Logger is optional.
	Logger Logger
}

// Session owns the command and poll lifecycle for exactly one speaker.
//
// One watch goroutine long-polls the device's event queue; polls for a
// device are strictly sequential, never overlapped. Commands from any
// goroutine are serialised per device by an internal mutex. State events
// for the device are published in the order the device reported them.
type Session struct {
	identity  string
	transport Exchanger
	events    chan<- SessionEvent
	logger    Logger

	failureThreshold int
	backoffInitial   time.Duration
	backoffMax       time.Duration

	// cmdMu serialises writes to the device; two in-flight commands must
	// not race on one speaker.
	cmdMu sync.Mutex

	stateMu      sync.RWMutex
	state        State
	hasState     bool
	connectivity Connectivity

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSession creates a session over the given transport. The transport
// becomes exclusively owned by the session.
func NewSession(cfg SessionConfig, transport Exchanger) *Session {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Session{
		identity:         cfg.Identity,
		transport:        transport,
		events:           cfg.Events,
		logger:           logger,
		failureThreshold: cfg.FailureThreshold,
		backoffInitial:   cfg.BackoffInitial,
		backoffMax:       cfg.BackoffMax,
		connectivity:     ConnectivityUnknown,
	}
}

// Start launches the state-watch loop. Call Stop to tear the session down.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.watchLoop()
}

// Stop cancels any in-flight or pending poll and waits for the watch loop
// to exit. Teardown latency is bounded by one in-flight exchange, which
// observes the cancellation at its next suspension point. Safe to call
// multiple times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Identity returns the identity this session reports events under.
func (s *Session) Identity() string {
	return s.identity
}

// SetTarget repoints the session's transport at a new device address.
// The watch loop picks the new target up on its next exchange.
func (s *Session) SetTarget(address string, port int) {
	s.transport.SetTarget(address, port)
	s.logger.Info("session retargeted", "identity", s.identity, "target", s.transport.Target())
}

// State returns the last known state snapshot and whether one exists.
// A failed poll never clears the last known state; stale-but-known beats
// unknown.
func (s *Session) State() (State, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state, s.hasState
}

// Connectivity returns the session's current reachability verdict.
func (s *Session) Connectivity() Connectivity {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.connectivity
}

// SendCommand translates a command into a device write and performs it.
//
// On success the cached state is updated optimistically with the
// commanded value so callers see intent immediately; the watch loop's
// next confirmed poll supersedes it. Commands for one device are
// serialised; commands for different devices do not interfere.
func (s *Session) SendCommand(ctx context.Context, cmd Command) error {
	if s.ctx == nil {
		return ErrSessionClosed
	}
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	// A speaker in standby ignores source selection; wake it first.
	if cmd.Type == CmdSetSource {
		if err := s.wakeIfStandby(ctx); err != nil {
			return err
		}
	}

	path, value, err := s.encodeCommand(cmd)
	if err != nil {
		return err
	}

	body, err := s.transport.Set(ctx, EncodeSet(path, value))
	if err != nil {
		return fmt.Errorf("sending %s: %w", cmd.Type, err)
	}
	if _, err := DecodeGetResponse(body); err != nil {
		return fmt.Errorf("acknowledging %s: %w", cmd.Type, err)
	}

	s.applyOptimistic(cmd)
	return nil
}

// wakeIfStandby powers the speaker on when the cached state says standby,
// then waits briefly for it to settle.
func (s *Session) wakeIfStandby(ctx context.Context) error {
	st, ok := s.State()
	if !ok || st.Power != PowerStandby {
		return nil
	}

	s.logger.Info("speaker in standby, powering on before source change", "identity", s.identity)

	value, err := PowerValue(PowerOn)
	if err != nil {
		return err
	}
	body, err := s.transport.Set(ctx, EncodeSet(PathPhysicalSource, value))
	if err != nil {
		return fmt.Errorf("powering on: %w", err)
	}
	if _, err := DecodeGetResponse(body); err != nil {
		return fmt.Errorf("acknowledging power on: %w", err)
	}
	s.applyOptimistic(Command{Type: CmdSetPower, Power: PowerOn})

	select {
	case <-time.After(powerOnSettle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// encodeCommand maps a command onto a device property path and tagged
// value document.
func (s *Session) encodeCommand(cmd Command) (path, value string, err error) {
	switch cmd.Type {
	case CmdSetPower:
		value, err = PowerValue(cmd.Power)
		return PathPhysicalSource, value, err
	case CmdSetSource:
		value, err = SourceValue(cmd.Source)
		return PathPhysicalSource, value, err
	case CmdSetVolume:
		return PathVolume, VolumeValue(cmd.Volume), nil
	case CmdToggleMute:
		st, _ := s.State()
		return PathMute, MuteValue(!st.Muted), nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Type)
	}
}

// applyOptimistic folds a successful command into the cached snapshot and
// publishes the result when it actually changed anything. Re-issuing a
// command the device already satisfies produces no duplicate event.
func (s *Session) applyOptimistic(cmd Command) {
	s.stateMu.Lock()
	next := applyCommand(s.state, cmd)
	changed := !s.hasState || next != s.state
	s.state = next
	s.hasState = true
	s.stateMu.Unlock()

	if changed {
		s.emit(SessionEvent{Identity: s.identity, Kind: EventStateChanged, State: next})
	}
}

// applyCommand returns the snapshot that st becomes after cmd succeeds.
func applyCommand(st State, cmd Command) State {
	switch cmd.Type {
	case CmdSetPower:
		st.Power = cmd.Power
		if cmd.Power == PowerStandby {
			st.Source = SourceUnknown
		}
	case CmdSetSource:
		st.Power = PowerOn
		st.Source = cmd.Source
	case CmdSetVolume:
		v := cmd.Volume
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		st.Volume = v
	case CmdToggleMute:
		st.Muted = !st.Muted
	}
	return st
}

// watchLoop is the session's single perpetual activity: subscribe to the
// device's event queue, long-poll it, and republish decoded changes.
// Polls never overlap; the loop suspends on each exchange and resumes
// when it returns or times out.
func (s *Session) watchLoop() {
	defer s.wg.Done()

	var (
		queueID  string
		failures int
		backoff  = s.backoffInitial
	)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if queueID == "" {
			id, err := s.openQueue()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				failures++
				s.logger.Warn("opening event queue failed",
					"identity", s.identity, "failures", failures, "error", err)
				backoff = s.handleFailure(failures, backoff)
				continue
			}
			queueID = id
		}

		body, err := s.transport.Poll(s.ctx, EncodePoll(queueID, s.transport.PollHold()))
		switch {
		case err == nil:
			changes, decodeErr := DecodePollResponse(body)
			if decodeErr != nil {
				// An occasional malformed payload is tolerated: keep the
				// previous snapshot and poll again.
				s.logger.Warn("discarding undecodable poll response",
					"identity", s.identity, "error", decodeErr)
			} else {
				s.applyChanges(changes)
			}
			failures = 0
			backoff = s.backoffInitial
			s.setConnectivity(ConnectivityConnected)

		case errors.Is(err, context.Canceled):
			return

		case errors.Is(err, ErrTimeout):
			// The device held the connection past its timeout with no
			// change to report. Expected outcome; re-issue immediately.
			failures = 0
			backoff = s.backoffInitial
			s.setConnectivity(ConnectivityConnected)

		default:
			failures++
			queueID = "" // queue state is unknown after a failure; resubscribe
			s.logger.Warn("poll failed",
				"identity", s.identity, "failures", failures, "error", err)
			backoff = s.handleFailure(failures, backoff)
		}
	}
}

// openQueue registers a fresh long-poll queue and resynchronises the full
// state snapshot, since changes made while no queue existed were lost.
func (s *Session) openQueue() (string, error) {
	query, err := EncodeSubscribe(WatchPaths)
	if err != nil {
		return "", err
	}
	body, err := s.transport.Subscribe(s.ctx, query)
	if err != nil {
		return "", err
	}
	id, err := DecodeQueueID(body)
	if err != nil {
		return "", err
	}

	if err := s.refreshState(); err != nil {
		return "", err
	}
	return id, nil
}

// refreshState reads every watched property and replaces the snapshot.
// Transport errors abort the refresh; a property that decodes badly is
// logged and skipped, keeping its previous value.
func (s *Session) refreshState() error {
	s.stateMu.RLock()
	next := s.state
	s.stateMu.RUnlock()

	for _, path := range WatchPaths {
		body, err := s.transport.Get(s.ctx, EncodeGet(path))
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		value, err := DecodeGetResponse(body)
		if err != nil {
			s.logger.Warn("skipping undecodable property",
				"identity", s.identity, "path", path, "error", err)
			continue
		}
		next = applyValue(next, path, value)
	}

	s.replaceState(next)
	return nil
}

// applyChanges folds poll changes into the snapshot and publishes it once.
func (s *Session) applyChanges(changes []Change) {
	if len(changes) == 0 {
		return
	}

	s.stateMu.RLock()
	next := s.state
	s.stateMu.RUnlock()

	for _, change := range changes {
		next = applyValue(next, change.Path, change.Value)
	}
	s.replaceState(next)
}

// applyValue returns the snapshot st becomes after one property update.
func applyValue(st State, path string, v Value) State {
	switch path {
	case PathSpeakerStatus:
		st.Power = v.Power
	case PathPhysicalSource:
		st.Source = v.Source
	case PathVolume:
		st.Volume = v.Int
	case PathMute:
		st.Muted = v.Bool
	}
	return st
}

// replaceState swaps in a new snapshot atomically and publishes it when
// it differs from the previous one.
func (s *Session) replaceState(next State) {
	s.stateMu.Lock()
	changed := !s.hasState || next != s.state
	s.state = next
	s.hasState = true
	s.stateMu.Unlock()

	if changed {
		s.emit(SessionEvent{Identity: s.identity, Kind: EventStateChanged, State: next})
	}
}

// setConnectivity records a reachability verdict and publishes transitions.
func (s *Session) setConnectivity(c Connectivity) {
	s.stateMu.Lock()
	changed := s.connectivity != c
	s.connectivity = c
	s.stateMu.Unlock()

	if changed {
		s.logger.Info("connectivity changed", "identity", s.identity, "connectivity", c)
		s.emit(SessionEvent{Identity: s.identity, Kind: EventConnectivityChanged, Connectivity: c})
	}
}

// handleFailure applies the retry policy after a failed exchange: below
// the threshold retry immediately, at or above it mark the speaker
// unreachable and back off exponentially up to the cap. Returns the next
// backoff to use.
func (s *Session) handleFailure(failures int, backoff time.Duration) time.Duration {
	if failures < s.failureThreshold {
		return backoff
	}

	s.setConnectivity(ConnectivityUnreachable)

	select {
	case <-time.After(backoff):
	case <-s.ctx.Done():
	}

	next := backoff * 2
	if next > s.backoffMax {
		next = s.backoffMax
	}
	return next
}

// emit delivers an event to the registry without outliving the session.
func (s *Session) emit(ev SessionEvent) {
	if s.events == nil {
		return
	}
	if s.ctx == nil {
		s.events <- ev
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
