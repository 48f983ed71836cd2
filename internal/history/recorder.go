package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

const (
	// recordTimeout bounds one insert triggered by a registry event.
	recordTimeout = 5 * time.Second

	// pruneInterval is how often expired transitions are removed.
	pruneInterval = time.Hour
)

// Registry is the registry surface the recorder consumes. Satisfied by
// *speaker.Registry.
type Registry interface {
	Subscribe() *speaker.Subscription
}

// Logger defines the logging interface for the recorder.
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

// Config holds settings for the recorder.
type Config struct {
	// Retention is how long transitions are kept before pruning.
	// Zero or negative disables pruning.
	Retention time.Duration

	// Logger is optional.
	Logger Logger
}

// Recorder subscribes to the registry event stream and persists state
// and connectivity transitions. A failed insert is logged and dropped;
// history is an observer, never backpressure on the registry.
type Recorder struct {
	repo      *Repository
	registry  Registry
	retention time.Duration
	logger    Logger

	sub *speaker.Subscription

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

// NewRecorder creates a recorder. Call Start to begin consuming.
func NewRecorder(cfg Config, repo *Repository, registry Registry) *Recorder {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		repo:      repo,
		registry:  registry,
		retention: cfg.Retention,
		logger:    logger,
	}
}

// Start subscribes to the registry and begins recording. The prune loop
// runs only when a retention window is configured.
func (r *Recorder) Start(ctx context.Context) error {
	if r.started {
		return ErrRecorderRunning
	}
	r.started = true

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.sub = r.registry.Subscribe()

	r.wg.Add(1)
	go r.run()

	if r.retention > 0 {
		r.wg.Add(1)
		go r.pruneLoop()
	}

	r.logger.Info("history recorder started", "retention", r.retention.String())
	return nil
}

// Stop ends recording and waits for the pumps to exit. Safe to call
// multiple times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.sub != nil {
			r.sub.Close()
		}
		r.wg.Wait()
	})
}

// run pumps registry events into the repository until the recorder
// stops.
func (r *Recorder) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-r.sub.Events():
			if !ok {
				return
			}
			r.handleEvent(ev)
		}
	}
}

// handleEvent records the transitions worth keeping. Removal events are
// skipped; the final snapshot was already recorded when it changed.
func (r *Recorder) handleEvent(ev speaker.Event) {
	switch ev.Kind {
	case speaker.EventStateChanged, speaker.EventConnectivityChanged:
		r.record(ev.Speaker)
	case speaker.EventSpeakerAdded:
		// First sight of a speaker has no state yet unless discovery
		// re-added a live entry.
		if ev.Speaker.State != nil {
			r.record(ev.Speaker)
		}
	case speaker.EventSpeakerRemoved:
	}
}

// record persists one snapshot.
func (r *Recorder) record(sp speaker.Speaker) {
	state := kefStateOrZero(sp)

	ctx, cancel := context.WithTimeout(r.ctx, recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, sp.Identity, state, sp.Connectivity); err != nil {
		r.logger.Error("failed to record state transition",
			"identity", sp.Identity,
			"error", err,
		)
		return
	}

	r.logger.Debug("recorded state transition", "identity", sp.Identity)
}

// pruneLoop removes expired transitions on a fixed interval.
func (r *Recorder) pruneLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.prune()
		}
	}
}

// kefStateOrZero unwraps a snapshot's state pointer.
func kefStateOrZero(sp speaker.Speaker) kef.State {
	if sp.State != nil {
		return *sp.State
	}
	return kef.State{}
}

// prune runs one retention sweep.
func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(r.ctx, recordTimeout)
	defer cancel()

	deleted, err := r.repo.Prune(ctx, r.retention)
	if err != nil {
		r.logger.Error("failed to prune state history", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Debug("pruned state history", "deleted", deleted)
	}
}
