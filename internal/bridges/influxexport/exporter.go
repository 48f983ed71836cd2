// Package influxexport relays registry events to the time-series store.
//
// The exporter is an observer like the history recorder: it subscribes
// to the registry bus and turns state and connectivity transitions into
// non-blocking InfluxDB writes. It never feeds anything back into the
// registry.
package influxexport

import (
	"context"
	"sync"

	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// Writer is the InfluxDB surface the exporter needs. Satisfied by
// *influxdb.Client.
type Writer interface {
	WriteSpeakerState(identity string, state kef.State)
	WriteConnectivity(identity string, connectivity kef.Connectivity)
}

// Registry is the registry surface the exporter consumes. Satisfied by
// *speaker.Registry.
type Registry interface {
	Subscribe() *speaker.Subscription
}

// Logger defines the logging interface for the exporter.
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

// Exporter pumps registry events into the writer.
type Exporter struct {
	writer   Writer
	registry Registry
	logger   Logger

	sub *speaker.Subscription

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Config holds settings for the exporter.
type Config struct {
	// Logger is optional.
	Logger Logger
}

// New creates an exporter. Call Start to begin relaying.
func New(cfg Config, writer Writer, registry Registry) *Exporter {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Exporter{
		writer:   writer,
		registry: registry,
		logger:   logger,
	}
}

// Start subscribes to the registry and begins exporting.
func (e *Exporter) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.sub = e.registry.Subscribe()

	e.wg.Add(1)
	go e.run()

	e.logger.Info("influxdb exporter started")
}

// Stop ends exporting and waits for the pump to exit. Safe to call
// multiple times.
func (e *Exporter) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		if e.sub != nil {
			e.sub.Close()
		}
		e.wg.Wait()
	})
}

func (e *Exporter) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.sub.Events():
			if !ok {
				return
			}
			e.export(ev)
		}
	}
}

// export maps one registry event to writes. Removal events produce
// nothing; the series simply stops.
func (e *Exporter) export(ev speaker.Event) {
	switch ev.Kind {
	case speaker.EventStateChanged:
		if ev.Speaker.State != nil {
			e.writer.WriteSpeakerState(ev.Speaker.Identity, *ev.Speaker.State)
		}
	case speaker.EventConnectivityChanged:
		e.writer.WriteConnectivity(ev.Speaker.Identity, ev.Speaker.Connectivity)
	case speaker.EventSpeakerAdded:
		e.writer.WriteConnectivity(ev.Speaker.Identity, ev.Speaker.Connectivity)
		if ev.Speaker.State != nil {
			e.writer.WriteSpeakerState(ev.Speaker.Identity, *ev.Speaker.State)
		}
	case speaker.EventSpeakerRemoved:
	}
}
