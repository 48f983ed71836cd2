package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// TXT record keys published by KEF speakers.
const (
	txtKeyName  = "name"
	txtKeyModel = "modelName"
)

// entryBuffer bounds how many resolved entries one browse window can queue
// before the collector drains them.
const entryBuffer = 16

// EventType classifies a discovery event.
type EventType string

const (
	// EventFound reports a speaker that appeared or changed address.
	EventFound EventType = "found"

	// EventLost reports a speaker silent for a full grace period.
	EventLost EventType = "lost"
)

// Announcement is one resolved speaker advertisement.
type Announcement struct {
	// Identity is the stable registry key, taken from the advertised
	// service instance name.
	Identity string

	// Name and Model come from the advertisement's TXT records and may
	// be empty.
	Name  string
	Model string

	// Address and Port locate the speaker's control endpoint. Mutable
	// across announcements; the most recent resolution wins.
	Address string
	Port    int
}

// Event is a discovery lifecycle event. Lost events carry only Identity.
type Event struct {
	Type         EventType
	Announcement Announcement
}

// Entry is one raw resolved mDNS service entry, decoupled from the
// resolver library so tests can construct them directly.
type Entry struct {
	Instance string
	Addrs    []net.IP
	Port     int
	Text     []string
}

// Browser runs one browse window, sending resolved entries until the
// context ends. Implementations may return before the window closes.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- Entry) error
}

// Logger defines the logging interface for the watcher.
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

// Config holds settings for the discovery watcher.
type Config struct {
	// Service is the mDNS service type to browse for,
	// e.g. "_kef-info._tcp".
	Service string

	// Domain is the browse domain, normally "local.".
	Domain string

	// BrowseInterval is the length of one browse window. Each window
	// both collects announcements and, at its close, sweeps for
	// speakers that fell silent.
	BrowseInterval time.Duration

	// GracePeriod is how long a known speaker may stay silent before it
	// is reported Lost. Should span several browse intervals to
	// tolerate mDNS packet loss.
	GracePeriod time.Duration

	// Events receives Found and Lost events. Required.
	Events chan<- Event

	// Browser is optional; nil selects the system mDNS resolver.
	Browser Browser

	// Logger is optional.
	Logger Logger
}

// Watcher continuously browses for speaker advertisements and reports
// lifecycle events to a single consumer.
type Watcher struct {
	service        string
	domain         string
	browseInterval time.Duration
	gracePeriod    time.Duration
	events         chan<- Event
	browser        Browser
	logger         Logger

	// known and lastSeen are touched only by the run goroutine.
	known    map[string]Announcement
	lastSeen map[string]time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher creates a discovery watcher. Call Start to begin browsing.
func NewWatcher(cfg Config) *Watcher {
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	if cfg.BrowseInterval <= 0 {
		cfg.BrowseInterval = 15 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * cfg.BrowseInterval
	}
	if cfg.Browser == nil {
		cfg.Browser = zeroconfBrowser{}
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Watcher{
		service:        cfg.Service,
		domain:         cfg.Domain,
		browseInterval: cfg.BrowseInterval,
		gracePeriod:    cfg.GracePeriod,
		events:         cfg.Events,
		browser:        cfg.Browser,
		logger:         cfg.Logger,
		known:          make(map[string]Announcement),
		lastSeen:       make(map[string]time.Time),
	}
}

// Start launches the browse loop. Call Stop to tear the watcher down.
func (w *Watcher) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run()
}

// Stop ends browsing and waits for the loop to exit. Safe to call
// multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()
	})
}

// run executes browse windows back to back until the watcher stops.
func (w *Watcher) run() {
	defer w.wg.Done()

	w.logger.Info("discovery started",
		"service", w.service, "domain", w.domain, "interval", w.browseInterval)

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		w.browseWindow()
		w.sweep(time.Now())
	}
}

// browseWindow runs one browse of fixed length, folding every resolved
// entry into the known set as it arrives.
func (w *Watcher) browseWindow() {
	winCtx, winCancel := context.WithTimeout(w.ctx, w.browseInterval)
	defer winCancel()

	entries := make(chan Entry, entryBuffer)
	if err := w.browser.Browse(winCtx, w.service, w.domain, entries); err != nil {
		w.logger.Warn("browse cycle failed", "error", fmt.Errorf("%w: %v", ErrBrowseFailed, err))
		// Wait out the window anyway so a broken resolver cannot spin.
		<-winCtx.Done()
		return
	}

	for {
		select {
		case entry := <-entries:
			w.observe(entry, time.Now())
		case <-winCtx.Done():
			return
		}
	}
}

// observe folds one resolved entry into the known set, emitting Found for
// new speakers and for address changes. Re-announcements of an unchanged
// address are absorbed silently.
func (w *Watcher) observe(entry Entry, now time.Time) {
	ann, err := announcementFromEntry(entry)
	if err != nil {
		w.logger.Debug("ignoring unusable announcement", "instance", entry.Instance, "error", err)
		return
	}

	w.lastSeen[ann.Identity] = now

	prev, seen := w.known[ann.Identity]
	if seen && prev == ann {
		return
	}
	w.known[ann.Identity] = ann

	if seen {
		w.logger.Info("speaker changed address",
			"identity", ann.Identity, "address", ann.Address, "port", ann.Port)
	} else {
		w.logger.Info("speaker found",
			"identity", ann.Identity, "name", ann.Name, "model", ann.Model,
			"address", ann.Address, "port", ann.Port)
	}
	w.emit(Event{Type: EventFound, Announcement: ann})
}

// sweep reports Lost for every known speaker silent past the grace period.
func (w *Watcher) sweep(now time.Time) {
	for identity, seen := range w.lastSeen {
		if now.Sub(seen) <= w.gracePeriod {
			continue
		}
		delete(w.lastSeen, identity)
		delete(w.known, identity)
		w.logger.Info("speaker lost", "identity", identity)
		w.emit(Event{Type: EventLost, Announcement: Announcement{Identity: identity}})
	}
}

// emit delivers an event to the registry without outliving the watcher.
func (w *Watcher) emit(ev Event) {
	if w.events == nil {
		return
	}
	if w.ctx == nil {
		w.events <- ev
		return
	}
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

// announcementFromEntry translates a resolved service entry into an
// Announcement, preferring IPv4 addresses when both families resolved.
func announcementFromEntry(entry Entry) (Announcement, error) {
	addr := pickAddress(entry.Addrs)
	if addr == "" {
		return Announcement{}, ErrNoAddress
	}

	ann := Announcement{
		Identity: entry.Instance,
		Address:  addr,
		Port:     entry.Port,
	}
	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case txtKeyName:
			ann.Name = value
		case txtKeyModel:
			ann.Model = value
		}
	}
	return ann, nil
}

// pickAddress chooses one address deterministically: the lowest IPv4,
// falling back to the lowest IPv6. Determinism keeps re-announcements
// with reordered address lists from looking like address changes.
func pickAddress(addrs []net.IP) string {
	var v4, v6 []string
	for _, ip := range addrs {
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			v4 = append(v4, ip.String())
		} else {
			v6 = append(v6, ip.String())
		}
	}
	sort.Strings(v4)
	sort.Strings(v6)
	if len(v4) > 0 {
		return v4[0]
	}
	if len(v6) > 0 {
		return v6[0]
	}
	return ""
}

// zeroconfBrowser browses via the system mDNS stack.
type zeroconfBrowser struct{}

func (zeroconfBrowser) Browse(ctx context.Context, service, domain string, entries chan<- Entry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	raw := make(chan *zeroconf.ServiceEntry, entryBuffer)
	go func() {
		for e := range raw {
			addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			addrs = append(addrs, e.AddrIPv4...)
			addrs = append(addrs, e.AddrIPv6...)
			select {
			case entries <- Entry{Instance: e.Instance, Addrs: addrs, Port: e.Port, Text: e.Text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return resolver.Browse(ctx, service, domain, raw)
}
