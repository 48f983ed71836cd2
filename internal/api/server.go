// Package api provides the HTTP REST API and WebSocket server for kefd.
//
// It exposes the speaker registry to user interfaces: listing discovered
// speakers, issuing control commands, and streaming state changes over
// WebSocket in real time.
//
// The server follows the same lifecycle pattern as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/kefd/internal/infrastructure/config"
	"github.com/nerrad567/kefd/internal/infrastructure/logging"
	"github.com/nerrad567/kefd/internal/kef"
	"github.com/nerrad567/kefd/internal/speaker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Control is the registry surface the API serves. It is satisfied by
// *speaker.Registry.
type Control interface {
	ListSpeakers() []speaker.Speaker
	GetSpeaker(identity string) (speaker.Speaker, error)
	IssueCommand(ctx context.Context, identity string, cmd kef.Command) error
	Forget(identity string) error
	Subscribe() *speaker.Subscription
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.API
	WS      config.WebSocket
	Logger  *logging.Logger
	Control Control
	Version string
}

// Server is the HTTP API server for kefd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.API
	wsCfg   config.WebSocket
	logger  *logging.Logger
	control Control
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("speaker registry is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		control: deps.Control,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to registry events for
// real-time broadcast, and launches the HTTP listener in a background
// goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.relayRegistryEvents(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// relayRegistryEvents forwards registry events to WebSocket clients.
// The subscription is lossless; the hub applies its own per-client
// delivery policy at the edge.
func (s *Server) relayRegistryEvents(ctx context.Context) {
	sub := s.control.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.hub.Broadcast(string(ev.Kind), ev.Speaker)
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
