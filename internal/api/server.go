package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/exhibit-core/internal/audit"
	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/config"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/logging"
	"github.com/nerrad567/exhibit-core/internal/link"
)

const shutdownGrace = 10 * time.Second

// Link is the controller link as seen by the API. *link.Manager implements it.
type Link interface {
	Connect(host string, port int) error
	Disconnect()
	SendHex(ctx context.Context, s string) error
	EnterBackground()
	EnterForeground()
	Status() link.Status
	Stats() link.Stats
}

// EventSource is the event bus. *events.Bus implements it.
type EventSource interface {
	Channel(buffer int, types ...events.Type) (<-chan events.Event, func())
}

// Deps are the server's collaborators. Events and Audit are optional.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Link     Link
	Events   EventSource
	Audit    audit.Repository
	Version  string
}

// Server serves the REST API and the WebSocket feed.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	registry *device.Registry
	link     Link
	events   EventSource
	audit    audit.Repository
	version  string
	hub      *Hub

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// New checks deps and builds a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Registry == nil:
		return nil, errors.New("api: device registry is required")
	case deps.Link == nil:
		return nil, errors.New("api: link is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		registry: deps.Registry,
		link:     deps.Link,
		events:   deps.Events,
		audit:    deps.Audit,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger, deps.Registry.GetAllDevices),
	}, nil
}

// Start binds the listen address, then serves in the background. A bind
// failure is returned here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("api: server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listening on %s: %w", addr, err)
	}

	runCtx, stop := context.WithCancel(ctx)
	s.stop = stop
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(runCtx)
	}()

	if s.events != nil {
		ch, unsub := s.events.Channel(wsSendBufferSize, relayedEvents...)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsub()
			s.relayEvents(runCtx, ch)
		}()
	}

	srv := s.httpSrv
	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close drains in-flight requests for up to ten seconds, stops the hub
// and waits for the event relay.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, stop := s.httpSrv, s.stop
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := srv.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.Addr() == "" {
		return errors.New("api: server not started")
	}
	return nil
}
