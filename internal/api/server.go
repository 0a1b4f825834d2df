package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/logging"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QueueView is the read side of the failure queue.
type QueueView interface {
	Len() int
	InFlight() int
	Snapshot() []queue.Record
}

// SnapshotCounter reports how many entity snapshots the lookup fallback
// store holds.
type SnapshotCounter interface {
	Count(ctx context.Context) (int, error)
}

// Flusher is the flush scheduler surface the API needs.
type Flusher interface {
	Trigger()
	Interval() time.Duration
	Flushing() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *entity.Registry
	States   *entity.States
	Queue    QueueView
	Flusher  Flusher

	// Snapshots is reported by /status when set.
	Snapshots SnapshotCounter

	// Checks are reported by /health under their map key.
	Checks map[string]HealthChecker

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Hub is used instead of a server-owned hub when set, so it can be
	// registered as a pipeline observer before the server starts.
	Hub *Hub

	Clock   clockwork.Clock
	Version string
}

// Server is the HTTP status API.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	registry  *entity.Registry
	states    *entity.States
	queue     QueueView
	flusher   Flusher
	snapshots SnapshotCounter
	checks    map[string]HealthChecker
	gatherer  prometheus.Gatherer
	clock     clockwork.Clock
	version   string
	started   time.Time
	hub       *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger, Registry, States, Queue and Flusher are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil || deps.States == nil {
		return nil, fmt.Errorf("entity registry and states are required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if deps.Flusher == nil {
		return nil, fmt.Errorf("flusher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WebSocket, deps.Logger)
		hub.clock = clock
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		states:    deps.States,
		queue:     deps.Queue,
		flusher:   deps.Flusher,
		snapshots: deps.Snapshots,
		checks:    deps.Checks,
		gatherer:  deps.Gatherer,
		clock:     clock,
		version:   deps.Version,
		started:   clock.Now(),
		hub:       hub,
	}, nil
}

// Hub returns the WebSocket hub so it can be attached as a pipeline observer.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves requests in a background goroutine.
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadDuration(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadDuration(),
		WriteTimeout:      s.cfg.Timeouts.WriteDuration(),
		IdleTimeout:       s.cfg.Timeouts.IdleDuration(),
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
