// Package api provides the HTTP API and WebSocket server for the matrix bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-matrix/internal/audit"
	"github.com/nerrad567/gray-logic-matrix/internal/bridges/matrix"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// MatrixController is the part of the matrix controller the API drives.
type MatrixController interface {
	ID() string
	Status() matrix.ControllerStatus
	Execute(ctx context.Context, command string, parameters map[string]any) error
	Query(ctx context.Context, action string, parameters map[string]any) (any, error)
	Subscribe(h matrix.Handler) (unsubscribe func())
}

// BridgeMetricsProvider reports MQTT bridge counters.
type BridgeMetricsProvider interface {
	GetMetrics() matrix.BridgeMetrics
}

// ConnectionChecker reports whether a client is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatsProvider reports database pool statistics and the newest applied
// schema migration.
type DBStatsProvider interface {
	Stats() sql.DBStats
	SchemaVersion(ctx context.Context) (string, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Matrix   MatrixController
	Bridge   BridgeMetricsProvider // optional
	MQTT     ConnectionChecker     // optional
	Audit    audit.Repository      // optional: enables /audit and command journaling
	DB       DBStatsProvider       // optional
	Version  string
}

// Server is the HTTP API server for the matrix bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	matrix    MatrixController
	bridge    BridgeMetricsProvider
	mqtt      ConnectionChecker
	auditRepo audit.Repository
	db        DBStatsProvider
	version   string
	startTime time.Time

	hub     *Hub
	tickets *ticketStore
	auditCh chan *audit.AuditLog

	mu          sync.Mutex
	server      *http.Server
	listener    net.Listener
	unsubscribe func()
	cancel      context.CancelFunc // cancels background goroutines on Close()
	auditDone   chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, matrix controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Matrix == nil {
		return nil, fmt.Errorf("matrix controller is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		matrix:    deps.Matrix,
		bridge:    deps.Bridge,
		mqtt:      deps.MQTT,
		auditRepo: deps.Audit,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to controller events for
// broadcast, binds the listener and serves in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation of background goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	if s.auditCh != nil {
		s.auditDone = make(chan struct{})
		go func() {
			defer close(s.auditDone)
			s.drainAuditLog(srvCtx)
		}()
	}

	s.unsubscribe = s.matrix.Subscribe(s.broadcastEvent)

	if !s.authEnabled() {
		s.logger.Warn("API authentication disabled, set security.jwt.secret to require tokens")
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	srv := s.server
	go func() {
		var serveErr error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			serveErr = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()

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
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	unsubscribe := s.unsubscribe
	cancel := s.cancel
	auditDone := s.auditDone
	s.unsubscribe = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	if unsubscribe != nil {
		unsubscribe()
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down")
	err := srv.Shutdown(ctx)

	// Cancel background goroutines (hub, tickets, audit drain) after
	// in-flight handlers have finished enqueueing.
	if cancel != nil {
		cancel()
	}
	if auditDone != nil {
		<-auditDone
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	started := s.server != nil
	s.mu.Unlock()
	if !started {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// broadcastEvent relays a controller event to WebSocket clients
// subscribed to "matrix.<type>".
func (s *Server) broadcastEvent(ev matrix.Event) {
	s.hub.Broadcast(EventChannel(ev.Type), ev)
}

// EventChannel returns the WebSocket channel name for an event type.
func EventChannel(t matrix.EventType) string {
	return "matrix." + string(t)
}
