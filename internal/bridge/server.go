package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mcpgate/internal/config"
	"mcpgate/internal/entitlement"
	"mcpgate/internal/protocol"
	"mcpgate/internal/relay"
	"mcpgate/internal/session"
	"mcpgate/pkg/auth"
	"mcpgate/pkg/logging"

	"github.com/coder/websocket"
	"k8s.io/utils/clock"
)

const (
	// DefaultMaxInflight bounds concurrent relays per session.
	DefaultMaxInflight = 16
	// DefaultMaxMessageBytes bounds a single inbound websocket message.
	DefaultMaxMessageBytes = 4 << 20

	writeTimeout = 10 * time.Second
)

// EntitlementChecker decides whether the local user may use the bridge.
type EntitlementChecker interface {
	Check(ctx context.Context) entitlement.Result
}

// Forwarder relays one message to the remote API.
type Forwarder interface {
	Forward(ctx context.Context, req relay.Request) (json.RawMessage, error)
}

// Options holds the collaborators of a Server.
type Options struct {
	Gate      EntitlementChecker
	Forwarder Forwarder
	// Registry defaults to a new registry on Clock.
	Registry *session.Registry
	// Clock defaults to the registry's clock, or the real clock.
	Clock clock.WithTickerAndDelayedExecution

	// Host is the interface to bind; localhost when empty.
	Host            string
	MaxInflight     int
	RateLimit       float64
	RateBurst       int
	MaxMessageBytes int64
}

// Server is the bridge. Create it with New, run it with Start and stop it
// with Shutdown.
type Server struct {
	cfg       config.BridgeConfig
	auth      *auth.Authenticator
	gate      EntitlementChecker
	forwarder Forwarder
	registry  *session.Registry
	clock     clock.WithTickerAndDelayedExecution

	host            string
	maxInflight     int
	rateLimit       float64
	rateBurst       int
	maxMessageBytes int64

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	port       int
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool

	shuttingDown atomic.Bool
	expired      atomic.Int64
	conns        sync.WaitGroup
	done         chan struct{}
}

// New creates a Server for cfg. cfg is copied and never modified.
func New(cfg config.BridgeConfig, opts Options) (*Server, error) {
	if cfg.AuthToken == "" {
		return nil, errors.New("bridge auth token is required")
	}
	if opts.Gate == nil {
		return nil, errors.New("entitlement gate is required")
	}
	if opts.Forwarder == nil {
		return nil, errors.New("forwarder is required")
	}

	clk := opts.Clock
	if clk == nil && opts.Registry != nil {
		clk = opts.Registry.Clock()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = session.NewRegistry(session.Options{Clock: clk})
	}

	host := opts.Host
	if host == "" {
		host = config.DefaultHost
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = DefaultMaxInflight
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = opts.MaxInflight
	}

	s := &Server{
		cfg:             cfg,
		auth:            auth.NewAuthenticatorForToken(cfg.AuthToken),
		gate:            opts.Gate,
		forwarder:       opts.Forwarder,
		registry:        registry,
		clock:           clk,
		host:            host,
		maxInflight:     opts.MaxInflight,
		rateLimit:       opts.RateLimit,
		rateBurst:       opts.RateBurst,
		maxMessageBytes: opts.MaxMessageBytes,
		done:            make(chan struct{}),
	}
	registry.OnExpire(func(*session.Session, websocket.StatusCode) {
		s.expired.Add(1)
	})
	return s, nil
}

// Registry returns the server's session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Start checks entitlement, then opens the listener and serves until
// Shutdown is called or ctx is cancelled. It returns once the listener is
// open. A failed entitlement check returns an error wrapping
// entitlement.ErrNotEntitled and opens nothing.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("bridge already started")
	}
	s.started = true
	s.mu.Unlock()

	res := s.gate.Check(ctx)
	if !res.Allowed {
		logging.Audit(logging.AuditEvent{
			Action:  "start",
			Outcome: "failure",
			Target:  res.UserID,
			Reason:  res.Reason,
		})
		return res.Err()
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.cfg.ListenPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("/", s.handleWebSocket)

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.listener = listener
	s.port = port
	s.ctx = baseCtx
	s.cancel = cancel
	s.httpServer = &http.Server{
		Handler:           loopbackOnly(port, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	go s.registry.Run(baseCtx)

	go func() {
		defer close(s.done)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Bridge", err, "Bridge listener stopped")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		case <-s.done:
		}
	}()

	logging.Info("Bridge", "Bridge listening on %s (user %s, status %s)", s.WebSocketURL(), res.UserID, res.Status)
	return nil
}

// Port returns the listening port, or zero before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WebSocketURL is the address connectors dial.
func (s *Server) WebSocketURL() string {
	port := s.Port()
	if port == 0 {
		port = s.cfg.ListenPort
	}
	return fmt.Sprintf("ws://localhost:%d", port)
}

// Done is closed once the listener has been closed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown closes every session with "service shutting down", then closes
// the listener and waits for it and all connection handlers to finish or
// for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	cancel := s.cancel
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	s.shuttingDown.Store(true)
	for _, info := range s.registry.Snapshot() {
		logging.Debug("Bridge", "Closing session %s (%s, user %q)", logging.TruncateSessionID(info.ID), info.State, info.UserID)
	}
	n := s.registry.CloseAll(protocol.CloseServiceShutdown, protocol.CloseReason(protocol.CloseServiceShutdown))
	logging.Info("Bridge", "Shutting down bridge, closed %d sessions", n)

	err := httpServer.Shutdown(ctx)
	cancel()

	handlersDone := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(handlersDone)
	}()

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-handlersDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
