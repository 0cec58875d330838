package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/ledger"
	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/registry"
	"github.com/getmockd/hookd/pkg/script"
	"github.com/getmockd/hookd/pkg/sharedstate"
	"github.com/getmockd/hookd/pkg/store"
)

// Default listener settings.
const (
	DefaultHTTPAddr     = ":8080"
	DefaultTCPAddr      = ":9000"
	DefaultMaxBodyBytes = 10 << 20
	DefaultReadBuffer   = 32 << 10
)

// Config holds the listener settings.
type Config struct {
	HTTPAddr string

	// MaxBodyBytes limits captured request bodies. Zero means no limit.
	MaxBodyBytes int64

	TCPEnabled bool
	TCPAddr    string

	// MaxConnections caps concurrently accepted TCP connections. Zero means
	// no limit.
	MaxConnections int

	// ReadBuffer is the size of one TCP read, and so the largest chunk a
	// TCP handler sees.
	ReadBuffer int
}

// DefaultConfig returns a Config with both listeners on their default ports.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:     DefaultHTTPAddr,
		MaxBodyBytes: DefaultMaxBodyBytes,
		TCPEnabled:   true,
		TCPAddr:      DefaultTCPAddr,
		ReadBuffer:   DefaultReadBuffer,
	}
}

// Server runs the HTTP and TCP capture listeners.
type Server struct {
	cfg      Config
	store    store.Store
	registry *registry.Registry
	executor *script.Executor
	ledger   *ledger.Ledger
	state    *sharedstate.Store
	events   events.Publisher
	log      *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	running    bool
	stopping   bool
	startTime  time.Time
	httpServer *http.Server
	httpLn     net.Listener
	tcpLn      net.Listener
	sessions   map[string]*tcpSession
	wg         sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithExecutor sets the script executor. The default has no timeout.
func WithExecutor(e *script.Executor) ServerOption {
	return func(s *Server) { s.executor = e }
}

// WithSharedState sets the shared state store. The default wraps the
// store's StateStore without serialization.
func WithSharedState(st *sharedstate.Store) ServerOption {
	return func(s *Server) { s.state = st }
}

// WithPublisher sets where lifecycle events go.
func WithPublisher(p events.Publisher) ServerOption {
	return func(s *Server) { s.events = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, map[string]any) {}

// NewServer creates a Server backed by st.
func NewServer(cfg Config, st store.Store, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		events:   nopPublisher{},
		log:      logging.Nop(),
		now:      time.Now,
		sessions: make(map[string]*tcpSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ReadBuffer <= 0 {
		s.cfg.ReadBuffer = DefaultReadBuffer
	}
	if s.executor == nil {
		s.executor = script.NewExecutor(script.WithLogger(s.log))
	}
	if s.state == nil {
		s.state = sharedstate.New(st.State(), sharedstate.WithLogger(s.log))
	}
	s.registry = registry.New(st.Handlers(), registry.WithLogger(s.log))
	s.ledger = ledger.New(st.Executions(), ledger.WithLogger(s.log), ledger.WithClock(s.now))
	return s
}

// Handler returns the HTTP capture handler.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

// Start binds both listeners and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server is already running")
	}

	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
	}

	var tcpLn net.Listener
	if s.cfg.TCPEnabled {
		tcpLn, err = net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			_ = httpLn.Close()
			return fmt.Errorf("listen tcp %s: %w", s.cfg.TCPAddr, err)
		}
		if s.cfg.MaxConnections > 0 {
			tcpLn = netutil.LimitListener(tcpLn, s.cfg.MaxConnections)
		}
	}

	s.httpLn = httpLn
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	s.log.Info("starting HTTP capture listener", "addr", httpLn.Addr().String())
	go func() {
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	if tcpLn != nil {
		s.tcpLn = tcpLn
		s.log.Info("starting TCP capture listener", "addr", tcpLn.Addr().String(), "max_connections", s.cfg.MaxConnections)
		s.wg.Add(1)
		go s.acceptLoop(tcpLn)
	}

	s.running = true
	s.stopping = false
	s.startTime = s.now()
	return nil
}

// Stop shuts both listeners down. Live TCP connections are closed and
// recorded as closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping = true
	httpServer, tcpLn := s.httpServer, s.tcpLn
	s.mu.Unlock()

	var errs []error
	if tcpLn != nil {
		if err := tcpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("TCP listener close: %w", err))
		}
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	// Sessions registering from here on see stopping and close themselves.
	s.mu.Lock()
	live := make([]*tcpSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()
	for _, sess := range live {
		sess.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for TCP connections: %w", ctx.Err()))
	}

	s.log.Info("engine stopped")
	return errors.Join(errs...)
}

// IsRunning reports whether the listeners are up.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Uptime returns the number of seconds since Start.
func (s *Server) Uptime() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return int(s.now().Sub(s.startTime).Seconds())
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// TCPAddr returns the bound TCP address, or "" when TCP is disabled or
// before Start.
func (s *Server) TCPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcpLn == nil {
		return ""
	}
	return s.tcpLn.Addr().String()
}

// ActiveConnections returns the number of open TCP connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Config returns the listener settings.
func (s *Server) Config() Config {
	return s.cfg
}
