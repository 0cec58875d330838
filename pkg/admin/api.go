// Package admin serves the administrative HTTP API: handler management,
// captured traffic queries, shared state access and the live event stream.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/ratelimit"
	"github.com/getmockd/hookd/pkg/sharedstate"
	"github.com/getmockd/hookd/pkg/store"
)

// EngineStatus is the view of the capture engine the status endpoint needs.
type EngineStatus interface {
	IsRunning() bool
	Uptime() int
	ActiveConnections() int
	HTTPAddr() string
	TCPAddr() string
}

// AdminAPI exposes the REST API for managing handlers and inspecting
// captured traffic.
type AdminAPI struct {
	addr    string
	store   store.Store
	state   *sharedstate.Store
	bus     *events.Bus
	engine  EngineStatus
	auth    *authenticator
	limiter *ratelimit.Limiter
	authCfg AuthConfig
	version string
	log     *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
	handler    http.Handler

	// closing is closed by Stop so event streams, which Shutdown does not
	// track, end too.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewAdminAPI creates an AdminAPI that will listen on addr.
func NewAdminAPI(addr string, st store.Store, opts ...Option) *AdminAPI {
	a := &AdminAPI{
		addr:      addr,
		store:     st,
		log:       logging.Nop(),
		startTime: time.Now(),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.state == nil {
		a.state = sharedstate.New(st.State(), sharedstate.WithLogger(a.log))
	}
	a.auth = newAuthenticator(a.authCfg)
	a.handler = a.routes()
	return a
}

// Handler returns the API's root handler, including authentication.
func (a *AdminAPI) Handler() http.Handler {
	return a.handler
}

// Start binds the listen address and serves in the background.
func (a *AdminAPI) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.httpServer != nil {
		return errors.New("admin API is already running")
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listen admin %s: %w", a.addr, err)
	}
	a.listener = ln
	a.startTime = time.Now()
	a.httpServer = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}

	a.log.Info("starting admin API", "addr", ln.Addr().String(), "auth", a.auth.mode())
	if a.auth.mode() == "disabled" {
		a.log.Warn("admin API authentication is disabled, set admin.api_key or admin.jwt_secret")
	}
	srv := a.httpServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("admin API error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the admin API server. Open event streams are
// closed.
func (a *AdminAPI) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()

	a.closeOnce.Do(func() { close(a.closing) })
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or "" before Start.
func (a *AdminAPI) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Uptime returns the API uptime in seconds.
func (a *AdminAPI) Uptime() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(time.Since(a.startTime).Seconds())
}
