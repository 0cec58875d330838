// Option functions for configuring AdminAPI.

package admin

import (
	"log/slog"

	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/ratelimit"
	"github.com/getmockd/hookd/pkg/sharedstate"
)

// Option configures an AdminAPI.
type Option func(*AdminAPI)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *AdminAPI) {
		if log != nil {
			a.log = log
		}
	}
}

// WithEvents sets the bus the /api/events stream subscribes to. Without it
// the stream endpoint answers 503.
func WithEvents(bus *events.Bus) Option {
	return func(a *AdminAPI) { a.bus = bus }
}

// WithSharedState sets the shared state store. It should be the same
// instance the engine uses so serialized updates share one lock.
func WithSharedState(st *sharedstate.Store) Option {
	return func(a *AdminAPI) { a.state = st }
}

// WithEngine reports engine status on /api/status.
func WithEngine(e EngineStatus) Option {
	return func(a *AdminAPI) { a.engine = e }
}

// WithAuth configures authentication. Without it every request is
// authorized.
func WithAuth(cfg AuthConfig) Option {
	return func(a *AdminAPI) { a.authCfg = cfg }
}

// WithVersion sets the version reported by /api/status.
func WithVersion(v string) Option {
	return func(a *AdminAPI) { a.version = v }
}

// WithRateLimit throttles /api requests per client IP. /health is exempt.
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(a *AdminAPI) { a.limiter = l }
}
