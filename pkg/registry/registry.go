// Package registry holds the handler matching rules: which HTTP handlers
// apply to a request, in what precedence, and which TCP handler is active.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/logging"
	"github.com/getmockd/hookd/pkg/store"
)

// Match is a handler selected for a request, with the path parameters its
// pattern bound.
type Match struct {
	Handler *handler.Handler
	Params  map[string]string
}

// Registry answers matching queries against the handler store. It reads the
// store on every query, so edits take effect on the next request.
type Registry struct {
	handlers store.HandlerStore
	log      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New creates a Registry over hs.
func New(hs store.HandlerStore, opts ...Option) *Registry {
	r := &Registry{handlers: hs, log: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MatchHTTP returns every handler matching method and path in execution
// order. See Select for the rules.
func (r *Registry) MatchHTTP(ctx context.Context, method, path string) ([]Match, error) {
	all, err := r.handlers.ListHTTP(ctx)
	if err != nil {
		return nil, err
	}
	matches := Select(all, method, path)
	r.log.Debug("matched handlers", "method", method, "path", path, "count", len(matches))
	return matches, nil
}

// ActiveTCP returns the active TCP handler, or nil when none is enabled.
func (r *Registry) ActiveTCP(ctx context.Context) (*handler.TCPHandler, error) {
	h, err := r.handlers.ActiveTCP(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return h, err
}

// Select filters handlers to the candidates for method and path and sorts
// them into execution order, least specific first so the most specific
// handler has the last word:
//
//  1. the wildcard path before a concrete path
//  2. a shorter path pattern before a longer one
//  3. the wildcard method before a concrete method
//  4. a lower Order first
//
// A handler is a candidate when its method equals method or is "*", and its
// path is "*" or a prefix of path. Patterns with ":name" segments compare
// segment by segment, binding each named segment; the final literal segment
// of a pattern may match as a prefix.
func Select(handlers []*handler.Handler, method, path string) []Match {
	var out []Match
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if h.Method != handler.Wildcard && !strings.EqualFold(h.Method, method) {
			continue
		}
		params, ok := MatchPath(h.Path, path)
		if !ok {
			continue
		}
		out = append(out, Match{Handler: h, Params: params})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Handler, out[j].Handler
		if a.IsWildcardPath() != b.IsWildcardPath() {
			return a.IsWildcardPath()
		}
		if len(a.Path) != len(b.Path) {
			return len(a.Path) < len(b.Path)
		}
		if a.IsWildcardMethod() != b.IsWildcardMethod() {
			return a.IsWildcardMethod()
		}
		return a.Order < b.Order
	})
	return out
}

// MatchPath reports whether pattern applies to path and returns the bound
// parameters. The returned map is never nil on a match.
func MatchPath(pattern, path string) (map[string]string, bool) {
	params := map[string]string{}
	if pattern == handler.Wildcard {
		return params, true
	}
	if !strings.Contains(pattern, "/:") {
		return params, strings.HasPrefix(path, pattern)
	}

	patSegs := strings.Split(pattern, "/")
	pathSegs := strings.Split(path, "/")
	if len(pathSegs) < len(patSegs) {
		return nil, false
	}

	last := len(patSegs) - 1
	for i, ps := range patSegs {
		seg := pathSegs[i]
		switch {
		case strings.HasPrefix(ps, ":"):
			if seg == "" {
				return nil, false
			}
			params[ps[1:]] = seg
		case i == last:
			if !strings.HasPrefix(seg, ps) {
				return nil, false
			}
		case seg != ps:
			return nil, false
		}
	}
	return params, true
}
