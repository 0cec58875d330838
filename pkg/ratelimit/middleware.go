package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"github.com/getmockd/hookd/pkg/httputil"
)

// Middleware enforces l per client IP. A nil l passes every request through.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, retryAfter := l.Allow(ClientIP(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.Burst()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			httputil.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please slow down.")
		})
	}
}
