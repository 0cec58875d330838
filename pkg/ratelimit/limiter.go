// Package ratelimit throttles admin API clients with one token bucket per
// client IP.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultIdleTTL is how long a client's bucket survives without requests.
const DefaultIdleTTL = time.Minute

// Config configures a Limiter.
type Config struct {
	Rate  float64 // tokens per second; <= 0 disables limiting
	Burst int     // bucket capacity; <= 0 means twice the rate, at least 1
	// IdleTTL bounds how long an unused bucket is kept.
	IdleTTL time.Duration
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter tracks a token bucket per client IP. Idle buckets are swept while
// serving requests, so there is no background goroutine to stop.
type Limiter struct {
	rate    float64
	burst   float64
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// New returns a Limiter, or nil when cfg.Rate disables limiting. A nil
// Limiter allows everything.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		return nil
	}
	burst := float64(cfg.Burst)
	if burst <= 0 {
		burst = max(cfg.Rate*2, 1)
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	return &Limiter{
		rate:    cfg.Rate,
		burst:   burst,
		idleTTL: ttl,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Burst returns the bucket capacity.
func (l *Limiter) Burst() int {
	if l == nil {
		return 0
	}
	return int(l.burst)
}

// Allow consumes a token for key. When denied, retryAfter is how long until
// a token is available.
func (l *Limiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	if l == nil {
		return true, 0, 0
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)

	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, 0, wait
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops idle buckets at most once per idleTTL. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.buckets {
		if b.last.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// ignored; the admin API is not meant to sit behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
