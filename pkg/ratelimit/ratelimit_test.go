package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(cfg)
	require.NotNil(t, l)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l.now = clock.now
	return l, clock
}

func TestNew_Disabled(t *testing.T) {
	l := New(Config{})
	assert.Nil(t, l)

	ok, _, _ := l.Allow("1.2.3.4")
	assert.True(t, ok)
	assert.Zero(t, l.Burst())
	assert.Zero(t, l.Len())
}

func TestNew_DefaultBurst(t *testing.T) {
	assert.Equal(t, 10, New(Config{Rate: 5}).Burst())
	assert.Equal(t, 1, New(Config{Rate: 0.1}).Burst())
	assert.Equal(t, 3, New(Config{Rate: 5, Burst: 3}).Burst())
}

func TestAllow_ExhaustsAndRefills(t *testing.T) {
	l, clock := newTestLimiter(t, Config{Rate: 2, Burst: 2})

	ok, remaining, _ := l.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _ = l.Allow("a")
	assert.True(t, ok)

	ok, _, retry := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, retry)

	ok, _, _ = l.Allow("b")
	assert.True(t, ok, "clients are independent")

	clock.advance(500 * time.Millisecond)
	ok, _, _ = l.Allow("a")
	assert.True(t, ok)
}

func TestAllow_SweepsIdleClients(t *testing.T) {
	l, clock := newTestLimiter(t, Config{Rate: 1, IdleTTL: time.Second})
	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	clock.advance(2 * time.Second)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "9.9.9.9")
	assert.Equal(t, "10.1.2.3", ClientIP(r))

	r.RemoteAddr = "[::1]:80"
	assert.Equal(t, "::1", ClientIP(r))

	r.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(r))
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(t, Config{Rate: 1, Burst: 1})
	h := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestMiddleware_NilPassesThrough(t *testing.T) {
	called := 0
	h := Middleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called++ }))
	for range 5 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Equal(t, 5, called)
}
