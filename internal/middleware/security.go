package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// SecurityHeaders adds the response headers every API reply carries.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			// Only uploads are served besides JSON.
			h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")

			return next(c)
		}
	}
}

// RateLimit allows each client IP n requests per window, refilling evenly.
func RateLimit(n int, window time.Duration) echo.MiddlewareFunc {
	store := echoMiddleware.NewRateLimiterMemoryStoreWithConfig(echoMiddleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(n) / window.Seconds()),
		Burst:     n,
		ExpiresIn: window,
	})
	retryAfter := strconv.Itoa(int(window.Seconds()))

	return echoMiddleware.RateLimiterWithConfig(echoMiddleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

// Lockout blocks a key for a while after too many consecutive failures. It is
// used for logins and bearer tokens, keyed by client IP.
type Lockout struct {
	mu       sync.Mutex
	failures map[string]*failureRecord
	max      int
	duration time.Duration
	now      func() time.Time
}

type failureRecord struct {
	count       int
	lockedUntil time.Time
	last        time.Time
}

// NewLockout locks a key for duration once it has failed max times in a row.
func NewLockout(max int, duration time.Duration) *Lockout {
	return &Lockout{
		failures: make(map[string]*failureRecord),
		max:      max,
		duration: duration,
		now:      time.Now,
	}
}

// Allowed reports whether key may try again, and if not, for how long it stays
// locked.
func (l *Lockout) Allowed(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.failures[key]
	if !ok {
		return true, 0
	}
	now := l.now()
	if wait := rec.lockedUntil.Sub(now); wait > 0 {
		return false, wait
	}
	if !rec.lockedUntil.IsZero() {
		delete(l.failures, key)
	}
	return true, 0
}

// Fail records a failure for key and locks it once the limit is reached.
func (l *Lockout) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	rec, ok := l.failures[key]
	if !ok {
		rec = &failureRecord{}
		l.failures[key] = rec
	}
	rec.count++
	rec.last = now
	if rec.count >= l.max {
		rec.lockedUntil = now.Add(l.duration)
	}
}

// Reset forgets the failures of key.
func (l *Lockout) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

// prune drops records that have been idle for two lockout periods.
func (l *Lockout) prune(now time.Time) {
	for key, rec := range l.failures {
		if now.Sub(rec.last) > 2*l.duration && now.After(rec.lockedUntil) {
			delete(l.failures, key)
		}
	}
}
