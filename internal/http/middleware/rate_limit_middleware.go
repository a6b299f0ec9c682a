package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"flash-sale-reservation-service/internal/http/response"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter counts hits per key inside a fixed window. Implementations must be
// safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type FailureMode string

const (
	// FailOpen lets traffic through when the limiter backend is down; used
	// for the broad API limit where availability beats precision.
	FailOpen FailureMode = "fail_open"
	// FailClosed rejects when the backend is down; used for the reserve
	// endpoint where an unthrottled stampede is the worse failure.
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewScopedRateLimiter(NewLocalFixedWindowLimiter(), limit, window, FailClosed, "api", nil)
}

func NewScopedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string, keyFunc func(r *http.Request) string) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{limiter: limiter, limit: limit, window: window, mode: mode, scope: scope, keyFunc: keyFunc}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.limit, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing",
						"scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				slog.WarnContext(r.Context(), "rate limiter backend unavailable, rejecting",
					"scope", rl.scope, "error", err)
				w.Header().Set("Retry-After", retryAfterHeader(rl.window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}

			writeRateLimitHeaders(w.Header(), rl.limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserOrIPKeyFunc throttles per authenticated user so one buyer cannot hog a
// shared NAT's budget, falling back to the client IP before authentication.
func UserOrIPKeyFunc(r *http.Request) string {
	if user, ok := UserFromContext(r.Context()); ok {
		return fmt.Sprintf("user:%d", user.ID)
	}
	return clientIPKey(r)
}

type localFixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]*localWindow
	sweepAt time.Time
}

type localWindow struct {
	count   int
	startAt time.Time
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		windows: make(map[string]*localWindow),
		sweepAt: time.Now().Add(time.Minute),
	}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		for k, w := range l.windows {
			if now.Sub(w.startAt) > 2*window {
				delete(l.windows, k)
			}
		}
		l.sweepAt = now.Add(window)
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.startAt) >= window {
		w = &localWindow{startAt: now}
		l.windows[key] = w
	}
	resetAt := w.startAt.Add(window)

	if w.count >= limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}, nil
	}
	w.count++
	return Decision{
		Allowed:   true,
		Remaining: limit - w.count,
		ResetAt:   resetAt,
	}, nil
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int, resetAt time.Time) {
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}
