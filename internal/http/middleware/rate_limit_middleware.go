package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/throttlecove/throttlecove/internal/http/response"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts hits per key in a fixed window. The local implementation
// keeps counters in process memory; the redis one shares them across
// replicas so a brute-force run cannot dodge the limit by hitting different
// instances.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type localWindow struct {
	count   int
	resetAt time.Time
}

type localFixedWindowLimiter struct {
	mu      sync.Mutex
	store   map[string]*localWindow
	cleanup time.Time
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{
		store:   make(map[string]*localWindow),
		cleanup: time.Now().Add(time.Minute),
	}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.cleanup) {
		for k, w := range l.store {
			if now.After(w.resetAt) {
				delete(l.store, k)
			}
		}
		l.cleanup = now.Add(time.Minute)
	}
	w, ok := l.store[key]
	if !ok || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		l.store[key] = w
	}
	w.count++
	if w.count > limit {
		return Decision{Allowed: false, RetryAfter: time.Until(w.resetAt)}, nil
	}
	return Decision{Allowed: true}, nil
}

type RateLimiter struct {
	limiter Limiter
	name    string
	limit   int
	window  time.Duration
	mode    FailureMode
	keyFunc func(r *http.Request) string
}

// NewRateLimiter builds a per-client-IP fixed-window limit of rpm requests
// per minute. The name namespaces the counters so limiters sharing one
// backend never cross-count.
func NewRateLimiter(limiter Limiter, name string, rpm int, mode FailureMode) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		name:    name,
		limit:   rpm,
		window:  time.Minute,
		mode:    mode,
		keyFunc: clientIP,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.name+":"+rl.keyFunc(r), rl.limit, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				response.Error(w, r, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", nil)
				return
			}
			if !decision.Allowed {
				retry := int(decision.RetryAfter.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
