package middleware

import (
	"net/http"
	"sync"
	"time"
)

// fixed-window counter per key, cleaned up lazily to bound map growth
type window struct {
	count int
	start time.Time
}

type limiter struct {
	mu          sync.Mutex
	m           map[string]window
	lastCleanup time.Time
	perMinute   int
}

func newLimiter(perMinute int) *limiter {
	return &limiter{m: make(map[string]window), perMinute: perMinute}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.lastCleanup) > 2*time.Minute {
		l.lastCleanup = now
		cutoff := now.Add(-2 * time.Minute)
		for k, e := range l.m {
			if e.start.Before(cutoff) {
				delete(l.m, k)
			}
		}
	}
	e := l.m[key]
	if now.Sub(e.start) > time.Minute {
		e = window{count: 1, start: now}
	} else {
		e.count++
	}
	l.m[key] = e
	return e.count <= l.perMinute
}

func limit(l *limiter, key func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k != "" && !l.allow(k) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP limits N requests per minute per client IP. Use for public routes.
func RateLimitByIP(requestsPerMinute int) func(next http.Handler) http.Handler {
	l := newLimiter(requestsPerMinute)
	return limit(l, func(r *http.Request) string { return "ip:" + clientIP(r) })
}

// RateLimitByOwner limits N requests per minute per resolved ledger owner.
// Requests without an owner fall through unlimited (they are rejected later).
func RateLimitByOwner(requestsPerMinute int) func(next http.Handler) http.Handler {
	l := newLimiter(requestsPerMinute)
	return limit(l, func(r *http.Request) string {
		if owner, ok := Owner(r.Context()); ok {
			return owner
		}
		return ""
	})
}
