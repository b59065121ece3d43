package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// LocalLimiter meters requests in process. It backs the local failure policy,
// so each gateway instance enforces the quota on its own while the shared
// counter store is down.
type LocalLimiter struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	limiter  *rate.Limiter
	limit    int
	lastSeen time.Time
}

// NewLocalLimiter creates an in-process limiter whose quotas refill over window
func NewLocalLimiter(window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		window:  window,
		entries: make(map[string]*localEntry),
	}
}

// Allow meters one request for key against a quota of limit per window. The
// full quota is available as a burst and refills evenly across the window.
func (l *LocalLimiter) Allow(key string, limit int) RateLimitDecision {
	now := time.Now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok || e.limit != limit {
		e = &localEntry{
			limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(limit)), limit),
			limit:   limit,
		}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	remaining := int(e.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitDecision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		Reset:     l.window / time.Duration(limit),
	}
}

// Len returns the number of tracked keys
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cleanup removes limiters idle for longer than two windows
func (l *LocalLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > l.window*2 {
			delete(l.entries, key)
		}
	}
}

// StartCleanup evicts idle limiters once per window until ctx is cancelled
func (l *LocalLimiter) StartCleanup(ctx context.Context, logger *observability.Logger) *async.Task {
	return async.Every(ctx, logger, "local-limiter-cleanup", l.window, func(context.Context) {
		l.Cleanup()
	})
}
