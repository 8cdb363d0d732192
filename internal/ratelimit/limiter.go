// Package ratelimit provides fixed-window request quotas per identity and
// route class.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket counts requests inside one window.
type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter manages fixed-window buckets keyed by (identity, route class). All
// classes share one window length; each class has its own ceiling.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	limits  map[string]int
	now     func() time.Time
}

// NewLimiter creates a limiter. Classes missing from limits are not limited.
func NewLimiter(window time.Duration, limits map[string]int) *Limiter {
	copied := make(map[string]int, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		limits:  copied,
		now:     time.Now,
	}
}

// Allow records one request for (identity, class). When the ceiling is
// already reached it returns false and how long until the window resets.
func (l *Limiter) Allow(identity, class string) (bool, time.Duration) {
	limit, ok := l.limits[class]
	if !ok || limit <= 0 {
		return true, 0
	}

	key := identity + "|" + class
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	if b.count >= limit {
		return false, b.resetAt.Sub(now)
	}
	b.count++
	return true, 0
}

// Sweep removes buckets whose window has ended and returns how many it removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RunJanitor sweeps expired buckets every window until ctx is done.
func (l *Limiter) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
