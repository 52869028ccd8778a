package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a token bucket per key, used to slow down repeated login
// attempts for the same identifier. Idle buckets are evicted by Sweep.
type Throttle struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	ttl     time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewThrottle allows burst attempts, refilled at perMinute per minute. A
// non-positive burst disables throttling.
func NewThrottle(burst int, perMinute float64, ttl time.Duration) *Throttle {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Throttle{
		perSec:  rate.Limit(perMinute / 60),
		burst:   burst,
		ttl:     ttl,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one attempt for key at now.
func (t *Throttle) Allow(key string, now time.Time) bool {
	if t == nil || t.burst <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(t.perSec, t.burst)}
		t.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Sweep evicts buckets idle for longer than the ttl.
func (t *Throttle) Sweep(now time.Time) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, b := range t.buckets {
		if now.Sub(b.seen) > t.ttl {
			delete(t.buckets, k)
			removed++
		}
	}
	return removed
}
