// Package ratelimit implements per-key admission control in front of the
// request pipeline. Rejection is an ordinary Decision, never an error.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultLimit  = 100
	DefaultWindow = time.Minute

	shardCount = 64
)

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Admitter admits or rejects a request for key at instant now.
type Admitter interface {
	Admit(ctx context.Context, key string, now time.Time) Decision
}

var _ Admitter = (*FixedWindow)(nil)

type entry struct {
	count       int
	windowStart time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// FixedWindow counts requests per key in fixed windows. Keys are spread over
// independently locked shards, so unrelated keys rarely contend and a single
// key's counter is mutated under one lock.
type FixedWindow struct {
	limit  int
	window time.Duration
	shards [shardCount]shard
}

// NewFixedWindow returns a limiter admitting limit requests per window per
// key. Non-positive arguments fall back to 100 per minute.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	fw := &FixedWindow{limit: limit, window: window}
	for i := range fw.shards {
		fw.shards[i].entries = make(map[string]*entry)
	}
	return fw
}

func (fw *FixedWindow) shardFor(key string) *shard {
	return &fw.shards[xxhash.Sum64String(key)%shardCount]
}

// Admit records a request for key. A full window rejects without counting
// and without moving the window start.
func (fw *FixedWindow) Admit(_ context.Context, key string, now time.Time) Decision {
	s := fw.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{windowStart: now}
		s.entries[key] = e
	} else if now.Sub(e.windowStart) > fw.window {
		e.count = 0
		e.windowStart = now
	}

	resetAt := e.windowStart.Add(fw.window)
	if e.count >= fw.limit {
		return Decision{
			Allowed:    false,
			Limit:      fw.limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}
	}
	e.count++
	return Decision{
		Allowed:   true,
		Limit:     fw.limit,
		Remaining: fw.limit - e.count,
		ResetAt:   resetAt,
	}
}

// Count returns the admitted requests recorded for key in its current window.
func (fw *FixedWindow) Count(key string) int {
	s := fw.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.count
	}
	return 0
}

// Len returns the number of tracked keys.
func (fw *FixedWindow) Len() int {
	n := 0
	for i := range fw.shards {
		s := &fw.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Sweep drops keys whose window has lapsed at now and returns how many were
// removed. A dropped key behaves exactly like one whose window was reset.
func (fw *FixedWindow) Sweep(now time.Time) int {
	removed := 0
	for i := range fw.shards {
		s := &fw.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if now.Sub(e.windowStart) > fw.window {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled. onSweep, if set, receives
// the number of evicted keys and the number still tracked.
func (fw *FixedWindow) Run(ctx context.Context, interval time.Duration, onSweep func(removed, tracked int)) {
	if interval <= 0 {
		interval = fw.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := fw.Sweep(now)
			if onSweep != nil {
				onSweep(removed, fw.Len())
			}
		}
	}
}

func retryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
