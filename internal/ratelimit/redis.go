package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps failures talking to Redis.
var ErrRedisUnavailable = errors.New("ratelimit: redis unavailable")

var _ Admitter = (*RedisWindow)(nil)

const boundarySlack = time.Millisecond

// admitScript runs the fixed-window check atomically: a full window is
// reported without incrementing, and the TTL is only set by the first hit.
var admitScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

// RedisWindow is a FixedWindow shared across processes through Redis. Key
// expiry doubles as eviction. Keys live one millisecond past the window so the
// reset happens strictly after windowStart+window, as in FixedWindow. When
// Redis cannot be reached the request is admitted and the error is handed to
// onError.
type RedisWindow struct {
	rdb     redis.UniversalClient
	prefix  string
	limit   int
	window  time.Duration
	onError func(error)
}

// NewRedisWindow builds a Redis-backed limiter. Keys are stored as prefix+key.
func NewRedisWindow(rdb redis.UniversalClient, prefix string, limit int, window time.Duration, onError func(error)) *RedisWindow {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisWindow{
		rdb:     rdb,
		prefix:  prefix,
		limit:   limit,
		window:  window,
		onError: onError,
	}
}

func (rw *RedisWindow) Admit(ctx context.Context, key string, now time.Time) Decision {
	keyTTL := rw.window + boundarySlack
	res, err := admitScript.Run(ctx, rw.rdb, []string{rw.prefix + key}, rw.limit, keyTTL.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected script reply %v", res)
	}
	if err != nil {
		if rw.onError != nil {
			rw.onError(fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
		}
		return Decision{Allowed: true, Limit: rw.limit, Remaining: rw.limit, ResetAt: now.Add(rw.window)}
	}

	allowed, count, ttl := res[0] == 1, int(res[1]), time.Duration(res[2])*time.Millisecond
	if ttl < 0 {
		ttl = keyTTL
	}
	if ttl -= boundarySlack; ttl < 0 {
		ttl = 0
	}
	resetAt := now.Add(ttl)
	if !allowed {
		return Decision{
			Allowed:    false,
			Limit:      rw.limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(resetAt, now),
		}
	}
	return Decision{
		Allowed:   true,
		Limit:     rw.limit,
		Remaining: rw.limit - count,
		ResetAt:   resetAt,
	}
}
