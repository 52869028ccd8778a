package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisWindowFixedWindowSemantics(t *testing.T) {
	mr, rdb := newMiniredis(t)
	rw := NewRedisWindow(rdb, "rl:", 3, time.Minute, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 1; i <= 3; i++ {
		d := rw.Admit(ctx, "10.0.0.1:/api/cart", now)
		require.Truef(t, d.Allowed, "request %d rejected", i)
		assert.Equal(t, 3-i, d.Remaining)
	}
	d := rw.Admit(ctx, "10.0.0.1:/api/cart", now)
	require.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	count, err := rdb.Get(ctx, "rl:10.0.0.1:/api/cart").Int()
	require.NoError(t, err)
	assert.Equal(t, 3, count, "rejections must not be counted")

	mr.FastForward(time.Minute + time.Millisecond)
	d = rw.Admit(ctx, "10.0.0.1:/api/cart", now.Add(time.Minute))
	require.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisWindowResetsStrictlyAfterWindow(t *testing.T) {
	mr, rdb := newMiniredis(t)
	rw := NewRedisWindow(rdb, "rl:", 1, time.Minute, nil)
	fw := NewFixedWindow(1, time.Minute)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	require.True(t, rw.Admit(ctx, "k", start).Allowed)
	require.True(t, fw.Admit(ctx, "k", start).Allowed)

	mr.FastForward(time.Minute)
	atBoundary := start.Add(time.Minute)
	assert.False(t, rw.Admit(ctx, "k", atBoundary).Allowed, "redis reset at the boundary instant")
	assert.False(t, fw.Admit(ctx, "k", atBoundary).Allowed, "memory reset at the boundary instant")

	mr.FastForward(time.Millisecond)
	after := atBoundary.Add(time.Millisecond)
	assert.True(t, rw.Admit(ctx, "k", after).Allowed)
	assert.True(t, fw.Admit(ctx, "k", after).Allowed)
}

func TestRedisWindowFailsOpen(t *testing.T) {
	mr, rdb := newMiniredis(t)
	var reported error
	rw := NewRedisWindow(rdb, "rl:", 1, time.Minute, func(err error) { reported = err })
	mr.Close()

	d := rw.Admit(context.Background(), "k", time.Now())
	assert.True(t, d.Allowed)
	require.Error(t, reported)
	assert.True(t, errors.Is(reported, ErrRedisUnavailable))
}

func TestThrottleBurstAndRefill(t *testing.T) {
	th := NewThrottle(2, 6, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, th.Allow("alice@example.com", now))
	assert.True(t, th.Allow("alice@example.com", now))
	assert.False(t, th.Allow("alice@example.com", now))
	assert.True(t, th.Allow("bob@example.com", now))

	// 6 per minute refills one attempt every 10s.
	assert.True(t, th.Allow("alice@example.com", now.Add(10*time.Second)))

	assert.Equal(t, 0, th.Sweep(now.Add(time.Minute)))
	assert.Equal(t, 2, th.Sweep(now.Add(2*time.Minute)))
}

func TestThrottleDisabled(t *testing.T) {
	th := NewThrottle(0, 0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, th.Allow("k", time.Now()))
	}
	var nilThrottle *Throttle
	assert.True(t, nilThrottle.Allow("k", time.Now()))
}
