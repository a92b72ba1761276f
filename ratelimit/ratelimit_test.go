package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mutex sync.Mutex
	t     time.Time
}

func (c *clock) now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestMemoryLimiterAllowsExactlyLimit(t *testing.T) {
	c := newClock()
	limiter := newMemoryLimiter(c.now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i+1, res.Count)
		c.advance(10 * time.Second)
	}

	res, err := limiter.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	// oldest at t0, now t0+30s
	assert.Equal(t, 30*time.Second, res.RetryAfter)
}

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	c := newClock()
	limiter := newMemoryLimiter(c.now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, _ := limiter.Allow(ctx, "k", 2, time.Minute)
		require.True(t, res.Allowed)
	}

	res, _ := limiter.Allow(ctx, "k", 2, time.Minute)
	assert.False(t, res.Allowed)

	c.advance(time.Minute)
	res, _ = limiter.Allow(ctx, "k", 2, time.Minute)
	assert.True(t, res.Allowed)

	// other keys are independent
	res, _ = limiter.Allow(ctx, "other", 2, time.Minute)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterConcurrentSameKey(t *testing.T) {
	limiter := newMemoryLimiter(time.Now)
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Allow(ctx, "race", 10, time.Hour)
			if err == nil && res.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), allowed)
}

func TestMemoryLimiterSweep(t *testing.T) {
	c := newClock()
	limiter := newMemoryLimiter(c.now)

	_, _ = limiter.Allow(context.Background(), "k", 1, time.Minute)
	c.advance(2 * time.Minute)
	limiter.sweep()

	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	assert.Empty(t, limiter.windows)
}

func TestMemoryLimiterCanceledContext(t *testing.T) {
	limiter := newMemoryLimiter(time.Now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Allow(ctx, "k", 1, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := newClock()
	limiter := NewRedisLimiter(client)
	limiter.now = c.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, UserGameKey("valorant", "user-1"), 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		c.advance(5 * time.Second)
	}

	res, err := limiter.Allow(ctx, UserGameKey("valorant", "user-1"), 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 45*time.Second, res.RetryAfter)

	c.advance(46 * time.Second)
	res, err = limiter.Allow(ctx, UserGameKey("valorant", "user-1"), 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "verify:valorant:u1", UserGameKey("VALORANT", "u1"))
	assert.Equal(t, "ip:10.0.0.1", IPKey("10.0.0.1"))
}
