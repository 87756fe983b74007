package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLocalLimiter_AllowsBurstThenRejects(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLocalLimiter(Config{RequestsPerSecond: 1, Burst: 3}, clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, int64(1000), res.ResetMs)
	assert.Equal(t, int64(1), res.RetryAfter())
}

func TestLocalLimiter_Refills(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLocalLimiter(Config{RequestsPerSecond: 2, Burst: 1}, clock.Now)
	ctx := context.Background()

	res, _ := l.Allow(ctx, "k")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "k")
	assert.False(t, res.Allowed)

	clock.Advance(500 * time.Millisecond)
	res, _ = l.Allow(ctx, "k")
	assert.True(t, res.Allowed)
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLocalLimiter(Config{RequestsPerSecond: 1, Burst: 1}, clock.Now)
	ctx := context.Background()

	res, _ := l.Allow(ctx, "a")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "a")
	assert.False(t, res.Allowed)

	res, _ = l.Allow(ctx, "b")
	assert.True(t, res.Allowed)
}

func TestLocalLimiter_PruneDropsIdleBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLocalLimiter(Config{RequestsPerSecond: 1, Burst: 1}, clock.Now)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "old")
	clock.Advance(staleAfter + time.Second)
	_, _ = l.Allow(ctx, "fresh")

	l.prune()
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}

func TestLocalLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewLocalLimiter(DefaultConfig())
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestResult_RetryAfterRoundsUp(t *testing.T) {
	assert.Equal(t, int64(1), Result{ResetMs: 0}.RetryAfter())
	assert.Equal(t, int64(1), Result{ResetMs: 1}.RetryAfter())
	assert.Equal(t, int64(2), Result{ResetMs: 1001}.RetryAfter())
}

func TestConfig_WindowBudget(t *testing.T) {
	assert.Equal(t, 300, Config{RequestsPerSecond: 5, Burst: 20, Window: time.Minute}.windowBudget())
	assert.Equal(t, 20, Config{RequestsPerSecond: 0.1, Burst: 20, Window: time.Minute}.windowBudget())
	assert.Equal(t, 1, Config{}.windowBudget())
}

func TestNewRedisLimiter_RequiresClient(t *testing.T) {
	_, err := NewRedisLimiter(nil, DefaultConfig(), RedisOptions{})
	assert.Error(t, err)
}

// testRedisClient returns a client for REDIS_URL or skips the test.
func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping Redis integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client
}

func TestRedisLimiter_EnforcesWindowBudget(t *testing.T) {
	client := testRedisClient(t)
	l, err := NewRedisLimiter(client, Config{RequestsPerSecond: 0, Burst: 3, Window: time.Minute}, RedisOptions{
		KeyPrefix: "tokengate:test:rl:" + uuid.NewString() + ":",
		Timeout:   time.Second,
	})
	require.NoError(t, err)
	// Pin the clock to the start of a window so the previous window weighs in fully at zero.
	start := time.Now().Truncate(time.Minute)
	l.now = func() time.Time { return start }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "9.9.9.9")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i+1)
	}

	res, err := l.Allow(ctx, "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, int64(60_000), res.ResetMs)

	res, err = l.Allow(ctx, "8.8.8.8")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
