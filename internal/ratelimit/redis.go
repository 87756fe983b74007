package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces rate limit counters in a shared Redis.
const DefaultRedisKeyPrefix = "tokengate:rl:"

// RedisLimiter implements distributed rate limiting with a sliding window
// counter:
//
//  1. Counter key is "{prefix}{key}:{window_start_unix}".
//  2. INCR the current window's counter and GET the previous one.
//  3. Weighted count = prev * (1 - elapsed fraction of current window) + current.
//  4. The request is allowed while the weighted count stays within the budget.
//  5. Counters expire after two windows.
//
// The limiter does not own the client; Close is a no-op.
type RedisLimiter struct {
	client  *redis.Client
	config  Config
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

// RedisOptions tunes a RedisLimiter.
type RedisOptions struct {
	KeyPrefix string        // default DefaultRedisKeyPrefix
	Timeout   time.Duration // per-check timeout, default 100ms
}

// NewRedisLimiter creates a distributed limiter on an existing client.
func NewRedisLimiter(client *redis.Client, cfg Config, opts RedisOptions) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultRedisKeyPrefix
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 100 * time.Millisecond
	}
	return &RedisLimiter{
		client:  client,
		config:  cfg,
		prefix:  opts.KeyPrefix,
		timeout: opts.Timeout,
		now:     time.Now,
	}, nil
}

func (r *RedisLimiter) windowKey(key string, start time.Time) string {
	return r.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)
}

// Allow counts the request against key's current window.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	window := r.config.Window
	now := r.now()
	start := now.Truncate(window)
	prevStart := start.Add(-window)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, r.windowKey(key, start))
	pipe.Expire(ctx, r.windowKey(key, start), 2*window)
	prev := pipe.Get(ctx, r.windowKey(key, prevStart))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	prevCount, err := prev.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}

	elapsed := float64(now.Sub(start)) / float64(window)
	weighted := float64(prevCount)*(1-elapsed) + float64(incr.Val())
	budget := r.config.windowBudget()

	res := Result{
		Allowed:   weighted <= float64(budget),
		Remaining: int(math.Max(0, float64(budget)-weighted)),
		Limit:     budget,
	}
	if !res.Allowed {
		res.ResetMs = start.Add(window).Sub(now).Milliseconds()
	}
	return res, nil
}

// Close is a no-op; the caller owns the Redis client.
func (r *RedisLimiter) Close() error {
	return nil
}
