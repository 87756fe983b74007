// Package ratelimit limits how often a single client may call the token
// endpoint.
//
// LocalLimiter keeps a per-key token bucket in memory and is correct for a
// single tokengated instance. RedisLimiter keeps a sliding window counter in
// Redis so every replica behind a load balancer shares one budget per client.
// Both satisfy Limiter, which is what the HTTP middleware consumes.
package ratelimit

import (
	"context"
	"time"
)

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool  // Whether the request is allowed.
	Remaining int   // Approximate requests remaining before the limit is hit.
	ResetMs   int64 // Milliseconds until a request would be allowed (0 if allowed).
	Limit     int   // Bucket capacity or window budget.
}

// RetryAfter returns the Retry-After value in whole seconds, never below one.
func (r Result) RetryAfter() int64 {
	secs := (r.ResetMs + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
	Close() error
}

// Config holds limiter configuration shared across implementations.
type Config struct {
	RequestsPerSecond float64       // Token refill rate.
	Burst             int           // Bucket capacity.
	Window            time.Duration // Sliding window size for the Redis limiter.
}

// DefaultConfig returns the limits used when nothing is configured:
// 5 req/s with a burst of 20. Credential issuance is not a hot path.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             20,
		Window:            time.Minute,
	}
}

// windowBudget is the number of requests the Redis limiter allows per window.
func (c Config) windowBudget() int {
	n := int(c.RequestsPerSecond * c.Window.Seconds())
	if n < c.Burst {
		n = c.Burst
	}
	if n < 1 {
		n = 1
	}
	return n
}
