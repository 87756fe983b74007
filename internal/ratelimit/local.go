package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	staleAfter             = 10 * time.Minute
)

// tokenBucket implements a simple per-key token bucket.
type tokenBucket struct {
	tokens   float64
	maxBurst float64
	rate     float64 // tokens per second
	lastSeen time.Time
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastSeen).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.maxBurst, b.tokens+elapsed*b.rate)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// LocalLimiter is a concurrent-safe in-memory per-key rate limiter.
type LocalLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	config   Config
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLocalLimiter creates a local limiter and starts background cleanup of
// idle buckets. Call Close to stop it.
func NewLocalLimiter(cfg Config) *LocalLimiter {
	l := newLocalLimiter(cfg, time.Now)
	go l.cleanup(defaultCleanupInterval)
	return l
}

func newLocalLimiter(cfg Config, now func() time.Time) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
		now:     now,
		stop:    make(chan struct{}),
	}
}

// Allow takes one token from key's bucket.
func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{
			tokens:   float64(l.config.Burst),
			maxBurst: float64(l.config.Burst),
			rate:     l.config.RequestsPerSecond,
			lastSeen: now,
		}
		l.buckets[key] = b
	}

	allowed := b.allow(now)
	res := Result{
		Allowed:   allowed,
		Remaining: int(math.Max(0, b.tokens)),
		Limit:     int(b.maxBurst),
	}
	if !allowed {
		res.ResetMs = 1000
		if b.rate > 0 {
			res.ResetMs = int64(math.Ceil((1.0 - b.tokens) / b.rate * 1000))
		}
	}
	return res, nil
}

func (l *LocalLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

// prune drops buckets idle for longer than staleAfter.
func (l *LocalLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-staleAfter)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *LocalLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}
