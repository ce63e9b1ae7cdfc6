// Package ratelimit throttles outbound requests per host using token buckets.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenBucket holds up to capacity tokens and refills at refillRate tokens per second.
type TokenBucket struct {
	capacity   int
	refillRate float64
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

func newTokenBucket(capacity int, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     float64(capacity), // Start full so the first burst goes out immediately
		lastRefill: now(),
		now:        now,
	}
}

// refill must be called with mu held.
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	tb.tokens = min(float64(tb.capacity), tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now
}

// allow consumes a token if one is available.
func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// reserve consumes a token, going into debt if needed, and returns how long
// the caller must wait before the token is actually available.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	tb.tokens -= 1.0
	if tb.tokens >= 0 {
		return 0
	}
	return time.Duration(-tb.tokens / tb.refillRate * float64(time.Second))
}

// cancel returns a reserved token that was never used.
func (tb *TokenBucket) cancel() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = min(float64(tb.capacity), tb.tokens+1.0)
}

// remaining reports the whole tokens currently available.
func (tb *TokenBucket) remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens < 0 {
		return 0
	}
	return int(tb.tokens)
}

// Config holds throttle settings. A zero Rate disables throttling.
type Config struct {
	// Rate is the sustained requests per second allowed to a single host.
	Rate float64
	// Burst is the number of requests that may go out back to back. Values
	// below one are treated as one.
	Burst int
}

// Enabled reports whether the config throttles anything.
func (c Config) Enabled() bool {
	return c.Rate > 0
}

// Limiter keeps one bucket per host.
type Limiter struct {
	config  Config
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewLimiter creates a limiter, or returns nil when cfg is disabled.
// A nil *Limiter never blocks.
func NewLimiter(cfg Config) *Limiter {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Limiter{
		config:  cfg,
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Allow consumes a token for the URL's host without waiting.
func (l *Limiter) Allow(rawURL string) bool {
	if l == nil {
		return true
	}
	return l.bucket(Host(rawURL)).allow()
}

// Remaining reports the tokens left for the URL's host.
func (l *Limiter) Remaining(rawURL string) int {
	if l == nil {
		return 0
	}
	return l.bucket(Host(rawURL)).remaining()
}

// Wait blocks until a request to the URL's host may go out or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bucket := l.bucket(Host(rawURL))
	delay := bucket.reserve()
	if delay == 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		bucket.cancel()
		return err
	}
	return nil
}

func (l *Limiter) bucket(host string) *TokenBucket {
	l.mu.RLock()
	bucket, ok := l.buckets[host]
	l.mu.RUnlock()
	if ok {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.buckets[host]; ok {
		return existing
	}
	bucket = newTokenBucket(l.config.Burst, l.config.Rate, l.now)
	l.buckets[host] = bucket
	return bucket
}

// Host returns the lower-cased host:port a URL is throttled under. Unparseable
// URLs share a single empty key.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
