// Package ratelimit gates remote calls behind a token-bucket limiter
// with independent request and token budgets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time. Injectable for deterministic tests.
type Clock func() time.Time

// Sleep suspends the caller for d, returning early with the context's
// error when cancelled. Injectable for deterministic tests.
type Sleep func(ctx context.Context, d time.Duration) error

// Config configures a Limiter
type Config struct {
	// RequestsPerMinute is the steady request quota. Required.
	RequestsPerMinute float64

	// TokensPerMinute is the steady model-token quota. Zero disables
	// the token bucket.
	TokensPerMinute float64

	// Burst is the bucket capacity. Defaults to 1.
	Burst float64

	Clock Clock
	Sleep Sleep
}

// bucket is a single lazily refilled token bucket. Levels may go
// negative: Acquire reserves capacity up front and the computed wait
// covers the deficit.
type bucket struct {
	level    float64
	capacity float64
	rate     float64 // units per second
	last     time.Time
}

// refill credits the bucket for the time elapsed since the last acquire.
// Refill is lazy: there is no background timer, so the limiter has zero
// cost when idle.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.level += elapsed * b.rate
	if b.level > b.capacity {
		b.level = b.capacity
	}
	b.last = now
}

// reserve debits n units and returns how long the caller must wait for
// the deficit to refill
func (b *bucket) reserve(n float64) time.Duration {
	var wait time.Duration
	if n > b.level {
		wait = time.Duration((n - b.level) / b.rate * float64(time.Second))
	}
	b.level -= n
	return wait
}

// Limiter is a token-bucket gate placed in front of remote calls. The
// request bucket always applies; the token bucket applies only when a
// tokens-per-minute quota was configured. Bucket state is lock-guarded
// since refill computation reads then writes.
type Limiter struct {
	logger *zap.Logger

	mu       sync.Mutex
	requests bucket
	tokens   *bucket

	clock Clock
	sleep Sleep
}

// NewLimiter creates a limiter from cfg
func NewLimiter(cfg Config, logger *zap.Logger) (*Limiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %v", cfg.RequestsPerMinute)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}

	now := clock()
	l := &Limiter{
		logger: logger.Named("ratelimit"),
		requests: bucket{
			level:    burst,
			capacity: burst,
			rate:     cfg.RequestsPerMinute / 60.0,
			last:     now,
		},
		clock: clock,
		sleep: sleep,
	}
	if cfg.TokensPerMinute > 0 {
		capacity := cfg.TokensPerMinute
		if cfg.Burst > 1 {
			capacity = cfg.Burst
		}
		l.tokens = &bucket{
			level:    capacity,
			capacity: capacity,
			rate:     cfg.TokensPerMinute / 60.0,
			last:     now,
		}
	}
	return l, nil
}

// Acquire blocks until the limiter can admit one request consuming the
// given number of model tokens, then debits both budgets. The wait is
// max(0, (n-available)/rate) per bucket and is never clamped; the retry
// controller's delay cap does not apply here.
// Cancellation through ctx aborts the wait.
func (l *Limiter) Acquire(ctx context.Context, tokens float64) error {
	l.mu.Lock()
	now := l.clock()
	l.requests.refill(now)
	wait := l.requests.reserve(1)
	if l.tokens != nil && tokens > 0 {
		l.tokens.refill(now)
		if w := l.tokens.reserve(tokens); w > wait {
			wait = w
		}
	}
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	l.logger.Debug("Rate limit wait",
		zap.Duration("wait", wait),
		zap.Float64("tokens", tokens))

	if err := l.sleep(ctx, wait); err != nil {
		return fmt.Errorf("rate limit wait aborted: %w", err)
	}
	return nil
}

// EstimateTokens gives a coarse model-token estimate for a prompt.
// Providers bill roughly one token per four characters of text.
func EstimateTokens(text string) float64 {
	return float64(len(text)) / 4.0
}
