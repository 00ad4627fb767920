// Package retry wraps remote calls with rate-limit-aware retry. Failures
// are classified against known provider patterns; transient failures are
// retried after a delay extracted from the provider's own error text.
package retry

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by NewController when fields are zero
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 60 * time.Second
	DefaultMaxRetryDelay = 300 * time.Second
)

// rateLimitPatterns match provider error text indicating a rate-limit
// condition. Matching is case-insensitive on the lowered message.
var rateLimitPatterns = []string{
	"429",
	"rate limit",
	"rate_limit",
	"resource exhausted",
	"resource_exhausted",
	"tokens per minute",
	"too many requests",
	"quota exceeded",
}

// Delay hints are tried in order: a structured retryDelay field, a
// Retry-After style value, then free-text phrasings.
var delayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)s?"`),
	regexp.MustCompile(`(?i)retry-after[:=]?\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)retry after\s+(\d+(?:\.\d+)?)\s*second`),
	regexp.MustCompile(`(?i)wait\s+(\d+(?:\.\d+)?)\s*second`),
	regexp.MustCompile(`(?i)try again in\s+(\d+(?:\.\d+)?)`),
}

// Sleep suspends the caller for d, returning early with the context's
// error when cancelled. Injectable for deterministic tests.
type Sleep func(ctx context.Context, d time.Duration) error

// Config configures a Controller
type Config struct {
	// MaxRetries bounds retry attempts after the first call.
	MaxRetries int

	// RetryDelay is used when no delay hint can be parsed from the
	// provider error.
	RetryDelay time.Duration

	// MaxRetryDelay clamps any parsed delay to bound worst-case
	// latency.
	MaxRetryDelay time.Duration

	Sleep Sleep
}

// Controller retries rate-limited remote calls with provider-derived
// backoff. Non-rate-limit errors propagate immediately.
type Controller struct {
	logger        *zap.Logger
	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	sleep         Sleep
}

// NewController creates a controller with defaults applied
func NewController(cfg Config, logger *zap.Logger) *Controller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
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
	return &Controller{
		logger:        logger.Named("retry"),
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		sleep:         cfg.Sleep,
	}
}

// IsRateLimit reports whether err looks like a provider rate-limit
// condition
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ParseDelay extracts a provider-supplied retry delay hint from an error
// message. Returns the fallback when nothing matches. The result is
// clamped to max.
func ParseDelay(msg string, fallback, max time.Duration) time.Duration {
	delay := fallback
	for _, re := range delayPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		delay = time.Duration(secs * float64(time.Second))
		break
	}
	if delay > max {
		delay = max
	}
	return delay
}

// Do invokes op, retrying rate-limit-classified failures up to the
// configured attempt count. The wait before each retry comes from the
// provider's own error text when parseable, else from the configured
// default, and is always clamped to the configured maximum. Exhausting
// all attempts returns the last error.
func (c *Controller) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRateLimit(lastErr) {
			return lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		delay := ParseDelay(lastErr.Error(), c.retryDelay, c.maxRetryDelay)
		c.logger.Warn("Rate limited, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", c.maxRetries+1, lastErr)
}
