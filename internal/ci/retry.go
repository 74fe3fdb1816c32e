package ci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cirecover/internal/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/cirecover/internal/ci"

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// Backoff is the wait between attempts.
	// Default: 5 seconds
	Backoff time.Duration

	// MaxBackoff caps the wait, including waits derived from rate-limit resets.
	// Default: 2 minutes
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each attempt. 1 means fixed backoff.
	// Default: 1
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		Backoff:           5 * time.Second,
		MaxBackoff:        2 * time.Minute,
		BackoffMultiplier: 1.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = defaults.Backoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Retrier repeats provider calls on retryable errors. All waits go through
// the clock so they are cancellable.
type Retrier struct {
	config  RetryConfig
	clock   clock.Clock
	logger  *zap.Logger
	retries metric.Int64Counter
}

// NewRetrier creates a Retrier. A nil logger disables logging.
func NewRetrier(cfg RetryConfig, c clock.Clock, logger *zap.Logger) *Retrier {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{config: cfg, clock: c, logger: logger}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"cirecover.ci.fetch_retries_total",
		metric.WithDescription("Provider calls retried after a transient error"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		logger.Warn("failed to create retry counter", zap.Error(err))
	} else {
		r.retries = counter
	}
	return r
}

// Do runs fn until it succeeds, fails permanently, or exhausts its attempts.
// Exhaustion yields a *TransientFetchError; permanent errors are returned as is.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := r.config.Backoff
	start := r.clock.Now()
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("provider call recovered after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", r.clock.Now().Sub(start)),
				)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s canceled: %w", op, ctxErr)
		}

		lastErr = err
		if !IsRetryable(err) {
			r.logger.Debug("provider error is not retryable", zap.String("op", op), zap.Error(err))
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		wait := backoff
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RateLimited {
			wait = r.rateLimitBackoff(apiErr.ResetAt)
			r.logger.Info("provider rate limit hit, adjusting backoff",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
			)
		} else {
			r.logger.Info("retrying provider call after transient error",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.config.MaxAttempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}
		if r.retries != nil {
			r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		}

		if err := clock.Sleep(ctx, r.clock, wait); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}

		next := time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if next > r.config.MaxBackoff {
			next = r.config.MaxBackoff
		}
		backoff = next
	}

	r.logger.Warn("provider call failed after all retries exhausted",
		zap.String("op", op),
		zap.Int("total_attempts", r.config.MaxAttempts),
		zap.Duration("total_time", r.clock.Now().Sub(start)),
		zap.Error(lastErr),
	)
	return &TransientFetchError{Op: op, Attempts: r.config.MaxAttempts, Err: lastErr}
}

// rateLimitBackoff waits until the reset time plus one second, capped at MaxBackoff.
func (r *Retrier) rateLimitBackoff(resetAt time.Time) time.Duration {
	if resetAt.IsZero() {
		return r.config.MaxBackoff
	}
	wait := resetAt.Sub(r.clock.Now()) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > r.config.MaxBackoff {
		wait = r.config.MaxBackoff
	}
	return wait
}
