package routing

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dshills/codecontext/internal/provider"
)

// RetryConfig configures per-provider retries of transient failures.
type RetryConfig struct {
	MaxAttempts    int           // Attempts per provider, including the first
	BaseDelay      time.Duration // Initial backoff between attempts
	MaxDelay       time.Duration // Cap on a single backoff
	AttemptTimeout time.Duration // Deadline applied to each attempt
}

// DefaultRetryConfig returns three attempts with 100ms..2s exponential backoff
// and a 10s per-attempt deadline.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.BaseDelay)
	b = retry.WithCappedDuration(c.MaxDelay, b)
	return retry.WithMaxRetries(uint64(c.MaxAttempts-1), b)
}

// retryAttempts runs fn against one provider, retrying transient failures with
// exponential backoff. Each attempt gets its own deadline; a deadline hit on
// the attempt (not the caller) is reported as a provider timeout.
func retryAttempts(ctx context.Context, cfg RetryConfig, providerName string, fn func(ctx context.Context) error) (attempts int, err error) {
	err = retry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		defer cancel()

		err := fn(actx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var perr *provider.Error
		if errors.Is(actx.Err(), context.DeadlineExceeded) && !errors.As(err, &perr) {
			err = provider.NewError(provider.KindTimeout, providerName, err)
		}
		if provider.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts, err
}
