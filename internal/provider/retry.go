package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is exponential backoff without jitter: BaseDelay, then
// BaseDelay*Multiplier, and so on, for at most MaxAttempts calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy waits 300ms, 600ms between three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, Multiplier: 2}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		return op()
	}
	notify := func(err error, delay time.Duration) {
		logger.Warn("Provider call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	return backoff.RetryNotify(wrapped, p.backOff(ctx), notify)
}
