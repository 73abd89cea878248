package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryConfig is the caller-layered retry policy.
type RetryConfig struct {
	Attempts   int           // Total tries including the first (minimum 1)
	Delay      time.Duration // Base delay for exponential backoff
	MaxDelay   time.Duration // Cap on any single wait (0 = uncapped)
	RetryEmpty bool          // Treat an empty response as retryable
}

// DefaultRetryConfig returns the policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    2 * time.Second,
		MaxDelay: 60 * time.Second,
	}
}

// Retrying wraps an Invoker with exponential backoff. Rate limit errors
// wait for the provider's Retry-After when one is given.
type Retrying struct {
	inner  Invoker
	cfg    RetryConfig
	logger *slog.Logger
}

// NewRetrying decorates inner with the given policy.
func NewRetrying(inner Invoker, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Retrying{inner: inner, cfg: cfg, logger: logger}
}

// Name returns the wrapped provider's name.
func (r *Retrying) Name() string {
	return r.inner.Name()
}

// LastUsage forwards to the wrapped invoker when it reports usage.
func (r *Retrying) LastUsage() Usage {
	if u, ok := r.inner.(UsageReporter); ok {
		return u.LastUsage()
	}
	return Usage{}
}

// Invoke calls the wrapped invoker until it succeeds, the error is not
// retryable, attempts run out, or ctx is done.
func (r *Retrying) Invoke(ctx context.Context, chunk, prompt, model string) (string, error) {
	var text string
	err := retry.Do(
		func() error {
			out, err := r.inner.Invoke(ctx, chunk, prompt, model)
			if err != nil {
				return err
			}
			if out == "" && r.cfg.RetryEmpty {
				return ErrEmptyResponse
			}
			text = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.cfg.Attempts)),
		retry.Delay(r.cfg.Delay),
		retry.MaxDelay(r.cfg.MaxDelay),
		retry.DelayType(retryAfterDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(shouldRetry),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrying model call",
				"provider", r.inner.Name(),
				"attempt", n+1,
				"max_attempts", r.cfg.Attempts,
				"error", err)
		}),
	)
	if errors.Is(err, ErrEmptyResponse) {
		// Exhausted retries on empty output is still a null response.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	return Retryable(err)
}

func retryAfterDelay(n uint, err error, config *retry.Config) time.Duration {
	if rle, ok := IsRateLimitError(err); ok && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

var _ Invoker = (*Retrying)(nil)
