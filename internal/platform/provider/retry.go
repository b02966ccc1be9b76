package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds adapter calls: a fixed per-call timeout, a retry budget
// for transient failures, and a rate limit protecting the vendor API.
type RetryPolicy struct {
	CallTimeout time.Duration
	MaxRetries  int
	Backoff     time.Duration
	RateLimit   rate.Limit
	Burst       int
}

// DefaultRetryPolicy matches the limits we run against vendor sandboxes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		CallTimeout: 30 * time.Second,
		MaxRetries:  3,
		Backoff:     2 * time.Second,
		RateLimit:   rate.Limit(10),
		Burst:       20,
	}
}

// RetryingAdapter wraps an Adapter with timeout, transient-failure retry,
// and rate limiting. Non-transient errors surface immediately.
type RetryingAdapter struct {
	inner   Adapter
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  zerolog.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewRetryingAdapter wraps inner with the given policy.
func NewRetryingAdapter(inner Adapter, policy RetryPolicy, logger zerolog.Logger) *RetryingAdapter {
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = DefaultRetryPolicy().CallTimeout
	}
	if policy.RateLimit <= 0 {
		policy.RateLimit = rate.Inf
	}
	if policy.Burst <= 0 {
		policy.Burst = 1
	}
	return &RetryingAdapter{
		inner:   inner,
		policy:  policy,
		limiter: rate.NewLimiter(policy.RateLimit, policy.Burst),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Vendor returns the wrapped adapter's vendor tag.
func (a *RetryingAdapter) Vendor() string { return a.inner.Vendor() }

// Authenticate delegates with timeout and transient retry.
func (a *RetryingAdapter) Authenticate(ctx context.Context) error {
	return a.withRetry(ctx, "authenticate", func(ctx context.Context) error {
		return a.inner.Authenticate(ctx)
	})
}

// FetchResourcesOf delegates with rate limiting, timeout, and transient retry.
func (a *RetryingAdapter) FetchResourcesOf(ctx context.Context, resourceType string, since *time.Time) ([]Record, error) {
	var records []Record
	err := a.withRetry(ctx, "fetch", func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		records, err = a.inner.FetchResourcesOf(ctx, resourceType, since)
		return err
	})
	return records, err
}

func (a *RetryingAdapter) withRetry(ctx context.Context, op string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= a.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.sleep(ctx, a.policy.Backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.policy.CallTimeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) || ctx.Err() != nil {
			return err
		}
		a.logger.Warn().
			Err(err).
			Str("vendor", a.inner.Vendor()).
			Str("op", op).
			Int("attempt", attempt+1).
			Msg("transient adapter failure, retrying")
	}
	return lastErr
}
