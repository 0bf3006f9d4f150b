package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
	// Retryable overrides IsTransient when set.
	Retryable func(error) bool
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: true}

// Delay returns the backoff before retry number attempt (zero based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// full range [d/2, d)
		half := int64(d / 2)
		if half > 0 {
			d = time.Duration(half + rand.Int63n(half))
		}
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

// WithRetry invokes op and retries transient failures up to MaxRetries times
// with exponential backoff. The last error is returned once retries are
// exhausted; non-transient errors are returned immediately.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if attempt >= policy.MaxRetries || !policy.retryable(err) {
			return zero, err
		}
		delay := policy.Delay(attempt)
		attempt++
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// Retry is WithRetry for operations without a result.
func Retry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	_, err := WithRetry(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
