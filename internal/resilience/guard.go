package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// Guard combines retries and a circuit breaker. Every attempt passes through
// the breaker, so an open circuit ends the retry loop immediately.
type Guard struct {
	Breaker *Breaker
	Policy  RetryPolicy
}

// NewGuard returns a Guard for breaker b and retry policy p.
func NewGuard(b *Breaker, p RetryPolicy) *Guard {
	return &Guard{Breaker: b, Policy: p}
}

// Do runs op under the guard.
func Do[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error)) (T, error) {
	if g == nil {
		return op(ctx)
	}
	return WithRetry(ctx, g.Policy, func(ctx context.Context) (T, error) {
		if g.Breaker == nil {
			return op(ctx)
		}
		return ExecuteValue(ctx, g.Breaker, op)
	})
}

// Exec runs op under the guard for operations without a result.
func (g *Guard) Exec(ctx context.Context, op func(context.Context) error) error {
	_, err := Do(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// WithFallback runs op and returns def on any failure. Only for reads where a
// stale or empty answer is acceptable.
func WithFallback[T any](ctx context.Context, logger *zerolog.Logger, name string, op func(context.Context) (T, error), def T) T {
	out, err := op(ctx)
	if err == nil {
		return out
	}
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	logger.Warn().
		Err(err).
		Str("operation", name).
		Bool("circuit_open", errors.Is(err, ErrCircuitOpen)).
		Msg("resilience: falling back to default value")
	return def
}
