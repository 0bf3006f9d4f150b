// Package resilience guards calls against flaky infrastructure with bounded
// retries and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"mediarecon/internal/domain"
)

var (
	// ErrTransient marks an error as a connectivity or timeout failure that may
	// succeed when retried.
	ErrTransient = errors.New("transient infrastructure error")
	// ErrCircuitOpen is matched by every CircuitOpenError.
	ErrCircuitOpen = errors.New("circuit open")
)

// CircuitOpenError is returned without invoking the protected operation while
// the breaker is open.
type CircuitOpenError struct {
	Resource   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: circuit open, retry after %s", e.Resource, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s: circuit open", e.Resource)
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient classifies err as retryable. Constraint violations, missing
// records, lost races and open circuits are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrStaleRecord) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLState(pgErr.Code)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "timeout", "database is locked", "too many connections"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// transientSQLState reports whether a Postgres SQLSTATE describes a
// connectivity, resource or serialization failure.
func transientSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "53"), // insufficient resources
		strings.HasPrefix(code, "57P"), // operator intervention / shutdown
		code == "40001",                // serialization_failure
		code == "40P01":                // deadlock_detected
		return true
	default:
		return false
	}
}
