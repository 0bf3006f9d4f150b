package resilience

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit breaker position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	// ShouldTrip decides whether a failure counts towards the threshold. When
	// nil every failure counts.
	ShouldTrip func(error) bool
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// Breaker is a consecutive-failure circuit breaker protecting one resource.
type Breaker struct {
	name       string
	threshold  int
	cooldown   time.Duration
	shouldTrip func(error) bool
	now        func() time.Time
	logger     *zerolog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

// NewBreaker constructs a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "resource"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Breaker{
		name:       name,
		threshold:  threshold,
		cooldown:   cooldown,
		shouldTrip: cfg.ShouldTrip,
		now:        now,
		logger:     logger,
		state:      StateClosed,
	}
}

// Execute runs op unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	finished := false
	defer func() {
		if !finished {
			b.recordPanic(probe)
		}
	}()
	opErr := op(ctx)
	finished = true
	b.record(probe, opErr)
	return opErr
}

// ExecuteValue is Execute for operations returning a value.
func ExecuteValue[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}

func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			return false, &CircuitOpenError{Resource: b.name, RetryAfter: b.cooldown - elapsed}
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		return true, nil
	case StateHalfOpen:
		if b.probeInFlight {
			return false, &CircuitOpenError{Resource: b.name}
		}
		b.probeInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probeInFlight = false
	}
	// errors that do not trip (e.g. a missing row) still prove the resource answered
	if err == nil || (b.shouldTrip != nil && !b.shouldTrip(err)) {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}
	b.failures++
	if probe || b.failures >= b.threshold {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
		b.logger.Warn().
			Str("breaker", b.name).
			Int("consecutive_failures", b.failures).
			Err(err).
			Msg("resilience: circuit opened")
	}
}

// recordPanic releases the half-open slot when op panicked. A panicking trial
// call reopens the circuit; the panic itself keeps unwinding.
func (b *Breaker) recordPanic(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !probe {
		return
	}
	b.probeInFlight = false
	b.openedAt = b.now()
	if b.state != StateOpen {
		b.transition(StateOpen)
	}
	b.logger.Warn().Str("breaker", b.name).Msg("resilience: trial call panicked, circuit reopened")
}

func (b *Breaker) transition(next State) {
	b.logger.Info().
		Str("breaker", b.name).
		Str("from", string(b.state)).
		Str("to", string(next)).
		Msg("resilience: breaker state change")
	b.state = next
}

// State returns the current breaker state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker state for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{Name: b.name, State: b.state, ConsecutiveFailures: b.failures}
	if b.state == StateOpen {
		s.OpenedAt = b.openedAt
	}
	return s
}
