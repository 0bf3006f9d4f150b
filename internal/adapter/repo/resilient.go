package repo

import (
	"context"
	"time"

	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/resilience"
)

// ResilientGenerationRepository routes every call of the wrapped repository
// through a resilience.Guard: transient failures are retried and sustained
// failures open the breaker so callers fail fast.
type ResilientGenerationRepository struct {
	inner  domain.GenerationRepository
	guard  *resilience.Guard
	logger *infra.Logger
}

// NewResilientGenerationRepository wraps inner with guard.
func NewResilientGenerationRepository(inner domain.GenerationRepository, guard *resilience.Guard, logger *infra.Logger) *ResilientGenerationRepository {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &ResilientGenerationRepository{inner: inner, guard: guard, logger: logger}
}

// NewDatabaseGuard builds the guard used for database access. Only transient
// failures count against the breaker; not-found and constraint errors are
// answers, not outages.
func NewDatabaseGuard(cfg *infra.Config, logger *infra.Logger) *resilience.Guard {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "database",
		FailureThreshold: cfg.DBBreakerThreshold,
		Cooldown:         cfg.DBBreakerCooldown,
		ShouldTrip:       resilience.IsTransient,
		Logger:           logger,
	})
	policy := resilience.RetryPolicy{
		MaxRetries: cfg.DBRetryMax,
		BaseDelay:  cfg.DBRetryBaseDelay,
		MaxDelay:   5 * time.Second,
		Jitter:     true,
	}
	return resilience.NewGuard(breaker, policy)
}

// Breaker exposes the underlying breaker for health reporting.
func (r *ResilientGenerationRepository) Breaker() *resilience.Breaker {
	if r.guard == nil {
		return nil
	}
	return r.guard.Breaker
}

func (r *ResilientGenerationRepository) Create(ctx context.Context, g *domain.Generation) error {
	return r.guard.Exec(ctx, func(ctx context.Context) error {
		return r.inner.Create(ctx, g)
	})
}

func (r *ResilientGenerationRepository) GetByID(ctx context.Context, kind domain.Kind, id string) (*domain.Generation, error) {
	return resilience.Do(ctx, r.guard, func(ctx context.Context) (*domain.Generation, error) {
		return r.inner.GetByID(ctx, kind, id)
	})
}

func (r *ResilientGenerationRepository) AttachJobID(ctx context.Context, kind domain.Kind, id, jobID string) error {
	return r.guard.Exec(ctx, func(ctx context.Context) error {
		return r.inner.AttachJobID(ctx, kind, id, jobID)
	})
}

func (r *ResilientGenerationRepository) FindStaleProcessing(ctx context.Context, userID string, age time.Duration) ([]domain.Generation, error) {
	return resilience.Do(ctx, r.guard, func(ctx context.Context) ([]domain.Generation, error) {
		return r.inner.FindStaleProcessing(ctx, userID, age)
	})
}

func (r *ResilientGenerationRepository) FindCompletedMissingMedia(ctx context.Context, userID string) ([]domain.Generation, error) {
	return resilience.Do(ctx, r.guard, func(ctx context.Context) ([]domain.Generation, error) {
		return r.inner.FindCompletedMissingMedia(ctx, userID)
	})
}

func (r *ResilientGenerationRepository) FindCompletedWithoutStorage(ctx context.Context, userID string, limit int) ([]domain.Generation, error) {
	return resilience.Do(ctx, r.guard, func(ctx context.Context) ([]domain.Generation, error) {
		return r.inner.FindCompletedWithoutStorage(ctx, userID, limit)
	})
}

func (r *ResilientGenerationRepository) UpdateStatus(ctx context.Context, kind domain.Kind, id string, patch domain.GenerationPatch) error {
	err := r.guard.Exec(ctx, func(ctx context.Context) error {
		return r.inner.UpdateStatus(ctx, kind, id, patch)
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("generation_id", id).
			Msg("repo: update generation failed")
	}
	return err
}

func (r *ResilientGenerationRepository) MarkMigrationAttempt(ctx context.Context, kind domain.Kind, id string, at time.Time) error {
	return r.guard.Exec(ctx, func(ctx context.Context) error {
		return r.inner.MarkMigrationAttempt(ctx, kind, id, at)
	})
}

var _ domain.GenerationRepository = (*ResilientGenerationRepository)(nil)
