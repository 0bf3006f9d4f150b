// Package recovery repairs a user's generation records that diverged from
// the provider and makes sure recovered media ends up in durable storage.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/migration"
	"mediarecon/internal/providers/jobstatus"
	"mediarecon/internal/reconcile"
	"mediarecon/internal/resilience"
)

// DefaultStaleAfter is the age after which an in-flight record is checked by
// the periodic recovery.
const DefaultStaleAfter = 2 * time.Minute

var (
	// ErrInProgress rejects a periodic check while another recovery runs for
	// the same user.
	ErrInProgress  = errors.New("recovery already in progress")
	ErrMissingUser = errors.New("recovery: user id is required")
)

// Migrator is the part of the storage migration worker recovery depends on.
type Migrator interface {
	MigrateRecord(ctx context.Context, rec domain.Generation) (migration.Outcome, error)
	SweepUser(ctx context.Context, userID string) (migration.SweepResult, error)
}

// Result aggregates one recovery run.
type Result struct {
	Success        bool     `json:"success"`
	RecoveredCount int      `json:"recoveredCount"`
	FailedCount    int      `json:"failedCount"`
	TotalProcessed int      `json:"totalProcessed"`
	SkippedCount   int      `json:"skippedCount"`
	Errors         []string `json:"errors"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Options wires the orchestrator.
type Options struct {
	Repo       domain.GenerationRepository
	Jobs       jobstatus.Fetcher
	Migrator   Migrator
	Reconciler reconcile.Reconciler
	StaleAfter time.Duration
	Now        func() time.Time
	Logger     *infra.Logger
}

// Orchestrator runs user-scoped recoveries, at most one per user at a time.
type Orchestrator struct {
	repo       domain.GenerationRepository
	jobs       jobstatus.Fetcher
	migrator   Migrator
	reconciler reconcile.Reconciler
	staleAfter time.Duration
	now        func() time.Time
	logger     *infra.Logger
	locks      *userLocks
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Repo == nil || opts.Jobs == nil || opts.Migrator == nil {
		return nil, errors.New("recovery: repository, job status client and migrator are required")
	}
	o := &Orchestrator{
		repo:       opts.Repo,
		jobs:       opts.Jobs,
		migrator:   opts.Migrator,
		reconciler: opts.Reconciler,
		staleAfter: opts.StaleAfter,
		now:        opts.Now,
		logger:     infra.Component(opts.Logger, "recovery"),
		locks:      newUserLocks(),
	}
	if o.reconciler.Timeout <= 0 {
		o.reconciler = reconcile.New(0)
	}
	if o.staleAfter <= 0 {
		o.staleAfter = DefaultStaleAfter
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// CheckAndRecoverUserImages is the periodic check. It is rejected while a
// recovery for the same user is running.
func (o *Orchestrator) CheckAndRecoverUserImages(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{Errors: []string{ErrMissingUser.Error()}}, ErrMissingUser
	}
	if !o.locks.TryLock(userID) {
		o.logger.Debug().Str("user_id", userID).Msg("recovery: check rejected, recovery in progress")
		return Result{Errors: []string{ErrInProgress.Error()}}, ErrInProgress
	}
	defer o.locks.Unlock(userID)
	return o.run(ctx, userID, o.staleAfter, false)
}

// ExecuteAutoRecovery is the forced recovery. It waits behind a running
// recovery for the same user, considers every in-flight record regardless of
// age and migrates the user's completed records that are still on ephemeral
// storage.
func (o *Orchestrator) ExecuteAutoRecovery(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{Errors: []string{ErrMissingUser.Error()}}, ErrMissingUser
	}
	if err := o.locks.Lock(ctx, userID); err != nil {
		return Result{Errors: []string{err.Error()}}, fmt.Errorf("recovery: wait for lock: %w", err)
	}
	defer o.locks.Unlock(userID)
	return o.run(ctx, userID, 0, true)
}

func (o *Orchestrator) run(ctx context.Context, userID string, age time.Duration, forced bool) (Result, error) {
	started := o.now()
	res := Result{Success: true, Errors: []string{}}
	log := o.logger.With().Str("user_id", userID).Bool("forced", forced).Logger()

	candidates, err := o.candidates(ctx, userID, age)
	if err != nil {
		res.Success = false
		res.addError("list candidates: %v", err)
		log.Error().Err(err).Msg("recovery: candidate lookup failed")
		return res, err
	}

	for _, rec := range candidates {
		if err := o.recoverRecord(ctx, rec, &res); err != nil {
			res.Success = false
			res.addError("aborted: %v", err)
			log.Error().Err(err).Str("generation_id", rec.ID).Msg("recovery: aborted")
			return res, err
		}
	}

	if forced {
		sweep, err := o.migrator.SweepUser(ctx, userID)
		res.RecoveredCount += sweep.Migrated
		res.FailedCount += sweep.Failed
		res.TotalProcessed += sweep.Migrated + sweep.Failed
		res.Errors = append(res.Errors, sweep.Errors...)
		if err != nil {
			res.Success = false
			log.Error().Err(err).Msg("recovery: storage migration aborted")
			return res, err
		}
	}

	log.Info().
		Int("recovered", res.RecoveredCount).
		Int("failed", res.FailedCount).
		Int("processed", res.TotalProcessed).
		Int("skipped", res.SkippedCount).
		Dur("elapsed", o.now().Sub(started)).
		Msg("recovery: finished")
	return res, nil
}

func (o *Orchestrator) candidates(ctx context.Context, userID string, age time.Duration) ([]domain.Generation, error) {
	stale, err := o.repo.FindStaleProcessing(ctx, userID, age)
	if err != nil {
		return nil, err
	}
	missing, err := o.repo.FindCompletedMissingMedia(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(stale, missing...), nil
}

// recoverRecord handles one candidate. Only errors that must end the batch
// are returned; everything else is counted on res.
func (o *Orchestrator) recoverRecord(ctx context.Context, rec domain.Generation, res *Result) error {
	if !rec.HasJob() {
		res.SkippedCount++
		return nil
	}
	res.TotalProcessed++
	now := o.now()
	log := o.logger.With().
		Str("generation_id", rec.ID).
		Str("kind", string(rec.Kind)).
		Str("job_id", *rec.JobID).
		Logger()

	status, err := o.jobs.GetStatus(ctx, *rec.JobID)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return err
		}
		if rec.Status == domain.StatusCompleted || !o.reconciler.TimedOut(rec, now) {
			res.FailedCount++
			res.addError("%s: provider status: %v", rec.ID, err)
			log.Warn().Err(err).Msg("recovery: provider status unavailable")
			return nil
		}
		log.Warn().Err(err).Msg("recovery: provider unavailable, applying timeout")
		status = nil
	}

	var decision reconcile.Decision
	if rec.Status == domain.StatusCompleted {
		decision = o.reconciler.Repair(rec, status)
		if !decision.Changed {
			res.FailedCount++
			res.addError("%s: cannot restore media: %s", rec.ID, decision.Reason)
			return nil
		}
	} else {
		decision = o.reconciler.Reconcile(rec, status, now)
		if !decision.Changed {
			log.Debug().Str("reason", decision.Reason).Msg("recovery: record unchanged")
			return nil
		}
	}

	if err := o.repo.UpdateStatus(ctx, rec.Kind, rec.ID, decision.Patch); err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return err
		case errors.Is(err, domain.ErrStaleRecord):
			res.TotalProcessed--
			res.SkippedCount++
			log.Info().Msg("recovery: record changed concurrently")
		default:
			res.FailedCount++
			res.addError("%s: persist %s: %v", rec.ID, decision.Status, err)
		}
		return nil
	}
	log.Info().Str("status", string(decision.Status)).Str("reason", decision.Reason).Msg("recovery: record reconciled")

	switch decision.Status {
	case domain.StatusFailed:
		res.FailedCount++
	case domain.StatusCompleted:
		updated := decision.Patch.Apply(rec, now)
		if _, err := o.migrator.MigrateRecord(ctx, updated); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return err
			}
			res.FailedCount++
			res.addError("%s: migrate media: %v", rec.ID, err)
			return nil
		}
		res.RecoveredCount++
	}
	return nil
}
