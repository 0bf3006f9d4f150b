package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository on Postgres.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql, now: time.Now}
}

type kindQueries struct {
	insert, byID, attach, stale, missingMedia, unmigrated, update, markAttempt string
}

var pgQueries = map[domain.Kind]kindQueries{
	domain.KindPhoto: {
		insert:       sqlinline.QInsertGeneration,
		byID:         sqlinline.QSelectGenerationByID,
		attach:       sqlinline.QAttachGenerationJob,
		stale:        sqlinline.QSelectStaleGenerations,
		missingMedia: sqlinline.QSelectCompletedMissingMedia,
		unmigrated:   sqlinline.QSelectUnmigratedGenerations,
		update:       sqlinline.QUpdateGeneration,
		markAttempt:  sqlinline.QMarkGenerationMigrationAttempt,
	},
	domain.KindVideo: {
		insert:       sqlinline.QInsertVideoGeneration,
		byID:         sqlinline.QSelectVideoGenerationByID,
		attach:       sqlinline.QAttachVideoGenerationJob,
		stale:        sqlinline.QSelectStaleVideoGenerations,
		missingMedia: sqlinline.QSelectVideoCompletedMissingMedia,
		unmigrated:   sqlinline.QSelectUnmigratedVideoGenerations,
		update:       sqlinline.QUpdateVideoGeneration,
		markAttempt:  sqlinline.QMarkVideoGenerationMigrationAttempt,
	},
}

func queriesFor(m map[domain.Kind]kindQueries, kind domain.Kind) (kindQueries, error) {
	q, ok := m[kind]
	if !ok {
		return kindQueries{}, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	return q, nil
}

// prepareCreate fills defaults shared by every backend.
func prepareCreate(g *domain.Generation, now time.Time) error {
	if g == nil {
		return fmt.Errorf("generation is required")
	}
	if strings.TrimSpace(g.UserID) == "" {
		return fmt.Errorf("generation user id is required")
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Kind == "" {
		g.Kind = domain.KindPhoto
	}
	if g.Status == "" {
		g.Status = domain.StatusPending
	}
	if g.OperationType == "" {
		if g.Kind == domain.KindVideo {
			g.OperationType = domain.OperationVideo
		} else {
			g.OperationType = domain.OperationGenerated
		}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = g.CreatedAt
	return nil
}

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	if err := prepareCreate(g, r.now().UTC()); err != nil {
		return err
	}
	q, err := queriesFor(pgQueries, g.Kind)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, q.insert,
		g.ID,
		g.UserID,
		g.JobID,
		string(g.Status),
		g.Prompt,
		string(g.OperationType),
		nullableArray(g.MediaURLs),
		g.ErrorMessage,
		g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s generation: %w", g.Kind, err)
	}
	return nil
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, kind domain.Kind, id string) (*domain.Generation, error) {
	q, err := queriesFor(pgQueries, kind)
	if err != nil {
		return nil, err
	}
	g, err := scanPGGeneration(r.sql.QueryRow(ctx, q.byID, id), kind)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select %s generation: %w", kind, err)
	}
	return g, nil
}

// AttachJobID records the provider job id and moves the record to PROCESSING.
func (r *GenerationRepositoryPG) AttachJobID(ctx context.Context, kind domain.Kind, id, jobID string) error {
	q, err := queriesFor(pgQueries, kind)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, q.attach, id, jobID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("attach job to %s generation: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleRecord
	}
	return nil
}

func (r *GenerationRepositoryPG) FindStaleProcessing(ctx context.Context, userID string, age time.Duration) ([]domain.Generation, error) {
	cutoff := r.now().UTC().Add(-age)
	var out []domain.Generation
	for _, kind := range domain.Kinds {
		q, _ := queriesFor(pgQueries, kind)
		items, err := r.list(ctx, kind, q.stale, userID, cutoff)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r *GenerationRepositoryPG) FindCompletedMissingMedia(ctx context.Context, userID string) ([]domain.Generation, error) {
	var out []domain.Generation
	for _, kind := range domain.Kinds {
		q, _ := queriesFor(pgQueries, kind)
		items, err := r.list(ctx, kind, q.missingMedia, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// FindCompletedWithoutStorage returns at most limit records, photos first.
func (r *GenerationRepositoryPG) FindCompletedWithoutStorage(ctx context.Context, userID string, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 25
	}
	var out []domain.Generation
	for _, kind := range domain.Kinds {
		remaining := limit - len(out)
		if remaining <= 0 {
			break
		}
		q, _ := queriesFor(pgQueries, kind)
		items, err := r.list(ctx, kind, q.unmigrated, userID, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// UpdateStatus applies patch in a single UPDATE. A guarded patch that matches
// no row yields domain.ErrStaleRecord.
func (r *GenerationRepositoryPG) UpdateStatus(ctx context.Context, kind domain.Kind, id string, patch domain.GenerationPatch) error {
	if patch.Empty() {
		return nil
	}
	q, err := queriesFor(pgQueries, kind)
	if err != nil {
		return err
	}
	tag, err := r.sql.Exec(ctx, q.update,
		id,
		statusArg(patch.ExpectStatus),
		statusArg(patch.Status),
		nullableArray(patch.MediaURLs),
		nullableArray(patch.ThumbnailURLs),
		patch.StorageProvider,
		patch.StorageBucket,
		nullableArray(patch.StorageKeys),
		patch.ErrorMessage,
		patch.ClearError,
		timeArg(patch.CompletedAt),
		patch.ProcessingTimeMs,
		patch.RequireUnmigrated,
		r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update %s generation: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return missedUpdate(patch)
	}
	return nil
}

func (r *GenerationRepositoryPG) MarkMigrationAttempt(ctx context.Context, kind domain.Kind, id string, at time.Time) error {
	q, err := queriesFor(pgQueries, kind)
	if err != nil {
		return err
	}
	if _, err := r.sql.Exec(ctx, q.markAttempt, id, at.UTC()); err != nil {
		return fmt.Errorf("mark %s migration attempt: %w", kind, err)
	}
	return nil
}

func (r *GenerationRepositoryPG) list(ctx context.Context, kind domain.Kind, query string, args ...any) ([]domain.Generation, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s generations: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanPGGeneration(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s generation: %w", kind, err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s generations: %w", kind, err)
	}
	return out, nil
}

func scanPGGeneration(row pgx.Row, kind domain.Kind) (*domain.Generation, error) {
	var (
		g                     domain.Generation
		status, operationType string
	)
	if err := row.Scan(
		&g.ID,
		&g.UserID,
		&g.JobID,
		&status,
		&g.Prompt,
		&operationType,
		&g.MediaURLs,
		&g.ThumbnailURLs,
		&g.StorageProvider,
		&g.StorageBucket,
		&g.StorageKeys,
		&g.ErrorMessage,
		&g.ProcessingTimeMs,
		&g.CreatedAt,
		&g.CompletedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.Kind = kind
	g.Status = domain.Status(status)
	g.OperationType = domain.OperationType(operationType)
	return &g, nil
}

func missedUpdate(patch domain.GenerationPatch) error {
	if patch.ExpectStatus != nil || patch.RequireUnmigrated {
		return domain.ErrStaleRecord
	}
	return domain.ErrNotFound
}

func nullableArray(v []string) any {
	if v == nil {
		return nil
	}
	return v
}

func statusArg(s *domain.Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
