package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/sqlinline"
)

// GenerationRepositorySQLite implements domain.GenerationRepository on the
// embedded SQLite schema. Times are stored as unix milliseconds and string
// arrays as JSON text.
type GenerationRepositorySQLite struct {
	db  infra.SQLiteExecutor
	now func() time.Time
}

// NewGenerationRepositorySQLite creates a generation repository backed by SQLite.
func NewGenerationRepositorySQLite(db infra.SQLiteExecutor) *GenerationRepositorySQLite {
	return &GenerationRepositorySQLite{db: db, now: time.Now}
}

var liteQueries = map[domain.Kind]kindQueries{
	domain.KindPhoto: {
		insert:       sqlinline.QLiteInsertGeneration,
		byID:         sqlinline.QLiteSelectGenerationByID,
		attach:       sqlinline.QLiteAttachGenerationJob,
		stale:        sqlinline.QLiteSelectStaleGenerations,
		missingMedia: sqlinline.QLiteSelectCompletedMissingMedia,
		unmigrated:   sqlinline.QLiteSelectUnmigratedGenerations,
		update:       sqlinline.QLiteUpdateGeneration,
		markAttempt:  sqlinline.QLiteMarkGenerationMigrationAttempt,
	},
	domain.KindVideo: {
		insert:       sqlinline.QLiteInsertVideoGeneration,
		byID:         sqlinline.QLiteSelectVideoGenerationByID,
		attach:       sqlinline.QLiteAttachVideoGenerationJob,
		stale:        sqlinline.QLiteSelectStaleVideoGenerations,
		missingMedia: sqlinline.QLiteSelectVideoCompletedMissingMedia,
		unmigrated:   sqlinline.QLiteSelectUnmigratedVideoGenerations,
		update:       sqlinline.QLiteUpdateVideoGeneration,
		markAttempt:  sqlinline.QLiteMarkVideoGenerationMigrationAttempt,
	},
}

func (r *GenerationRepositorySQLite) Create(ctx context.Context, g *domain.Generation) error {
	if err := prepareCreate(g, r.now().UTC()); err != nil {
		return err
	}
	q, err := queriesFor(liteQueries, g.Kind)
	if err != nil {
		return err
	}
	media, err := jsonArray(g.MediaURLs)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, q.insert,
		g.ID,
		g.UserID,
		nullString(g.JobID),
		string(g.Status),
		g.Prompt,
		string(g.OperationType),
		media,
		nullString(g.ErrorMessage),
		g.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert %s generation: %w", g.Kind, err)
	}
	return nil
}

func (r *GenerationRepositorySQLite) GetByID(ctx context.Context, kind domain.Kind, id string) (*domain.Generation, error) {
	q, err := queriesFor(liteQueries, kind)
	if err != nil {
		return nil, err
	}
	g, err := scanLiteGeneration(r.db.QueryRow(ctx, q.byID, id), kind)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select %s generation: %w", kind, err)
	}
	return g, nil
}

func (r *GenerationRepositorySQLite) AttachJobID(ctx context.Context, kind domain.Kind, id, jobID string) error {
	q, err := queriesFor(liteQueries, kind)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(ctx, q.attach, id, jobID, r.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("attach job to %s generation: %w", kind, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrStaleRecord
	}
	return nil
}

func (r *GenerationRepositorySQLite) FindStaleProcessing(ctx context.Context, userID string, age time.Duration) ([]domain.Generation, error) {
	cutoff := r.now().UTC().Add(-age).UnixMilli()
	var out []domain.Generation
	for _, kind := range domain.Kinds {
		q, _ := queriesFor(liteQueries, kind)
		items, err := r.list(ctx, kind, q.stale, userID, cutoff)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r *GenerationRepositorySQLite) FindCompletedMissingMedia(ctx context.Context, userID string) ([]domain.Generation, error) {
	var out []domain.Generation
	for _, kind := range domain.Kinds {
		q, _ := queriesFor(liteQueries, kind)
		items, err := r.list(ctx, kind, q.missingMedia, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r *GenerationRepositorySQLite) FindCompletedWithoutStorage(ctx context.Context, userID string, limit int) ([]domain.Generation, error) {
	if limit <= 0 {
		limit = 25
	}
	var out []domain.Generation
	for _, kind := range domain.Kinds {
		remaining := limit - len(out)
		if remaining <= 0 {
			break
		}
		q, _ := queriesFor(liteQueries, kind)
		items, err := r.list(ctx, kind, q.unmigrated, userID, remaining)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (r *GenerationRepositorySQLite) UpdateStatus(ctx context.Context, kind domain.Kind, id string, patch domain.GenerationPatch) error {
	if patch.Empty() {
		return nil
	}
	q, err := queriesFor(liteQueries, kind)
	if err != nil {
		return err
	}
	media, err := jsonArray(patch.MediaURLs)
	if err != nil {
		return err
	}
	thumbs, err := jsonArray(patch.ThumbnailURLs)
	if err != nil {
		return err
	}
	keys, err := jsonArray(patch.StorageKeys)
	if err != nil {
		return err
	}
	var completedAt any
	if patch.CompletedAt != nil {
		completedAt = patch.CompletedAt.UTC().UnixMilli()
	}
	var processing any
	if patch.ProcessingTimeMs != nil {
		processing = *patch.ProcessingTimeMs
	}
	res, err := r.db.Exec(ctx, q.update,
		id,
		statusArg(patch.ExpectStatus),
		statusArg(patch.Status),
		media,
		thumbs,
		nullString(patch.StorageProvider),
		nullString(patch.StorageBucket),
		keys,
		nullString(patch.ErrorMessage),
		patch.ClearError,
		completedAt,
		processing,
		patch.RequireUnmigrated,
		r.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("update %s generation: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s generation: %w", kind, err)
	}
	if n == 0 {
		return missedUpdate(patch)
	}
	return nil
}

func (r *GenerationRepositorySQLite) MarkMigrationAttempt(ctx context.Context, kind domain.Kind, id string, at time.Time) error {
	q, err := queriesFor(liteQueries, kind)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, q.markAttempt, id, at.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("mark %s migration attempt: %w", kind, err)
	}
	return nil
}

func (r *GenerationRepositorySQLite) list(ctx context.Context, kind domain.Kind, query string, args ...any) ([]domain.Generation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s generations: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanLiteGeneration(rows, kind)
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

func scanLiteGeneration(row infra.RowScanner, kind domain.Kind) (*domain.Generation, error) {
	var (
		g                               domain.Generation
		status, operationType           string
		jobID, provider, bucket, errMsg sql.NullString
		media, thumbs, keys             sql.NullString
		processing, completedAt         sql.NullInt64
		createdAt, updatedAt            int64
	)
	if err := row.Scan(
		&g.ID,
		&g.UserID,
		&jobID,
		&status,
		&g.Prompt,
		&operationType,
		&media,
		&thumbs,
		&provider,
		&bucket,
		&keys,
		&errMsg,
		&processing,
		&createdAt,
		&completedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if g.MediaURLs, err = parseJSONArray(media); err != nil {
		return nil, err
	}
	if g.ThumbnailURLs, err = parseJSONArray(thumbs); err != nil {
		return nil, err
	}
	if g.StorageKeys, err = parseJSONArray(keys); err != nil {
		return nil, err
	}
	g.Kind = kind
	g.Status = domain.Status(status)
	g.OperationType = domain.OperationType(operationType)
	g.JobID = fromNullString(jobID)
	g.StorageProvider = fromNullString(provider)
	g.StorageBucket = fromNullString(bucket)
	g.ErrorMessage = fromNullString(errMsg)
	if processing.Valid {
		v := processing.Int64
		g.ProcessingTimeMs = &v
	}
	g.CreatedAt = time.UnixMilli(createdAt).UTC()
	g.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		g.CompletedAt = &t
	}
	return &g, nil
}

func jsonArray(v []string) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode string array: %w", err)
	}
	return string(raw), nil
}

func parseJSONArray(v sql.NullString) ([]string, error) {
	out := []string{}
	if !v.Valid || v.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, fmt.Errorf("decode string array: %w", err)
	}
	return out, nil
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

var _ domain.GenerationRepository = (*GenerationRepositorySQLite)(nil)
