package domain

import (
	"context"
	"time"
)

// GenerationRepository persists photo and video generation records.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, kind Kind, id string) (*Generation, error)
	// AttachJobID sets the provider job id once and moves the record to
	// PROCESSING. Returns ErrStaleRecord when a job id is already attached.
	AttachJobID(ctx context.Context, kind Kind, id, jobID string) error
	// FindStaleProcessing lists the user's PENDING/PROCESSING records with a job
	// id that were created more than age ago.
	FindStaleProcessing(ctx context.Context, userID string, age time.Duration) ([]Generation, error)
	// FindCompletedMissingMedia lists COMPLETED records with a job id but no media.
	FindCompletedMissingMedia(ctx context.Context, userID string) ([]Generation, error)
	// FindCompletedWithoutStorage lists COMPLETED records with media that have not
	// been migrated. An empty userID selects every user.
	FindCompletedWithoutStorage(ctx context.Context, userID string, limit int) ([]Generation, error)
	UpdateStatus(ctx context.Context, kind Kind, id string, patch GenerationPatch) error
	// MarkMigrationAttempt records a failed migration attempt at the given time.
	// FindCompletedWithoutStorage returns never-attempted records first, then
	// the least recently attempted, so one failing record cannot hold the head
	// of every sweep. Migrated records are left alone.
	MarkMigrationAttempt(ctx context.Context, kind Kind, id string, at time.Time) error
}
