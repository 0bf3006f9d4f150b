package domain

import (
	"strings"
	"time"
)

// Kind distinguishes photo generations from video generations. Each kind is
// stored in its own table.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Kinds lists every generation kind in scan order.
var Kinds = []Kind{KindPhoto, KindVideo}

// ParseKind normalizes user input into a supported kind.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "photo", "image", "images":
		return KindPhoto, nil
	case "video", "videos":
		return KindVideo, nil
	default:
		return "", ErrInvalidKind
	}
}

// Status enumerates generation lifecycle states.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no automatic transition may leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OperationType classifies how the media was produced.
type OperationType string

const (
	OperationGenerated OperationType = "generated"
	OperationEdited    OperationType = "edited"
	OperationUpscaled  OperationType = "upscaled"
	OperationVideo     OperationType = "video"
)

// Generation is one user-submitted generation job, photo or video.
type Generation struct {
	ID               string
	UserID           string
	Kind             Kind
	JobID            *string
	Status           Status
	Prompt           string
	OperationType    OperationType
	MediaURLs        []string
	ThumbnailURLs    []string
	StorageProvider  *string
	StorageBucket    *string
	StorageKeys      []string
	ErrorMessage     *string
	ProcessingTimeMs *int64
	CreatedAt        time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

// HasJob reports whether the provider job id has been attached.
func (g Generation) HasJob() bool {
	return g.JobID != nil && strings.TrimSpace(*g.JobID) != ""
}

// Migrated reports whether media has been copied to durable storage.
func (g Generation) Migrated() bool {
	return g.StorageProvider != nil && *g.StorageProvider != ""
}

// GenerationPatch is applied to a record as a single UPDATE. Nil fields are
// left untouched.
type GenerationPatch struct {
	Status           *Status
	MediaURLs        []string
	ThumbnailURLs    []string
	StorageProvider  *string
	StorageBucket    *string
	StorageKeys      []string
	ErrorMessage     *string
	ClearError       bool
	CompletedAt      *time.Time
	ProcessingTimeMs *int64

	// ExpectStatus makes the update conditional on the current status.
	ExpectStatus *Status
	// RequireUnmigrated makes the update conditional on storage_provider being null.
	RequireUnmigrated bool
}

// Empty reports whether the patch would not change any column.
func (p GenerationPatch) Empty() bool {
	return p.Status == nil &&
		p.MediaURLs == nil &&
		p.ThumbnailURLs == nil &&
		p.StorageProvider == nil &&
		p.StorageBucket == nil &&
		p.StorageKeys == nil &&
		p.ErrorMessage == nil &&
		!p.ClearError &&
		p.CompletedAt == nil &&
		p.ProcessingTimeMs == nil
}

// Apply returns a copy of g with the patch applied in memory, mirroring the
// SQL update semantics (completed_at is only ever set once).
func (p GenerationPatch) Apply(g Generation, now time.Time) Generation {
	out := g
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.MediaURLs != nil {
		out.MediaURLs = append([]string(nil), p.MediaURLs...)
	}
	if p.ThumbnailURLs != nil {
		out.ThumbnailURLs = append([]string(nil), p.ThumbnailURLs...)
	}
	if p.StorageProvider != nil {
		out.StorageProvider = StringPtr(*p.StorageProvider)
	}
	if p.StorageBucket != nil {
		out.StorageBucket = StringPtr(*p.StorageBucket)
	}
	if p.StorageKeys != nil {
		out.StorageKeys = append([]string(nil), p.StorageKeys...)
	}
	if p.ClearError {
		out.ErrorMessage = nil
	} else if p.ErrorMessage != nil {
		out.ErrorMessage = StringPtr(*p.ErrorMessage)
	}
	if p.CompletedAt != nil && out.CompletedAt == nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	if p.ProcessingTimeMs != nil && out.ProcessingTimeMs == nil {
		v := *p.ProcessingTimeMs
		out.ProcessingTimeMs = &v
	}
	out.UpdatedAt = now
	return out
}

// Matches reports whether the guards of p accept the current state of g.
func (p GenerationPatch) Matches(g Generation) bool {
	if p.ExpectStatus != nil && g.Status != *p.ExpectStatus {
		return false
	}
	if p.RequireUnmigrated && g.Migrated() {
		return false
	}
	return true
}

func StringPtr(v string) *string { return &v }

func StatusPtr(v Status) *Status { return &v }
