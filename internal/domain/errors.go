package domain

import "errors"

var (
	// ErrNotFound is returned when a generation record does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrStaleRecord is returned when a guarded update matched no row because the
	// record changed underneath the caller (status moved on, already migrated,
	// job id already attached).
	ErrStaleRecord     = errors.New("stale record")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidPrompt   = errors.New("invalid prompt")
	ErrInvalidKind     = errors.New("invalid generation kind")
	ErrProviderFailure = errors.New("provider failure")
)
