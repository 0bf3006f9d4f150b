// Package storage persists generated media in durable object storage and
// classifies where a media URL currently lives.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Provider names recorded in generation.storage_provider.
const (
	ProviderS3    = "s3"
	ProviderLocal = "local"
)

// ErrUnsupportedMedia is returned by thumbnailers that cannot render the input.
var ErrUnsupportedMedia = errors.New("storage: unsupported media for thumbnail")

// Store is a durable object store addressed by key.
type Store interface {
	// Put writes data at key and returns the public durable URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// KeyFromURL recovers the key of a URL previously returned by Put.
	KeyFromURL(rawURL string) (string, bool)
	// PublicBaseURL is the prefix of every URL returned by Put.
	PublicBaseURL() string
	Provider() string
	Bucket() string
}

// Thumbnailer renders a reduced-size JPEG rendition of media.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, data []byte, contentType string) ([]byte, error)
}

// WriteError reports a failed upload of one object.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage: write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func joinURL(base, key string) string {
	if base == "" {
		return key
	}
	return base + "/" + key
}
