package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists media onto the local filesystem and serves it from a
// static URL prefix. It is intended for development and single-node
// deployments where an object storage service is not available.
type FileStore struct {
	basePath      string
	publicBaseURL string
}

// NewFileStore initializes a FileStore rooted at basePath whose objects are
// reachable under publicBaseURL.
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

func (s *FileStore) Provider() string      { return ProviderLocal }
func (s *FileStore) Bucket() string        { return filepath.Base(s.basePath) }
func (s *FileStore) PublicBaseURL() string { return s.publicBaseURL }

// Put persists data at the given relative key. Keys are cleaned to prevent
// directory traversal. The write goes through a temp file so readers never
// observe a partial object.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", &WriteError{Key: cleanKey, Err: fmt.Errorf("ensure directory: %w", err)}
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", &WriteError{Key: cleanKey, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &WriteError{Key: cleanKey, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &WriteError{Key: cleanKey, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", &WriteError{Key: cleanKey, Err: err}
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return "", &WriteError{Key: cleanKey, Err: err}
	}
	return joinURL(s.publicBaseURL, cleanKey), nil
}

// KeyFromURL returns the key of a URL served by this store.
func (s *FileStore) KeyFromURL(rawURL string) (string, bool) {
	return keyUnderBase(s.publicBaseURL, rawURL)
}

func keyUnderBase(base, rawURL string) (string, bool) {
	if base == "" {
		return "", false
	}
	prefix := base + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	key, err := sanitizeKey(strings.TrimPrefix(rawURL, prefix))
	if err != nil {
		return "", false
	}
	return key, true
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ Store = (*FileStore)(nil)
