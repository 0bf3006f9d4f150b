package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediarecon/internal/resilience"
)

// DefaultMaxMediaBytes bounds a single downloaded object.
const DefaultMaxMediaBytes = 200 << 20

// ErrMediaTooLarge is returned when the source exceeds the size limit.
var ErrMediaTooLarge = errors.New("storage: media exceeds size limit")

// Media is a downloaded source object.
type Media struct {
	Data        []byte
	ContentType string
}

// Fetcher downloads source media.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Media, error)
}

// HTTPFetcher downloads provider-hosted media with a per-call timeout and
// retries transient failures.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	retry    resilience.RetryPolicy
}

// NewHTTPFetcher builds a fetcher. A nil client uses http.DefaultTransport.
func NewHTTPFetcher(client *http.Client, timeout time.Duration, retry resilience.RetryPolicy) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, timeout: timeout, maxBytes: DefaultMaxMediaBytes, retry: retry}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Media, error) {
	return resilience.WithRetry(ctx, f.retry, func(ctx context.Context) (*Media, error) {
		return f.fetchOnce(ctx, rawURL)
	})
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (*Media, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build fetch request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("storage: fetch %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		err := fmt.Errorf("storage: fetch %s: status %d", rawURL, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, resilience.Transient(err)
		}
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, resilience.Transient(fmt.Errorf("storage: read %s: %w", rawURL, err))
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrMediaTooLarge
	}
	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Media{Data: data, ContentType: contentType}, nil
}
