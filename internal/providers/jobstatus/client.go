package jobstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediarecon/internal/infra"
	"mediarecon/internal/resilience"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("jobstatus: api key is required")

// Options configures the provider client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	Retry          resilience.RetryPolicy
}

// Client talks to the generation provider's prediction API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	retry      resilience.RetryPolicy
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest describes a new provider job.
type SubmitRequest struct {
	Model   string
	Version string
	Input   map[string]any
}

type predictionResponse struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Error   json.RawMessage `json:"error"`
	Metrics struct {
		PredictTime *float64 `json:"predict_time"`
		TotalTime   *float64 `json:"total_time"`
	} `json:"metrics"`
}

type submitPayload struct {
	Version string         `json:"version,omitempty"`
	Model   string         `json:"model,omitempty"`
	Input   map[string]any `json:"input"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("jobstatus: invalid base url: %w", err)
	}
	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = resilience.DefaultRetryPolicy
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      strings.TrimSpace(opts.Model),
		timeout:    timeout,
		retry:      retry,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// GetStatus fetches the authoritative status of a provider job. A 404 from the
// provider is reported as a failed status with ErrorCodeJobNotFound rather
// than an error.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*Status, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, errors.New("jobstatus: job id is required")
	}
	endpoint := c.baseURL + "/predictions/" + url.PathEscape(jobID)
	return resilience.WithRetry(ctx, c.retry, func(ctx context.Context) (*Status, error) {
		raw, code, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if code == http.StatusNotFound {
			c.logger.Warn().Str("job_id", jobID).Msg("jobstatus: provider job not found")
			return &Status{JobID: jobID, State: StateFailed, ErrorCode: ErrorCodeJobNotFound, Error: "provider job not found"}, nil
		}
		if err := statusError(code, raw); err != nil {
			return nil, err
		}
		var decoded predictionResponse
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("jobstatus: decode response: %w", err)
		}
		status := decoded.toStatus(jobID)
		c.logger.Debug().
			Str("job_id", jobID).
			Str("state", string(status.State)).
			Int("outputs", len(status.Output)).
			Msg("jobstatus: fetched provider status")
		return status, nil
	})
}

// Submit creates a provider job and returns its id. Submissions are not
// retried since the provider offers no idempotency key.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	payload := submitPayload{Version: strings.TrimSpace(req.Version), Input: req.Input}
	endpoint := c.baseURL + "/predictions"
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if payload.Version == "" && model != "" {
		endpoint = c.baseURL + "/models/" + model + "/predictions"
	}
	if payload.Input == nil {
		payload.Input = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobstatus: encode request: %w", err)
	}
	raw, code, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	if err := statusError(code, raw); err != nil {
		return "", err
	}
	var decoded predictionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("jobstatus: decode response: %w", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", errors.New("jobstatus: provider returned empty job id")
	}
	c.logger.Info().Str("job_id", decoded.ID).Str("model", model).Msg("jobstatus: submitted provider job")
	return decoded.ID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("jobstatus: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, resilience.Transient(fmt.Errorf("jobstatus: http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, resilience.Transient(fmt.Errorf("jobstatus: read response: %w", err))
	}
	return raw, resp.StatusCode, nil
}

func statusError(code int, raw []byte) error {
	if code < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(raw))
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
		msg = detail.Detail
	}
	err := fmt.Errorf("jobstatus: status %d: %s", code, msg)
	if code == http.StatusTooManyRequests || code >= 500 {
		return resilience.Transient(err)
	}
	return err
}

func (r predictionResponse) toStatus(jobID string) *Status {
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = jobID
	}
	status := &Status{
		JobID:  id,
		State:  normalizeState(r.Status),
		Output: decodeOutput(r.Output),
		Error:  decodeError(r.Error),
	}
	switch {
	case r.Metrics.TotalTime != nil:
		status.Metrics = &Metrics{TotalTimeSeconds: *r.Metrics.TotalTime}
	case r.Metrics.PredictTime != nil:
		status.Metrics = &Metrics{TotalTimeSeconds: *r.Metrics.PredictTime}
	}
	if strings.EqualFold(strings.TrimSpace(r.Status), "canceled") && status.Error == "" {
		status.Error = "provider job was canceled"
	}
	return status
}

func normalizeState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "starting", "queued", "pending":
		return StateQueued
	case "processing", "running":
		return StateRunning
	case "succeeded", "successful", "completed":
		return StateSucceeded
	case "failed", "canceled", "cancelled", "aborted":
		return StateFailed
	default:
		return StateQueued
	}
}

// decodeOutput accepts null, a string, a list of strings or a list of objects
// carrying a url field. Anything else yields no output.
func decodeOutput(raw json.RawMessage) []string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if s := strings.TrimSpace(single); s != "" {
			return []string{s}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		var obj mediaDescriptor
		if err := json.Unmarshal(trimmed, &obj); err == nil && obj.url() != "" {
			return []string{obj.url()}
		}
		return nil
	}
	var urls []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				urls = append(urls, s)
			}
			continue
		}
		var obj mediaDescriptor
		if err := json.Unmarshal(item, &obj); err == nil && obj.url() != "" {
			urls = append(urls, obj.url())
		}
	}
	return urls
}

type mediaDescriptor struct {
	URL   string `json:"url"`
	Image string `json:"image"`
	Video string `json:"video"`
}

func (m mediaDescriptor) url() string {
	for _, v := range []string{m.URL, m.Image, m.Video} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func decodeError(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Detail
	}
	return strings.TrimSpace(string(trimmed))
}
