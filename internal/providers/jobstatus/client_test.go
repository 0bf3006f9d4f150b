package jobstatus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"mediarecon/internal/resilience"
)

func newTestClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    "https://provider.test/v1",
		HTTPClient: &http.Client{Transport: transport},
		Retry:      resilience.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGetStatusSucceededWithOutputList(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/predictions/J1", map[string]any{
		"id":      "J1",
		"status":  "succeeded",
		"output":  []any{"https://ephemeral.example/a.png", "https://ephemeral.example/b.png"},
		"metrics": map[string]any{"predict_time": 3.5, "total_time": 4.25},
	})
	status, err := newTestClient(t, transport).GetStatus(context.Background(), "J1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded", status.State)
	}
	if len(status.Output) != 2 || status.Output[0] != "https://ephemeral.example/a.png" || status.Output[1] != "https://ephemeral.example/b.png" {
		t.Fatalf("output mismatch: %#v", status.Output)
	}
	if status.Metrics == nil || status.Metrics.TotalTimeSeconds != 4.25 {
		t.Fatalf("metrics mismatch: %#v", status.Metrics)
	}
	if got := transport.lastAuth; got != "Bearer test-key" {
		t.Fatalf("authorization header = %q", got)
	}
}

func TestGetStatusOutputShapes(t *testing.T) {
	tests := []struct {
		name   string
		output any
		want   []string
	}{
		{"absent", nil, nil},
		{"empty list", []any{}, nil},
		{"single string", "https://ephemeral.example/video.mp4", []string{"https://ephemeral.example/video.mp4"}},
		{"objects", []any{map[string]any{"url": "https://ephemeral.example/x.webp"}, map[string]any{"image": " "}}, []string{"https://ephemeral.example/x.webp"}},
		{"blank string", "   ", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			body := map[string]any{"id": "J2", "status": "succeeded"}
			if tc.output != nil {
				body["output"] = tc.output
			}
			transport.setJSONResponse("/v1/predictions/J2", body)
			status, err := newTestClient(t, transport).GetStatus(context.Background(), "J2")
			if err != nil {
				t.Fatalf("GetStatus: %v", err)
			}
			if status.State != StateSucceeded {
				t.Fatalf("state = %s", status.State)
			}
			if len(status.Output) != len(tc.want) {
				t.Fatalf("output = %#v, want %#v", status.Output, tc.want)
			}
			for i := range tc.want {
				if status.Output[i] != tc.want[i] {
					t.Fatalf("output[%d] = %q, want %q", i, status.Output[i], tc.want[i])
				}
			}
		})
	}
}

func TestGetStatusNotFoundIsFailedStatus(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	status, err := newTestClient(t, transport).GetStatus(context.Background(), "missing")
	if err != nil {
		t.Fatalf("404 must not be an error: %v", err)
	}
	if status.State != StateFailed || !status.NotFound() {
		t.Fatalf("expected job-not-found failed status, got %#v", status)
	}
}

func TestGetStatusMapsProviderStates(t *testing.T) {
	cases := map[string]State{
		"starting":   StateQueued,
		"processing": StateRunning,
		"failed":     StateFailed,
		"canceled":   StateFailed,
	}
	for providerState, want := range cases {
		transport := &captureTransport{responses: map[string]responseStub{}}
		transport.setJSONResponse("/v1/predictions/J3", map[string]any{"id": "J3", "status": providerState, "error": "boom"})
		status, err := newTestClient(t, transport).GetStatus(context.Background(), "J3")
		if err != nil {
			t.Fatalf("%s: %v", providerState, err)
		}
		if status.State != want {
			t.Fatalf("%s mapped to %s, want %s", providerState, status.State, want)
		}
		if status.Error != "boom" {
			t.Fatalf("%s: error = %q", providerState, status.Error)
		}
	}
}

func TestGetStatusRetriesServerErrors(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.failures = 2
	transport.setJSONResponse("/v1/predictions/J4", map[string]any{"id": "J4", "status": "processing"})
	status, err := newTestClient(t, transport).GetStatus(context.Background(), "J4")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.State != StateRunning {
		t.Fatalf("state = %s", status.State)
	}
	if transport.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", transport.calls)
	}
}

func TestGetStatusTimeoutIsTransient(t *testing.T) {
	client, err := NewClient(Options{
		APIKey:         "k",
		BaseURL:        "https://provider.test/v1",
		RequestTimeout: 20 * time.Millisecond,
		HTTPClient:     &http.Client{Transport: blockingTransport{}},
		Retry:          resilience.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.GetStatus(context.Background(), "slow")
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !resilience.IsTransient(err) {
		t.Fatalf("timeout must be transient, got %v", err)
	}
}

func TestGetStatusRequiresCredentials(t *testing.T) {
	client, _ := NewClient(Options{})
	if _, err := client.GetStatus(context.Background(), "J"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSubmitReturnsJobID(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/v1/models/acme/flux/predictions", map[string]any{"id": "J9", "status": "starting"})
	client, err := NewClient(Options{
		APIKey:     "k",
		BaseURL:    "https://provider.test/v1",
		Model:      "acme/flux",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	id, err := client.Submit(context.Background(), SubmitRequest{Input: map[string]any{"prompt": "a red bicycle"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "J9" {
		t.Fatalf("job id = %q", id)
	}
	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	input := payload["input"].(map[string]any)
	if input["prompt"] != "a red bicycle" {
		t.Fatalf("prompt not forwarded: %#v", payload)
	}
}

type captureTransport struct {
	mu        sync.Mutex
	responses map[string]responseStub
	lastBody  []byte
	lastAuth  string
	failures  int
	calls     int
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastAuth = req.Header.Get("Authorization")
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if c.failures > 0 {
		c.failures--
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader(`{"detail":"upstream unavailable"}`)),
		}, nil
	}
	if stub, ok := c.responses[req.URL.Path]; ok {
		return stub.toResponse(), nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(`{"detail":"Not found."}`)),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		header[k] = append([]string(nil), values...)
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}

type blockingTransport struct{}

func (blockingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	return nil, req.Context().Err()
}
