package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"mediarecon/internal/domain"
	"mediarecon/internal/generation"
	"mediarecon/internal/middleware"
	"mediarecon/internal/migration"
	"mediarecon/internal/recovery"
	"mediarecon/internal/resilience"
)

type stubRecoverer struct {
	result recovery.Result
	err    error
	forced bool
	user   string
}

func (s *stubRecoverer) CheckAndRecoverUserImages(ctx context.Context, userID string) (recovery.Result, error) {
	s.user = userID
	return s.result, s.err
}

func (s *stubRecoverer) ExecuteAutoRecovery(ctx context.Context, userID string) (recovery.Result, error) {
	s.user = userID
	s.forced = true
	return s.result, s.err
}

type stubSweeper struct {
	result migration.SweepResult
	err    error
	user   string
}

func (s *stubSweeper) SweepUser(ctx context.Context, userID string) (migration.SweepResult, error) {
	s.user = userID
	return s.result, s.err
}

type stubGenerations struct {
	submitted generation.SubmitInput
	rec       *domain.Generation
	err       error
}

func (s *stubGenerations) Submit(ctx context.Context, in generation.SubmitInput) (*domain.Generation, error) {
	s.submitted = in
	return s.rec, s.err
}

func (s *stubGenerations) Get(ctx context.Context, kind domain.Kind, id, userID string) (*domain.Generation, error) {
	return s.rec, s.err
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestHealthReportsBreakerState(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "database", FailureThreshold: 1, Cooldown: time.Minute})
	app := NewApp(nil, nil, nil, breaker, nil)

	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if body := decode[healthResponse](t, rec); body.Status != "ok" || body.Database.State != resilience.StateClosed {
		t.Fatalf("expected ok with closed breaker, got %#v", body)
	}

	_ = breaker.Execute(context.Background(), func(context.Context) error { return errors.New("down") })

	rec = httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must answer 200 while degraded, got %d", rec.Code)
	}
	if body := decode[healthResponse](t, rec); body.Status != "degraded" || body.Database.State != resilience.StateOpen {
		t.Fatalf("expected degraded with open breaker, got %#v", body)
	}
}

func TestRecoveryCheckReturnsResult(t *testing.T) {
	rcv := &stubRecoverer{result: recovery.Result{Success: true, RecoveredCount: 2, TotalProcessed: 3, FailedCount: 1}}
	app := NewApp(rcv, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	app.RecoveryCheck(rec, asUser(httptest.NewRequest(http.MethodPost, "/v1/recovery/check", nil), "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	raw := rec.Body.String()
	if !strings.Contains(raw, `"recoveredCount":2`) || !strings.Contains(raw, `"errors":[]`) {
		t.Fatalf("unexpected body %s", raw)
	}
	if rcv.user != "u1" || rcv.forced {
		t.Fatalf("expected periodic check for u1, got user=%q forced=%v", rcv.user, rcv.forced)
	}
}

func TestRecoveryRejectionStillAnswersOK(t *testing.T) {
	rcv := &stubRecoverer{
		result: recovery.Result{Errors: []string{recovery.ErrInProgress.Error()}},
		err:    recovery.ErrInProgress,
	}
	app := NewApp(rcv, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	app.RecoveryForce(rec, asUser(httptest.NewRequest(http.MethodPost, "/v1/recovery/force", nil), "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[recovery.Result](t, rec)
	if body.Success || len(body.Errors) != 1 || !rcv.forced {
		t.Fatalf("unexpected result %#v", body)
	}
}

func TestRecoveryRequiresUser(t *testing.T) {
	app := NewApp(&stubRecoverer{}, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	app.RecoveryCheck(rec, httptest.NewRequest(http.MethodPost, "/v1/recovery/check", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error %#v", body)
	}
}

func TestStorageSweep(t *testing.T) {
	app := NewApp(nil, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	app.StorageSweep(rec, asUser(httptest.NewRequest(http.MethodPost, "/v1/storage/sweep", nil), "u1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without sweeper, got %d", rec.Code)
	}

	sweeper := &stubSweeper{result: migration.SweepResult{Scanned: 4, Migrated: 3, Failed: 1}}
	app = NewApp(nil, sweeper, nil, nil, nil)
	rec = httptest.NewRecorder()
	app.StorageSweep(rec, asUser(httptest.NewRequest(http.MethodPost, "/v1/storage/sweep", nil), "u1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode[migration.SweepResult](t, rec); body.Migrated != 3 || body.Failed != 1 {
		t.Fatalf("unexpected sweep result %#v", body)
	}
	if sweeper.user != "u1" {
		t.Fatalf("sweep must be scoped to the caller, got user %q", sweeper.user)
	}

	sweeper = &stubSweeper{}
	app = NewApp(nil, sweeper, nil, nil, nil)
	rec = httptest.NewRecorder()
	app.StorageSweep(rec, httptest.NewRequest(http.MethodPost, "/v1/storage/sweep", nil))
	if rec.Code != http.StatusUnauthorized || sweeper.user != "" {
		t.Fatalf("anonymous sweep must be rejected before reaching the worker, got %d", rec.Code)
	}
}

func TestGenerationCreate(t *testing.T) {
	jobID := "job-1"
	processing := &domain.Generation{ID: "G1", Kind: domain.KindPhoto, Status: domain.StatusProcessing, JobID: &jobID, Prompt: "a cat"}
	failedMsg := "provider unavailable"
	failed := &domain.Generation{ID: "G2", Kind: domain.KindVideo, Status: domain.StatusFailed, ErrorMessage: &failedMsg}

	tests := []struct {
		name     string
		body     string
		rec      *domain.Generation
		err      error
		wantCode int
		wantKind domain.Kind
	}{
		{"accepted", `{"prompt":"a cat"}`, processing, nil, http.StatusAccepted, domain.KindPhoto},
		{"video kind", `{"kind":"video","prompt":"waves"}`, processing, nil, http.StatusAccepted, domain.KindVideo},
		{"unknown kind", `{"kind":"audio","prompt":"x"}`, nil, nil, http.StatusBadRequest, ""},
		{"malformed body", `{`, nil, nil, http.StatusBadRequest, ""},
		{"invalid prompt", `{"prompt":""}`, nil, domain.ErrInvalidPrompt, http.StatusBadRequest, domain.KindPhoto},
		{"provider failure", `{"kind":"video","prompt":"x"}`, failed, fmt.Errorf("%w: boom", domain.ErrProviderFailure), http.StatusBadGateway, domain.KindVideo},
		{"store failure", `{"prompt":"x"}`, nil, errors.New("db down"), http.StatusInternalServerError, domain.KindPhoto},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gens := &stubGenerations{rec: tc.rec, err: tc.err}
			app := NewApp(nil, nil, gens, nil, nil)
			req := asUser(httptest.NewRequest(http.MethodPost, "/v1/generations/", strings.NewReader(tc.body)), "u1")
			rec := httptest.NewRecorder()
			app.GenerationCreate(rec, req)
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tc.wantCode, rec.Code, rec.Body.String())
			}
			if tc.wantKind != "" && (gens.submitted.Kind != tc.wantKind || gens.submitted.UserID != "u1") {
				t.Fatalf("unexpected submit input %#v", gens.submitted)
			}
		})
	}
}

func TestGenerationCreateReturnsFailedRecord(t *testing.T) {
	msg := "provider unavailable"
	gens := &stubGenerations{
		rec: &domain.Generation{ID: "G2", Kind: domain.KindPhoto, Status: domain.StatusFailed, ErrorMessage: &msg},
		err: fmt.Errorf("%w: 503", domain.ErrProviderFailure),
	}
	app := NewApp(nil, nil, gens, nil, nil)
	rec := httptest.NewRecorder()
	app.GenerationCreate(rec, asUser(httptest.NewRequest(http.MethodPost, "/v1/generations/", strings.NewReader(`{"prompt":"x"}`)), "u1"))

	body := decode[generationResponse](t, rec)
	if body.Status != string(domain.StatusFailed) || body.ErrorMessage == nil || *body.ErrorMessage != msg {
		t.Fatalf("expected failed record in body, got %#v", body)
	}
	if body.MediaURLs == nil || body.ThumbnailURLs == nil {
		t.Fatalf("url lists must render as arrays, got %#v", body)
	}
}

func TestGenerationGet(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		rec      *domain.Generation
		err      error
		wantCode int
	}{
		{"found", "/v1/generations/photo/G1", &domain.Generation{ID: "G1", Kind: domain.KindPhoto, Status: domain.StatusCompleted}, nil, http.StatusOK},
		{"not found", "/v1/generations/photo/G9", nil, domain.ErrNotFound, http.StatusNotFound},
		{"bad kind", "/v1/generations/audio/G1", nil, nil, http.StatusBadRequest},
		{"store unavailable", "/v1/generations/video/G1", nil, resilience.ErrCircuitOpen, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := NewApp(nil, nil, &stubGenerations{rec: tc.rec, err: tc.err}, nil, nil)
			r := chi.NewRouter()
			r.Get("/v1/generations/{kind}/{id}", app.GenerationGet)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, tc.path, nil), "u1"))
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d (%s)", tc.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}
