package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mediarecon/internal/domain"
	"mediarecon/internal/generation"
	"mediarecon/internal/infra"
	"mediarecon/internal/middleware"
	"mediarecon/internal/migration"
	"mediarecon/internal/recovery"
	"mediarecon/internal/resilience"
)

// Recoverer runs user-scoped recoveries.
type Recoverer interface {
	CheckAndRecoverUserImages(ctx context.Context, userID string) (recovery.Result, error)
	ExecuteAutoRecovery(ctx context.Context, userID string) (recovery.Result, error)
}

// Sweeper runs storage migration sweeps scoped to one user.
type Sweeper interface {
	SweepUser(ctx context.Context, userID string) (migration.SweepResult, error)
}

// Generations creates and reads generation records.
type Generations interface {
	Submit(ctx context.Context, in generation.SubmitInput) (*domain.Generation, error)
	Get(ctx context.Context, kind domain.Kind, id, userID string) (*domain.Generation, error)
}

type App struct {
	Recovery    Recoverer
	Sweeper     Sweeper
	Generations Generations
	Breaker     *resilience.Breaker
	Logger      *infra.Logger
}

func NewApp(rec Recoverer, sweeper Sweeper, gens Generations, breaker *resilience.Breaker, logger *infra.Logger) *App {
	return &App{
		Recovery:    rec,
		Sweeper:     sweeper,
		Generations: gens,
		Breaker:     breaker,
		Logger:      infra.Component(logger, "http"),
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{
		Code:      errCode,
		Message:   message,
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
