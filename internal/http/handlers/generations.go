package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mediarecon/internal/domain"
	"mediarecon/internal/generation"
)

type generationRequest struct {
	Kind          string         `json:"kind"`
	Prompt        string         `json:"prompt"`
	OperationType string         `json:"operation_type"`
	Model         string         `json:"model"`
	Input         map[string]any `json:"input"`
}

type generationResponse struct {
	ID               string     `json:"id"`
	Kind             string     `json:"kind"`
	Status           string     `json:"status"`
	JobID            *string    `json:"job_id,omitempty"`
	Prompt           string     `json:"prompt"`
	OperationType    string     `json:"operation_type"`
	MediaURLs        []string   `json:"media_urls"`
	ThumbnailURLs    []string   `json:"thumbnail_urls"`
	StorageProvider  *string    `json:"storage_provider,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	ProcessingTimeMs *int64     `json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func toGenerationResponse(g *domain.Generation) generationResponse {
	media := g.MediaURLs
	if media == nil {
		media = []string{}
	}
	thumbs := g.ThumbnailURLs
	if thumbs == nil {
		thumbs = []string{}
	}
	return generationResponse{
		ID:               g.ID,
		Kind:             string(g.Kind),
		Status:           string(g.Status),
		JobID:            g.JobID,
		Prompt:           g.Prompt,
		OperationType:    string(g.OperationType),
		MediaURLs:        media,
		ThumbnailURLs:    thumbs,
		StorageProvider:  g.StorageProvider,
		ErrorMessage:     g.ErrorMessage,
		ProcessingTimeMs: g.ProcessingTimeMs,
		CreatedAt:        g.CreatedAt,
		CompletedAt:      g.CompletedAt,
	}
}

func (a *App) GenerationCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	kind := domain.KindPhoto
	if req.Kind != "" {
		parsed, err := domain.ParseKind(req.Kind)
		if err != nil {
			a.error(w, r, http.StatusBadRequest, "bad_request", "unsupported kind")
			return
		}
		kind = parsed
	}
	rec, err := a.Generations.Submit(r.Context(), generation.SubmitInput{
		UserID:        userID,
		Kind:          kind,
		Prompt:        req.Prompt,
		OperationType: domain.OperationType(req.OperationType),
		Model:         req.Model,
		Input:         req.Input,
	})
	switch {
	case err == nil:
		a.json(w, http.StatusAccepted, toGenerationResponse(rec))
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, r, http.StatusBadRequest, "invalid_prompt", "prompt is empty or too long")
	case errors.Is(err, domain.ErrProviderFailure) && rec != nil:
		a.json(w, http.StatusBadGateway, toGenerationResponse(rec))
	default:
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("http: submit generation failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to submit generation")
	}
}

func (a *App) GenerationGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "unsupported kind")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", "id required")
		return
	}
	rec, err := a.Generations.Get(r.Context(), kind, id, userID)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, toGenerationResponse(rec))
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, "not_found", "generation not found")
	default:
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("http: load generation failed")
		a.error(w, r, http.StatusServiceUnavailable, "unavailable", "generation store unavailable")
	}
}
