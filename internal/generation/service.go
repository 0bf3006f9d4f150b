// Package generation creates generation records and submits them to the
// provider.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mediarecon/internal/domain"
	"mediarecon/internal/infra"
	"mediarecon/internal/providers/jobstatus"
)

// MaxPromptLength bounds accepted prompts, in characters.
const MaxPromptLength = 4000

// SubmitInput describes a new generation request.
type SubmitInput struct {
	UserID        string
	Kind          domain.Kind
	Prompt        string
	OperationType domain.OperationType
	Model         string
	Input         map[string]any
}

// Service owns record creation and the provider hand-off.
type Service struct {
	repo     domain.GenerationRepository
	provider jobstatus.Submitter
	logger   *infra.Logger
	now      func() time.Time
}

func NewService(repo domain.GenerationRepository, provider jobstatus.Submitter, logger *infra.Logger) *Service {
	return &Service{repo: repo, provider: provider, logger: infra.Component(logger, "generation"), now: time.Now}
}

// Submit stores a PENDING record, submits the job and attaches its id. A
// rejected submission leaves the record FAILED with the provider error. The
// returned record reflects what was persisted.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.Generation, error) {
	rec, err := s.newRecord(in)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	log := s.logger.With().Str("generation_id", rec.ID).Str("user_id", rec.UserID).Str("kind", string(rec.Kind)).Logger()

	input := make(map[string]any, len(in.Input)+1)
	for k, v := range in.Input {
		input[k] = v
	}
	input["prompt"] = rec.Prompt

	jobID, err := s.provider.Submit(ctx, jobstatus.SubmitRequest{Model: in.Model, Input: input})
	if err != nil {
		log.Warn().Err(err).Msg("generation: provider rejected submission")
		s.markFailed(ctx, log, rec, err.Error())
		return rec, fmt.Errorf("%w: %w", domain.ErrProviderFailure, err)
	}

	if err := s.repo.AttachJobID(ctx, rec.Kind, rec.ID, jobID); err != nil {
		// The provider is already running the job. The id only survives in
		// this log line if the failure below cannot be recorded either.
		log.Error().Err(err).Str("job_id", jobID).Msg("generation: could not attach provider job")
		if !errors.Is(err, domain.ErrStaleRecord) {
			s.markFailed(ctx, log, rec, fmt.Sprintf("provider job %s could not be attached: %v", jobID, err))
		}
		return rec, fmt.Errorf("attach job id %s: %w", jobID, err)
	}
	rec.JobID = &jobID
	rec.Status = domain.StatusProcessing
	log.Info().Str("job_id", jobID).Msg("generation: submitted")
	return rec, nil
}

// markFailed moves a PENDING record to FAILED and stamps its completion time.
func (s *Service) markFailed(ctx context.Context, log infra.Logger, rec *domain.Generation, msg string) {
	now := s.now().UTC()
	elapsed := now.Sub(rec.CreatedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	patch := domain.GenerationPatch{
		Status:           domain.StatusPtr(domain.StatusFailed),
		ErrorMessage:     &msg,
		CompletedAt:      &now,
		ProcessingTimeMs: &elapsed,
		ExpectStatus:     domain.StatusPtr(domain.StatusPending),
	}
	if err := s.repo.UpdateStatus(ctx, rec.Kind, rec.ID, patch); err != nil {
		log.Error().Err(err).Msg("generation: failed to record submission failure")
		return
	}
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = &msg
	rec.CompletedAt = &now
	rec.ProcessingTimeMs = &elapsed
}

// Get returns the user's record. Records owned by someone else are reported
// as not found.
func (s *Service) Get(ctx context.Context, kind domain.Kind, id, userID string) (*domain.Generation, error) {
	rec, err := s.repo.GetByID(ctx, kind, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (s *Service) newRecord(in SubmitInput) (*domain.Generation, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" || utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, domain.ErrInvalidPrompt
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.KindPhoto
	}
	if kind != domain.KindPhoto && kind != domain.KindVideo {
		return nil, domain.ErrInvalidKind
	}
	op := in.OperationType
	switch op {
	case "", domain.OperationGenerated, domain.OperationEdited, domain.OperationUpscaled, domain.OperationVideo:
	default:
		return nil, errors.New("unsupported operation type")
	}
	return &domain.Generation{
		UserID:        userID,
		Kind:          kind,
		Prompt:        prompt,
		OperationType: op,
		Status:        domain.StatusPending,
	}, nil
}
