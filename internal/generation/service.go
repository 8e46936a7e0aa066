package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Enqueuer submits render work to the background queue.
type Enqueuer interface {
	EnqueueGenerationRender(ctx context.Context, requestID string) error
}

// Service provides business logic for render requests.
type Service struct {
	repo     RepositoryPort
	provider Provider
	queue    Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, provider Provider, queue Enqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, provider: provider, queue: queue, logger: logger, now: time.Now}
}

// SubmitParams describes a new render request.
type SubmitParams struct {
	ProjectID   string
	Prompt      string
	Model       string
	RequestedBy string
}

// Submit stores a queued request and hands it to the background queue.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Request, error) {
	prompt := strings.TrimSpace(params.Prompt)
	if prompt == "" {
		return Request{}, fmt.Errorf("%w: prompt required", ErrValidation)
	}
	if params.ProjectID == "" {
		return Request{}, fmt.Errorf("%w: project id required", ErrValidation)
	}
	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = "default"
	}
	now := s.now().UTC()
	request := Request{
		ID:          uuid.NewString(),
		ProjectID:   params.ProjectID,
		Prompt:      prompt,
		Model:       model,
		Status:      StatusQueued,
		RequestedBy: params.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return Request{}, err
	}
	if err := s.queue.EnqueueGenerationRender(ctx, request.ID); err != nil {
		// The row stays queued; the sweep or a manual retry can pick it up.
		s.logger.Error("enqueue render request failed",
			slog.String("request", request.ID),
			slog.Any("error", err))
		return Request{}, fmt.Errorf("enqueue render: %w", err)
	}
	return request, nil
}

// Get returns one render request.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// ListForProject returns the render history of one project.
func (s *Service) ListForProject(ctx context.Context, projectID string) ([]Request, error) {
	return s.repo.ListForProject(ctx, projectID)
}

// Process runs one queued request against the provider. Called from the
// background worker.
func (s *Service) Process(ctx context.Context, requestID string) error {
	request, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != StatusQueued {
		s.logger.Info("skipping render request in non-queued state",
			slog.String("request", requestID),
			slog.String("status", string(request.Status)))
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, requestID, StatusRunning, "", ""); err != nil {
		return err
	}
	assetURL, err := s.provider.Render(ctx, request.Model, request.Prompt)
	if err != nil {
		if uerr := s.repo.UpdateStatus(ctx, requestID, StatusFailed, "", err.Error()); uerr != nil {
			return uerr
		}
		s.logger.Warn("render request failed",
			slog.String("request", requestID),
			slog.Any("error", err))
		return nil
	}
	return s.repo.UpdateStatus(ctx, requestID, StatusSucceeded, assetURL, "")
}
