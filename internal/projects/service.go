package projects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service provides business logic for project operations.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns projects, optionally filtered by lifecycle status.
func (s *Service) List(ctx context.Context, status *Status) ([]Project, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *status)
	}
	return s.repo.List(ctx, status)
}

// Get returns one project.
func (s *Service) Get(ctx context.Context, id string) (Project, error) {
	return s.repo.Get(ctx, id)
}

// CreateParams describes a new project.
type CreateParams struct {
	Title       string
	Description string
	OwnerID     string
}

// Create inserts a new draft project owned by the caller.
func (s *Service) Create(ctx context.Context, params CreateParams) (Project, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Project{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	now := s.now().UTC()
	project := Project{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(params.Description),
		Status:      StatusDraft,
		OwnerID:     params.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// UpdateParams describes a partial project update.
type UpdateParams struct {
	Title       *string
	Description *string
}

// Update applies the non-nil fields.
func (s *Service) Update(ctx context.Context, id string, params UpdateParams) (Project, error) {
	project, err := s.repo.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return Project{}, fmt.Errorf("%w: title required", ErrValidation)
		}
		project.Title = title
	}
	if params.Description != nil {
		project.Description = strings.TrimSpace(*params.Description)
	}
	project.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// transitions lists the allowed lifecycle moves.
var transitions = map[Status][]Status{
	StatusDraft:    {StatusInReview, StatusArchived},
	StatusInReview: {StatusDraft, StatusApproved, StatusArchived},
	StatusApproved: {StatusArchived},
	StatusArchived: {},
}

// Transition moves the project to the target lifecycle status.
func (s *Service) Transition(ctx context.Context, id string, target Status) (Project, error) {
	if !target.Valid() {
		return Project{}, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}
	project, err := s.repo.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	allowed := false
	for _, next := range transitions[project.Status] {
		if next == target {
			allowed = true
			break
		}
	}
	if !allowed {
		return Project{}, fmt.Errorf("%w: %s -> %s", ErrTransition, project.Status, target)
	}
	project.Status = target
	project.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// Delete removes the project row.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
