package projects

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepository struct {
	mu       sync.Mutex
	projects map[string]Project
}

func newMockRepository() *mockRepository {
	return &mockRepository{projects: map[string]Project{}}
}

func (m *mockRepository) List(ctx context.Context, status *Status) ([]Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Project
	for _, p := range m.projects {
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRepository) Get(ctx context.Context, id string) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (m *mockRepository) Create(ctx context.Context, project Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[project.ID] = project
	return nil
}

func (m *mockRepository) Update(ctx context.Context, project Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[project.ID]; !ok {
		return ErrNotFound
	}
	m.projects[project.ID] = project
	return nil
}

func (m *mockRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

func TestCreateProject(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	project, err := svc.Create(ctx, CreateParams{Title: "  Launch video  ", OwnerID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "Launch video", project.Title)
	assert.Equal(t, StatusDraft, project.Status)
	assert.Equal(t, "user-1", project.OwnerID)
	assert.NotEmpty(t, project.ID)

	_, err = svc.Create(ctx, CreateParams{Title: "   ", OwnerID: "user-1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateProject(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	project, err := svc.Create(ctx, CreateParams{Title: "Original", OwnerID: "user-1"})
	require.NoError(t, err)

	title := "Renamed"
	updated, err := svc.Update(ctx, project.ID, UpdateParams{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	empty := " "
	_, err = svc.Update(ctx, project.ID, UpdateParams{Title: &empty})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Update(ctx, "missing", UpdateParams{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProjectLifecycle(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	project, err := svc.Create(ctx, CreateParams{Title: "Pipeline", OwnerID: "user-1"})
	require.NoError(t, err)

	// Draft cannot be approved directly.
	_, err = svc.Transition(ctx, project.ID, StatusApproved)
	assert.ErrorIs(t, err, ErrTransition)

	inReview, err := svc.Transition(ctx, project.ID, StatusInReview)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, inReview.Status)

	approved, err := svc.Transition(ctx, project.ID, StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	// Approved projects can only be archived.
	_, err = svc.Transition(ctx, project.ID, StatusDraft)
	assert.ErrorIs(t, err, ErrTransition)

	archived, err := svc.Transition(ctx, project.ID, StatusArchived)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	_, err = svc.Transition(ctx, project.ID, Status("published"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListProjectsByStatus(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateParams{Title: "First", OwnerID: "user-1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{Title: "Second", OwnerID: "user-1"})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, first.ID, StatusInReview)
	require.NoError(t, err)

	drafts := StatusDraft
	listed, err := svc.List(ctx, &drafts)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, "Second", listed[0].Title)

	bogus := Status("bogus")
	_, err = svc.List(ctx, &bogus)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteProject(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo)
	ctx := context.Background()

	project, err := svc.Create(ctx, CreateParams{Title: "Short lived", OwnerID: "user-1"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, project.ID))
	assert.ErrorIs(t, svc.Delete(ctx, project.ID), ErrNotFound)
}
