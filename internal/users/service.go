package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumina-cms/lumina/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, user User, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUserParams describes a new account.
type CreateUserParams struct {
	Email    string
	Name     string
	Password string
}

// CreateUser provisions an account with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return User{}, fmt.Errorf("%w: email required", shared.ErrValidation)
	}
	if len(params.Password) < 8 {
		return User{}, fmt.Errorf("%w: password too short", shared.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	user := User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(params.Name),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateUser(ctx, user, string(hash)); err != nil {
		return User{}, err
	}
	return user, nil
}

// DeactivateUser disables an account without deleting its history.
func (s *Service) DeactivateUser(ctx context.Context, id string) error {
	return s.repo.SetActive(ctx, id, false)
}
