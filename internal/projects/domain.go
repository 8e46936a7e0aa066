package projects

import (
	"errors"
	"time"
)

// Status tracks a project through the editorial lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusInReview Status = "in-review"
	StatusApproved Status = "approved"
	StatusArchived Status = "archived"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusArchived:
		return true
	}
	return false
}

// Project is one video project: the unit of content this backend manages.
type Project struct {
	ID          string
	Title       string
	Description string
	Status      Status
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrNotFound   = errors.New("projects: not found")
	ErrValidation = errors.New("projects: validation failed")
	ErrTransition = errors.New("projects: invalid status transition")
)
