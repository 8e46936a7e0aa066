package generation

import (
	"errors"
	"time"
)

// RequestStatus tracks one render request through the queue.
type RequestStatus string

const (
	StatusQueued    RequestStatus = "queued"
	StatusRunning   RequestStatus = "running"
	StatusSucceeded RequestStatus = "succeeded"
	StatusFailed    RequestStatus = "failed"
)

// Request is one AI render request tied to a project.
type Request struct {
	ID          string
	ProjectID   string
	Prompt      string
	Model       string
	Status      RequestStatus
	AssetURL    string
	ErrorDetail string
	RequestedBy string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrNotFound   = errors.New("generation: not found")
	ErrValidation = errors.New("generation: validation failed")
)
