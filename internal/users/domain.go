package users

import "time"

// User represents an account this backend manages content for. Authentication
// happens at the edge; the row here anchors role assignments and audit rows.
type User struct {
	ID        string
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
