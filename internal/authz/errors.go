package authz

import "errors"

var (
	// ErrNotFound indicates a referenced user, role, permission, or grant does
	// not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrConflict indicates an identical active edge already exists, or a row
	// is still referenced by active grants or assignments.
	ErrConflict = errors.New("authz: conflict")
	// ErrImmutable indicates an attempt to mutate or delete a system row.
	ErrImmutable = errors.New("authz: system row is immutable")
	// ErrCycle indicates a parent assignment that would close a role cycle.
	ErrCycle = errors.New("authz: role hierarchy cycle")
	// ErrValidation indicates malformed administrative input.
	ErrValidation = errors.New("authz: invalid input")
)
