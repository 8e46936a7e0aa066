package authz

import (
	"context"
	"time"
)

// InstanceGrant is a resource-level grant row joined with its permission's
// action, as consumed by the override resolver.
type InstanceGrant struct {
	PermissionID string
	Action       ActionKind
	SubjectType  SubjectType
	SubjectID    string
}

// Store is the transactional-context abstraction over the policy tables. The
// engine never mutates policy state during evaluation; it only reads and
// appends audit entries.
type Store interface {
	// WithTx runs fn against a store scoped to a single transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	GetPermission(ctx context.Context, id string) (Permission, error)
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) error
	DeletePermission(ctx context.Context, id string) error
	// PermissionReferenced reports whether any role or resource grant still
	// points at the permission.
	PermissionReferenced(ctx context.Context, id string) (bool, error)

	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) error
	SetRoleParent(ctx context.Context, roleID string, parentID *string, level int) error
	DeleteRole(ctx context.Context, id string) error
	// RoleReferenced reports whether any grant or active assignment still
	// points at the role.
	RoleReferenced(ctx context.Context, id string) (bool, error)

	CreateRoleGrant(ctx context.Context, grant RoleGrant) error
	DeleteRoleGrant(ctx context.Context, roleID, permissionID string) (int64, error)
	HasRoleGrant(ctx context.Context, roleID, permissionID string) (bool, error)
	// ActiveGrantsForRoles returns granted, non-expired role grants joined to
	// their permissions for every role in roleIDs.
	ActiveGrantsForRoles(ctx context.Context, roleIDs []string, at time.Time) ([]EffectiveGrant, error)

	CreateAssignment(ctx context.Context, assignment RoleAssignment) error
	DeactivateAssignment(ctx context.Context, userID, roleID string) (int64, error)
	HasActiveAssignment(ctx context.Context, userID, roleID string) (bool, error)
	ActiveAssignmentsForUser(ctx context.Context, userID string, at time.Time) ([]RoleAssignment, error)

	CreateResourceGrant(ctx context.Context, grant ResourceGrant) error
	// ActiveInstanceGrants returns granted, non-expired resource-level grants
	// for one concrete resource instance where the subject is the user itself
	// or any role in roleIDs.
	ActiveInstanceGrants(ctx context.Context, resource ResourceKind, resourceID, userID string, roleIDs []string, at time.Time) ([]InstanceGrant, error)

	UserExists(ctx context.Context, userID string) (bool, error)

	AppendAudit(ctx context.Context, entry AuditEntry) error
}
