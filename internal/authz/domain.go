package authz

import "time"

// ResourceKind enumerates the resource types the engine governs.
type ResourceKind string

const (
	ResourceProject ResourceKind = "project"
	ResourceUser    ResourceKind = "user"
	ResourceAsset   ResourceKind = "asset"
	ResourceAIModel ResourceKind = "ai-model"
	ResourceSystem  ResourceKind = "system"
)

// Valid reports whether the value belongs to the closed set.
func (r ResourceKind) Valid() bool {
	switch r {
	case ResourceProject, ResourceUser, ResourceAsset, ResourceAIModel, ResourceSystem:
		return true
	}
	return false
}

// ActionKind enumerates the operations a permission can cover.
type ActionKind string

const (
	ActionCreate  ActionKind = "create"
	ActionRead    ActionKind = "read"
	ActionUpdate  ActionKind = "update"
	ActionDelete  ActionKind = "delete"
	ActionManage  ActionKind = "manage"
	ActionExecute ActionKind = "execute"
	ActionApprove ActionKind = "approve"
)

// Valid reports whether the value belongs to the closed set.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage, ActionExecute, ActionApprove:
		return true
	}
	return false
}

// RoleType distinguishes seeded system roles from operator-defined ones.
type RoleType string

const (
	RoleTypeSystem RoleType = "system"
	RoleTypeCustom RoleType = "custom"
)

// SubjectType identifies who a resource-level grant applies to.
type SubjectType string

const (
	SubjectUser SubjectType = "user"
	SubjectRole SubjectType = "role"
)

// Permission is an atomic capability identified by (resource, action).
type Permission struct {
	ID          string
	Name        string
	Description string
	Resource    ResourceKind
	Action      ActionKind
	Category    string
	IsSystem    bool
	CreatedAt   time.Time
}

// Role groups permissions. Roles form a forest via ParentRoleID; Level is the
// depth from the root of the chain.
type Role struct {
	ID             string
	Name           string
	Description    string
	Type           RoleType
	ParentRoleID   *string
	Level          int
	OrganizationID *string
	IsSystem       bool
	CreatedAt      time.Time
}

// RoleGrant ties a permission to a role, optionally time-bounded and gated on
// caller-supplied context attributes. Rows with IsGranted=false are stored but
// never consulted by the decision path.
type RoleGrant struct {
	ID           string
	RoleID       string
	PermissionID string
	IsGranted    bool
	Scope        *string
	Conditions   map[string]string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
}

// RoleAssignment links a user to a role. Only active, non-expired assignments
// participate in evaluation.
type RoleAssignment struct {
	ID         string
	UserID     string
	RoleID     string
	AssignedBy *string
	Reason     *string
	ExpiresAt  *time.Time
	IsActive   bool
	CreatedAt  time.Time
}

// ResourceGrant scopes a permission to one concrete resource instance. A
// matching grant adds access on top of role evaluation; it never revokes.
type ResourceGrant struct {
	ID           string
	ResourceType ResourceKind
	ResourceID   string
	PermissionID string
	SubjectType  SubjectType
	SubjectID    string
	IsGranted    bool
	ExpiresAt    *time.Time
	CreatedBy    string
	CreatedAt    time.Time
}

// AuditEntry records one authorization decision. Entries are append-only.
type AuditEntry struct {
	ID           string
	Action       string
	ResourceType ResourceKind
	ResourceID   *string
	SubjectType  SubjectType
	SubjectID    string
	PerformedBy  string
	Success      bool
	Details      map[string]string
	CreatedAt    time.Time
}

// EffectiveGrant is a role grant joined with its permission, as consumed by
// the evaluator and by ListUserPermissions.
type EffectiveGrant struct {
	RoleID         string
	RoleName       string
	PermissionID   string
	PermissionName string
	Resource       ResourceKind
	Action         ActionKind
	Scope          *string
	Conditions     map[string]string
	ExpiresAt      *time.Time
}
