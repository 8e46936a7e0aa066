package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DecisionMetrics receives the outcome of every Check call.
type DecisionMetrics interface {
	ObserveAuthzDecision(outcome string)
}

// ServiceConfig collects the dependencies of the authorization service.
type ServiceConfig struct {
	Store   Store
	Logger  *slog.Logger
	Cache   *DecisionCache
	Metrics DecisionMetrics
}

// Service is the authorization engine: the Check decision path plus the
// administrative surface over the policy tables. It holds no mutable state of
// its own; concurrent Check calls are safe and never block each other.
type Service struct {
	store   Store
	logger  *slog.Logger
	cache   *DecisionCache
	metrics DecisionMetrics
	audit   *Recorder
	group   singleflight.Group
	now     func() time.Time
}

// NewService constructs the engine around an injected store handle.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:   cfg.Store,
		logger:  cfg.Logger,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		audit:   NewRecorder(cfg.Store, cfg.Logger),
		now:     time.Now,
	}
}

// WithClock overrides the service clock for testing.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
		s.audit.now = now
	}
}

// Check is the sole decision entrypoint. It answers whether userID may perform
// action on the given resource type (optionally one specific instance, under
// caller-supplied context attributes). Every call is audited; any internal
// failure is fail-closed: the caller sees a plain deny, the audit trail keeps
// the distinction.
func (s *Service) Check(ctx context.Context, userID string, resource ResourceKind, action ActionKind, resourceID *string, attrs map[string]string) bool {
	allowed, reason, err := s.decide(ctx, userID, resource, action, resourceID, attrs)
	details := map[string]string{"reason": reason}
	outcome := "deny"
	if err != nil {
		allowed = false
		outcome = "error"
		details["reason"] = "internal-error"
		details["error"] = err.Error()
		if s.logger != nil {
			s.logger.Error("permission check failed closed",
				slog.String("user", userID),
				slog.String("resource", string(resource)),
				slog.String("action", string(action)),
				slog.Any("error", err))
		}
	} else if allowed {
		outcome = "allow"
	}
	s.audit.RecordCheck(ctx, userID, resource, resourceID, action, allowed, details)
	if s.metrics != nil {
		s.metrics.ObserveAuthzDecision(outcome)
	}
	return allowed
}

func (s *Service) decide(ctx context.Context, userID string, resource ResourceKind, action ActionKind, resourceID *string, attrs map[string]string) (bool, string, error) {
	if userID == "" || !resource.Valid() || !action.Valid() {
		return false, "invalid-input", nil
	}

	cacheKey := ""
	if s.cache != nil {
		key, err := s.cache.Key(ctx, userID, resource, action, resourceID, attrs)
		if err == nil {
			cacheKey = key
			if allowed, ok, err := s.cache.Lookup(ctx, key); err == nil && ok {
				return allowed, "cached", nil
			}
		} else if s.logger != nil {
			s.logger.Debug("decision cache unavailable", slog.Any("error", err))
		}
	}

	evaluate := func() (bool, string, error) {
		allowed, reason, err := s.evaluate(ctx, userID, resource, action, resourceID, attrs)
		if err == nil && cacheKey != "" {
			if cerr := s.cache.Store(ctx, cacheKey, allowed); cerr != nil && s.logger != nil {
				s.logger.Debug("decision cache store failed", slog.Any("error", cerr))
			}
		}
		return allowed, reason, err
	}

	if cacheKey == "" {
		return evaluate()
	}
	type decision struct {
		allowed bool
		reason  string
	}
	v, err, _ := s.group.Do(cacheKey, func() (any, error) {
		allowed, reason, err := evaluate()
		if err != nil {
			return nil, err
		}
		return decision{allowed: allowed, reason: reason}, nil
	})
	if err != nil {
		return false, "", err
	}
	d := v.(decision)
	return d.allowed, d.reason, nil
}

// evaluate runs the uncached resolution sequence: active assignments, role
// closure, instance overrides, then the role-grant disjunction.
func (s *Service) evaluate(ctx context.Context, userID string, resource ResourceKind, action ActionKind, resourceID *string, attrs map[string]string) (bool, string, error) {
	now := s.now()

	assignments, err := s.store.ActiveAssignmentsForUser(ctx, userID, now)
	if err != nil {
		return false, "", fmt.Errorf("load assignments: %w", err)
	}
	if len(assignments) == 0 {
		return false, "no-active-roles", nil
	}

	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}
	closure, err := resolveClosure(ctx, s.store, roleIDs)
	if err != nil {
		return false, "", fmt.Errorf("resolve role closure: %w", err)
	}

	// Instance-level overrides can only add access; absence of a match falls
	// through to role evaluation rather than denying.
	if resourceID != nil && *resourceID != "" {
		overrides, err := s.store.ActiveInstanceGrants(ctx, resource, *resourceID, userID, closure, now)
		if err != nil {
			return false, "", fmt.Errorf("load resource grants: %w", err)
		}
		for _, g := range overrides {
			if g.Action == action {
				return true, "resource-grant", nil
			}
		}
	}

	grants, err := s.store.ActiveGrantsForRoles(ctx, closure, now)
	if err != nil {
		return false, "", fmt.Errorf("load role grants: %w", err)
	}
	for _, g := range grants {
		if g.Resource != resource || g.Action != action {
			continue
		}
		if !conditionsSatisfied(g.Conditions, attrs) {
			continue
		}
		return true, "role-grant", nil
	}
	return false, "no-matching-grant", nil
}

// ListUserPermissions returns every effective grant the user holds through the
// role closure, optionally filtered by resource type.
func (s *Service) ListUserPermissions(ctx context.Context, userID string, resource *ResourceKind) ([]EffectiveGrant, error) {
	now := s.now()
	assignments, err := s.store.ActiveAssignmentsForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}
	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}
	closure, err := resolveClosure(ctx, s.store, roleIDs)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.ActiveGrantsForRoles(ctx, closure, now)
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return grants, nil
	}
	filtered := make([]EffectiveGrant, 0, len(grants))
	for _, g := range grants {
		if g.Resource == *resource {
			filtered = append(filtered, g)
		}
	}
	return filtered, nil
}

// CreatePermissionParams describes an administrative permission creation.
type CreatePermissionParams struct {
	Name        string
	Description string
	Resource    ResourceKind
	Action      ActionKind
	Category    string
	IsSystem    bool
}

// CreatePermission inserts a new permission. The natural key is the name,
// which defaults to "resource.action".
func (s *Service) CreatePermission(ctx context.Context, params CreatePermissionParams) (Permission, error) {
	if !params.Resource.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown resource %q", ErrValidation, params.Resource)
	}
	if !params.Action.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown action %q", ErrValidation, params.Action)
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = fmt.Sprintf("%s.%s", params.Resource, params.Action)
	}
	if _, err := s.store.GetPermissionByName(ctx, name); err == nil {
		return Permission{}, fmt.Errorf("%w: permission %q already exists", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	perm := Permission{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(params.Description),
		Resource:    params.Resource,
		Action:      params.Action,
		Category:    defaultString(params.Category, "general"),
		IsSystem:    params.IsSystem,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreatePermission(ctx, perm); err != nil {
		return Permission{}, err
	}
	s.invalidate(ctx)
	return perm, nil
}

// DeletePermission removes a permission that is neither a system row nor
// referenced by any grant.
func (s *Service) DeletePermission(ctx context.Context, id string) error {
	perm, err := s.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return fmt.Errorf("%w: permission %q", ErrImmutable, perm.Name)
	}
	referenced, err := s.store.PermissionReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("%w: permission %q is still granted", ErrConflict, perm.Name)
	}
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// CreateRoleParams describes an administrative role creation.
type CreateRoleParams struct {
	Name           string
	Description    string
	Type           RoleType
	ParentRoleID   *string
	OrganizationID *string
	IsSystem       bool
}

// CreateRole inserts a new role, deriving its level from the parent chain.
func (s *Service) CreateRole(ctx context.Context, params CreateRoleParams) (Role, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name required", ErrValidation)
	}
	roleType := params.Type
	if roleType == "" {
		roleType = RoleTypeCustom
	}
	if _, err := s.store.GetRoleByName(ctx, name); err == nil {
		return Role{}, fmt.Errorf("%w: role %q already exists", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}

	id := uuid.NewString()
	level := 0
	if params.ParentRoleID != nil {
		parent, err := s.store.GetRole(ctx, *params.ParentRoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Role{}, fmt.Errorf("%w: parent role %q", ErrNotFound, *params.ParentRoleID)
			}
			return Role{}, err
		}
		cyclic, err := wouldCycle(ctx, s.store, id, parent.ID)
		if err != nil {
			return Role{}, err
		}
		if cyclic {
			return Role{}, ErrCycle
		}
		level = parent.Level + 1
	}
	role := Role{
		ID:             id,
		Name:           name,
		Description:    strings.TrimSpace(params.Description),
		Type:           roleType,
		ParentRoleID:   params.ParentRoleID,
		Level:          level,
		OrganizationID: params.OrganizationID,
		IsSystem:       params.IsSystem,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return role, nil
}

// SetRoleParent relinks a role under a new parent, refusing system rows and
// cycle-introducing links.
func (s *Service) SetRoleParent(ctx context.Context, roleID string, parentID *string) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: role %q", ErrImmutable, role.Name)
	}
	level := 0
	if parentID != nil {
		parent, err := s.store.GetRole(ctx, *parentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: parent role %q", ErrNotFound, *parentID)
			}
			return err
		}
		cyclic, err := wouldCycle(ctx, s.store, roleID, parent.ID)
		if err != nil {
			return err
		}
		if cyclic {
			return ErrCycle
		}
		level = parent.Level + 1
	}
	if err := s.store.SetRoleParent(ctx, roleID, parentID, level); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// DeleteRole removes a role that is neither a system row nor referenced by
// grants, assignments, or child roles.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: role %q", ErrImmutable, role.Name)
	}
	referenced, err := s.store.RoleReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("%w: role %q is still referenced", ErrConflict, role.Name)
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// GrantParams carries the optional attributes of a role→permission edge.
// IsGranted defaults to true when nil; false rows are stored but stay inert
// in the decision path.
type GrantParams struct {
	Scope      *string
	Conditions map[string]string
	IsGranted  *bool
	ExpiresAt  *time.Time
}

// AssignPermissionToRole creates a role→permission edge. An identical existing
// edge is a conflict, not a silent no-op.
func (s *Service) AssignPermissionToRole(ctx context.Context, roleID, permissionID string, params GrantParams) (RoleGrant, error) {
	var grant RoleGrant
	err := s.store.WithTx(ctx, func(tx Store) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: role %q", ErrNotFound, roleID)
			}
			return err
		}
		perm, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: permission %q", ErrNotFound, permissionID)
			}
			return err
		}
		exists, err := tx.HasRoleGrant(ctx, roleID, permissionID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: role %q already holds %q", ErrConflict, role.Name, perm.Name)
		}
		granted := true
		if params.IsGranted != nil {
			granted = *params.IsGranted
		}
		grant = RoleGrant{
			ID:           uuid.NewString(),
			RoleID:       roleID,
			PermissionID: permissionID,
			IsGranted:    granted,
			Scope:        params.Scope,
			Conditions:   params.Conditions,
			ExpiresAt:    params.ExpiresAt,
			CreatedAt:    s.now().UTC(),
		}
		return tx.CreateRoleGrant(ctx, grant)
	})
	if err != nil {
		return RoleGrant{}, err
	}
	s.invalidate(ctx)
	return grant, nil
}

// RevokePermissionFromRole removes a role→permission edge.
func (s *Service) RevokePermissionFromRole(ctx context.Context, roleID, permissionID string) error {
	affected, err := s.store.DeleteRoleGrant(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: no grant of %q for role %q", ErrNotFound, permissionID, roleID)
	}
	s.invalidate(ctx)
	return nil
}

// AssignmentParams carries the optional attributes of a user→role assignment.
type AssignmentParams struct {
	AssignedBy *string
	Reason     *string
	ExpiresAt  *time.Time
}

// GrantRoleToUser creates an active user→role assignment. A second active
// assignment of the same role is a conflict.
func (s *Service) GrantRoleToUser(ctx context.Context, userID, roleID string, params AssignmentParams) (RoleAssignment, error) {
	var assignment RoleAssignment
	err := s.store.WithTx(ctx, func(tx Store) error {
		known, err := tx.UserExists(ctx, userID)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: user %q", ErrNotFound, userID)
		}
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: role %q", ErrNotFound, roleID)
			}
			return err
		}
		active, err := tx.HasActiveAssignment(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: user %q already holds role %q", ErrConflict, userID, role.Name)
		}
		assignment = RoleAssignment{
			ID:         uuid.NewString(),
			UserID:     userID,
			RoleID:     roleID,
			AssignedBy: params.AssignedBy,
			Reason:     params.Reason,
			ExpiresAt:  params.ExpiresAt,
			IsActive:   true,
			CreatedAt:  s.now().UTC(),
		}
		return tx.CreateAssignment(ctx, assignment)
	})
	if err != nil {
		return RoleAssignment{}, err
	}
	s.invalidate(ctx)
	return assignment, nil
}

// RevokeRoleFromUser deactivates the user's assignment of the role.
func (s *Service) RevokeRoleFromUser(ctx context.Context, userID, roleID string) error {
	affected, err := s.store.DeactivateAssignment(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: no active assignment of %q for user %q", ErrNotFound, roleID, userID)
	}
	s.invalidate(ctx)
	return nil
}

// ResourceGrantParams describes an instance-level grant.
type ResourceGrantParams struct {
	ResourceType ResourceKind
	ResourceID   string
	PermissionID string
	SubjectType  SubjectType
	SubjectID    string
	ExpiresAt    *time.Time
	CreatedBy    string
}

// GrantResourcePermission scopes a permission to one concrete resource
// instance for a user or role subject.
func (s *Service) GrantResourcePermission(ctx context.Context, params ResourceGrantParams) (ResourceGrant, error) {
	if !params.ResourceType.Valid() {
		return ResourceGrant{}, fmt.Errorf("%w: unknown resource %q", ErrValidation, params.ResourceType)
	}
	if params.ResourceID == "" || params.SubjectID == "" {
		return ResourceGrant{}, fmt.Errorf("%w: resource id and subject id required", ErrValidation)
	}
	if _, err := s.store.GetPermission(ctx, params.PermissionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ResourceGrant{}, fmt.Errorf("%w: permission %q", ErrNotFound, params.PermissionID)
		}
		return ResourceGrant{}, err
	}
	switch params.SubjectType {
	case SubjectUser:
		known, err := s.store.UserExists(ctx, params.SubjectID)
		if err != nil {
			return ResourceGrant{}, err
		}
		if !known {
			return ResourceGrant{}, fmt.Errorf("%w: user %q", ErrNotFound, params.SubjectID)
		}
	case SubjectRole:
		if _, err := s.store.GetRole(ctx, params.SubjectID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ResourceGrant{}, fmt.Errorf("%w: role %q", ErrNotFound, params.SubjectID)
			}
			return ResourceGrant{}, err
		}
	default:
		return ResourceGrant{}, fmt.Errorf("%w: unknown subject type %q", ErrValidation, params.SubjectType)
	}
	grant := ResourceGrant{
		ID:           uuid.NewString(),
		ResourceType: params.ResourceType,
		ResourceID:   params.ResourceID,
		PermissionID: params.PermissionID,
		SubjectType:  params.SubjectType,
		SubjectID:    params.SubjectID,
		IsGranted:    true,
		ExpiresAt:    params.ExpiresAt,
		CreatedBy:    params.CreatedBy,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateResourceGrant(ctx, grant); err != nil {
		return ResourceGrant{}, err
	}
	s.invalidate(ctx)
	return grant, nil
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil && s.logger != nil {
		s.logger.Warn("decision cache invalidation failed", slog.Any("error", err))
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
