package authz

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store used across the package tests. It applies
// the same activity and expiry filters the postgres store applies in SQL.
type memStore struct {
	mu             sync.Mutex
	permissions    map[string]Permission
	roles          map[string]Role
	roleGrants     []RoleGrant
	assignments    []RoleAssignment
	resourceGrants []ResourceGrant
	users          map[string]struct{}
	audits         []AuditEntry

	// Error injection.
	failReads error
	failAudit error
}

func newMemStore() *memStore {
	return &memStore{
		permissions: make(map[string]Permission),
		roles:       make(map[string]Role),
		users:       make(map[string]struct{}),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *memStore) GetPermission(ctx context.Context, id string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return Permission{}, m.failReads
	}
	perm, ok := m.permissions[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return perm, nil
}

func (m *memStore) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return Permission{}, m.failReads
	}
	for _, perm := range m.permissions {
		if perm.Name == name {
			return perm, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms := make([]Permission, 0, len(m.permissions))
	for _, perm := range m.permissions {
		perms = append(perms, perm)
	}
	return perms, nil
}

func (m *memStore) CreatePermission(ctx context.Context, perm Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.Name == perm.Name {
			return ErrConflict
		}
	}
	m.permissions[perm.ID] = perm
	return nil
}

func (m *memStore) DeletePermission(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, id)
	return nil
}

func (m *memStore) PermissionReferenced(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.roleGrants {
		if g.PermissionID == id {
			return true, nil
		}
	}
	for _, g := range m.resourceGrants {
		if g.PermissionID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetRole(ctx context.Context, id string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return Role{}, m.failReads
	}
	role, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *memStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return Role{}, m.failReads
	}
	for _, role := range m.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		roles = append(roles, role)
	}
	return roles, nil
}

func (m *memStore) CreateRole(ctx context.Context, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrConflict
		}
	}
	m.roles[role.ID] = role
	return nil
}

func (m *memStore) SetRoleParent(ctx context.Context, roleID string, parentID *string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	role.ParentRoleID = parentID
	role.Level = level
	m.roles[roleID] = role
	return nil
}

func (m *memStore) DeleteRole(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *memStore) RoleReferenced(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.roleGrants {
		if g.RoleID == id {
			return true, nil
		}
	}
	for _, a := range m.assignments {
		if a.RoleID == id && a.IsActive {
			return true, nil
		}
	}
	for _, g := range m.resourceGrants {
		if g.SubjectType == SubjectRole && g.SubjectID == id {
			return true, nil
		}
	}
	for _, role := range m.roles {
		if role.ParentRoleID != nil && *role.ParentRoleID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateRoleGrant(ctx context.Context, grant RoleGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roleGrants {
		if existing.RoleID == grant.RoleID && existing.PermissionID == grant.PermissionID {
			return ErrConflict
		}
	}
	m.roleGrants = append(m.roleGrants, grant)
	return nil
}

func (m *memStore) DeleteRoleGrant(ctx context.Context, roleID, permissionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []RoleGrant
	var removed int64
	for _, g := range m.roleGrants {
		if g.RoleID == roleID && g.PermissionID == permissionID {
			removed++
			continue
		}
		kept = append(kept, g)
	}
	m.roleGrants = kept
	return removed, nil
}

func (m *memStore) HasRoleGrant(ctx context.Context, roleID, permissionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.roleGrants {
		if g.RoleID == roleID && g.PermissionID == permissionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ActiveGrantsForRoles(ctx context.Context, roleIDs []string, at time.Time) ([]EffectiveGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	inSet := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		inSet[id] = struct{}{}
	}
	var grants []EffectiveGrant
	for _, g := range m.roleGrants {
		if _, ok := inSet[g.RoleID]; !ok {
			continue
		}
		if !g.IsGranted {
			continue
		}
		if g.ExpiresAt != nil && !g.ExpiresAt.After(at) {
			continue
		}
		perm, ok := m.permissions[g.PermissionID]
		if !ok {
			continue
		}
		role := m.roles[g.RoleID]
		grants = append(grants, EffectiveGrant{
			RoleID:         g.RoleID,
			RoleName:       role.Name,
			PermissionID:   perm.ID,
			PermissionName: perm.Name,
			Resource:       perm.Resource,
			Action:         perm.Action,
			Scope:          g.Scope,
			Conditions:     g.Conditions,
			ExpiresAt:      g.ExpiresAt,
		})
	}
	return grants, nil
}

func (m *memStore) CreateAssignment(ctx context.Context, assignment RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.assignments {
		if existing.UserID == assignment.UserID && existing.RoleID == assignment.RoleID && existing.IsActive {
			return ErrConflict
		}
	}
	m.assignments = append(m.assignments, assignment)
	return nil
}

func (m *memStore) DeactivateAssignment(ctx context.Context, userID, roleID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for i, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.IsActive {
			m.assignments[i].IsActive = false
			affected++
		}
	}
	return affected, nil
}

func (m *memStore) HasActiveAssignment(ctx context.Context, userID, roleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.IsActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ActiveAssignmentsForUser(ctx context.Context, userID string, at time.Time) ([]RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	var active []RoleAssignment
	for _, a := range m.assignments {
		if a.UserID != userID || !a.IsActive {
			continue
		}
		if a.ExpiresAt != nil && !a.ExpiresAt.After(at) {
			continue
		}
		active = append(active, a)
	}
	return active, nil
}

func (m *memStore) CreateResourceGrant(ctx context.Context, grant ResourceGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceGrants = append(m.resourceGrants, grant)
	return nil
}

func (m *memStore) ActiveInstanceGrants(ctx context.Context, resource ResourceKind, resourceID, userID string, roleIDs []string, at time.Time) ([]InstanceGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	inSet := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		inSet[id] = struct{}{}
	}
	var grants []InstanceGrant
	for _, g := range m.resourceGrants {
		if g.ResourceType != resource || g.ResourceID != resourceID {
			continue
		}
		if !g.IsGranted {
			continue
		}
		if g.ExpiresAt != nil && !g.ExpiresAt.After(at) {
			continue
		}
		switch g.SubjectType {
		case SubjectUser:
			if g.SubjectID != userID {
				continue
			}
		case SubjectRole:
			if _, ok := inSet[g.SubjectID]; !ok {
				continue
			}
		default:
			continue
		}
		perm, ok := m.permissions[g.PermissionID]
		if !ok {
			continue
		}
		grants = append(grants, InstanceGrant{
			PermissionID: g.PermissionID,
			Action:       perm.Action,
			SubjectType:  g.SubjectType,
			SubjectID:    g.SubjectID,
		})
	}
	return grants, nil
}

func (m *memStore) UserExists(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *memStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAudit != nil {
		return m.failAudit
	}
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) addUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = struct{}{}
}

func (m *memStore) auditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audits)
}

func (m *memStore) lastAudit() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.audits) == 0 {
		return AuditEntry{}
	}
	return m.audits[len(m.audits)-1]
}
