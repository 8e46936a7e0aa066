package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store Store) *Service {
	return NewService(ServiceConfig{Store: store, Logger: testLogger()})
}

func seedPermissionRow(t *testing.T, store *memStore, resource ResourceKind, action ActionKind) Permission {
	t.Helper()
	perm := Permission{
		ID:        uuid.NewString(),
		Name:      string(resource) + "." + string(action),
		Resource:  resource,
		Action:    action,
		Category:  "test",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreatePermission(context.Background(), perm))
	return perm
}

func seedRoleRow(t *testing.T, store *memStore, name string, parentID *string) Role {
	t.Helper()
	level := 0
	if parentID != nil {
		parent, err := store.GetRole(context.Background(), *parentID)
		require.NoError(t, err)
		level = parent.Level + 1
	}
	role := Role{
		ID:           uuid.NewString(),
		Name:         name,
		Type:         RoleTypeCustom,
		ParentRoleID: parentID,
		Level:        level,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.CreateRole(context.Background(), role))
	return role
}

func seedGrantRow(t *testing.T, store *memStore, roleID, permissionID string, mutate ...func(*RoleGrant)) {
	t.Helper()
	grant := RoleGrant{
		ID:           uuid.NewString(),
		RoleID:       roleID,
		PermissionID: permissionID,
		IsGranted:    true,
		CreatedAt:    time.Now(),
	}
	for _, fn := range mutate {
		fn(&grant)
	}
	require.NoError(t, store.CreateRoleGrant(context.Background(), grant))
}

func seedAssignmentRow(t *testing.T, store *memStore, userID, roleID string, mutate ...func(*RoleAssignment)) {
	t.Helper()
	store.addUser(userID)
	assignment := RoleAssignment{
		ID:        uuid.NewString(),
		UserID:    userID,
		RoleID:    roleID,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	for _, fn := range mutate {
		fn(&assignment)
	}
	require.NoError(t, store.CreateAssignment(context.Background(), assignment))
}

func TestCheckDirectRoleGrant(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	creator := seedRoleRow(t, store, "content-creator", nil)
	readPerm := seedPermissionRow(t, store, ResourceProject, ActionRead)
	updatePerm := seedPermissionRow(t, store, ResourceProject, ActionUpdate)
	seedGrantRow(t, store, creator.ID, readPerm.ID)
	seedGrantRow(t, store, creator.ID, updatePerm.ID)
	seedAssignmentRow(t, store, "user-1", creator.ID)

	assert.True(t, svc.Check(ctx, "user-1", ResourceProject, ActionRead, nil, nil))
	assert.True(t, svc.Check(ctx, "user-1", ResourceProject, ActionUpdate, nil, nil))
	assert.False(t, svc.Check(ctx, "user-1", ResourceProject, ActionDelete, nil, nil))
}

func TestCheckInheritsParentGrant(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	parent := seedRoleRow(t, store, "parent", nil)
	child := seedRoleRow(t, store, "child", &parent.ID)
	perm := seedPermissionRow(t, store, ResourceAsset, ActionRead)
	seedGrantRow(t, store, parent.ID, perm.ID)
	seedAssignmentRow(t, store, "user-2", child.ID)

	assert.True(t, svc.Check(ctx, "user-2", ResourceAsset, ActionRead, nil, nil))
	assert.False(t, svc.Check(ctx, "user-2", ResourceAsset, ActionUpdate, nil, nil))
}

func TestCheckExpiredGrantDenied(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	reviewer := seedRoleRow(t, store, "reviewer", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionApprove)
	past := time.Now().Add(-time.Hour)
	seedGrantRow(t, store, reviewer.ID, perm.ID, func(g *RoleGrant) { g.ExpiresAt = &past })
	seedAssignmentRow(t, store, "user-3", reviewer.ID)

	assert.False(t, svc.Check(ctx, "user-3", ResourceProject, ActionApprove, nil, nil))
}

func TestCheckExpiredAssignmentDenied(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role := seedRoleRow(t, store, "editor", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionUpdate)
	seedGrantRow(t, store, role.ID, perm.ID)
	past := time.Now().Add(-time.Minute)
	seedAssignmentRow(t, store, "user-4", role.ID, func(a *RoleAssignment) { a.ExpiresAt = &past })

	assert.False(t, svc.Check(ctx, "user-4", ResourceProject, ActionUpdate, nil, nil))
}

func TestCheckResourceInstanceGrant(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role := seedRoleRow(t, store, "plain", nil)
	perm := seedPermissionRow(t, store, ResourceAsset, ActionRead)
	seedAssignmentRow(t, store, "user-5", role.ID)
	require.NoError(t, store.CreateResourceGrant(ctx, ResourceGrant{
		ID:           uuid.NewString(),
		ResourceType: ResourceAsset,
		ResourceID:   "asset-42",
		PermissionID: perm.ID,
		SubjectType:  SubjectUser,
		SubjectID:    "user-5",
		IsGranted:    true,
		CreatedAt:    time.Now(),
	}))

	target := "asset-42"
	other := "asset-7"
	assert.True(t, svc.Check(ctx, "user-5", ResourceAsset, ActionRead, &target, nil))
	assert.False(t, svc.Check(ctx, "user-5", ResourceAsset, ActionRead, &other, nil))
	assert.False(t, svc.Check(ctx, "user-5", ResourceAsset, ActionRead, nil, nil))
}

func TestCheckRoleScopedInstanceGrant(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	parent := seedRoleRow(t, store, "team", nil)
	child := seedRoleRow(t, store, "member", &parent.ID)
	perm := seedPermissionRow(t, store, ResourceProject, ActionUpdate)
	seedAssignmentRow(t, store, "user-6", child.ID)
	// Granted to the parent role; reachable through the closure.
	require.NoError(t, store.CreateResourceGrant(ctx, ResourceGrant{
		ID:           uuid.NewString(),
		ResourceType: ResourceProject,
		ResourceID:   "proj-9",
		PermissionID: perm.ID,
		SubjectType:  SubjectRole,
		SubjectID:    parent.ID,
		IsGranted:    true,
		CreatedAt:    time.Now(),
	}))

	target := "proj-9"
	assert.True(t, svc.Check(ctx, "user-6", ResourceProject, ActionUpdate, &target, nil))
}

func TestCheckConditionalGrant(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	editor := seedRoleRow(t, store, "editor", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionUpdate)
	seedGrantRow(t, store, editor.ID, perm.ID, func(g *RoleGrant) {
		g.Conditions = map[string]string{"org": "A"}
	})
	seedAssignmentRow(t, store, "user-7", editor.ID)

	assert.True(t, svc.Check(ctx, "user-7", ResourceProject, ActionUpdate, nil, map[string]string{"org": "A"}))
	assert.False(t, svc.Check(ctx, "user-7", ResourceProject, ActionUpdate, nil, map[string]string{"org": "B"}))
	assert.False(t, svc.Check(ctx, "user-7", ResourceProject, ActionUpdate, nil, nil))
	// Extra context keys are ignored.
	assert.True(t, svc.Check(ctx, "user-7", ResourceProject, ActionUpdate, nil, map[string]string{"org": "A", "team": "x"}))
}

func TestCheckDenyRowsAreInert(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role := seedRoleRow(t, store, "mixed", nil)
	perm := seedPermissionRow(t, store, ResourceAsset, ActionDelete)
	denied := false
	grant := RoleGrant{
		ID:           uuid.NewString(),
		RoleID:       role.ID,
		PermissionID: perm.ID,
		IsGranted:    denied,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, store.CreateRoleGrant(ctx, grant))
	seedAssignmentRow(t, store, "user-8", role.ID)

	// A deny row alone never grants.
	assert.False(t, svc.Check(ctx, "user-8", ResourceAsset, ActionDelete, nil, nil))

	// And it never shadows a granting row elsewhere.
	other := seedRoleRow(t, store, "granting", nil)
	seedGrantRow(t, store, other.ID, perm.ID)
	seedAssignmentRow(t, store, "user-8", other.ID)
	assert.True(t, svc.Check(ctx, "user-8", ResourceAsset, ActionDelete, nil, nil))
}

func TestCheckNoActiveRolesAudited(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	assert.False(t, svc.Check(ctx, "stranger", ResourceProject, ActionRead, nil, nil))
	require.Equal(t, 1, store.auditCount())
	entry := store.lastAudit()
	assert.Equal(t, "check", entry.Action)
	assert.Equal(t, "stranger", entry.SubjectID)
	assert.False(t, entry.Success)
	assert.Equal(t, "no-active-roles", entry.Details["reason"])
}

func TestCheckFailsClosedOnStoreError(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role := seedRoleRow(t, store, "ok", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionRead)
	seedGrantRow(t, store, role.ID, perm.ID)
	seedAssignmentRow(t, store, "user-9", role.ID)
	store.failReads = errors.New("connection reset")

	assert.False(t, svc.Check(ctx, "user-9", ResourceProject, ActionRead, nil, nil))
	entry := store.lastAudit()
	assert.False(t, entry.Success)
	assert.Equal(t, "internal-error", entry.Details["reason"])
	assert.Contains(t, entry.Details["error"], "connection reset")
}

func TestCheckAuditFailureKeepsDecision(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role := seedRoleRow(t, store, "stable", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionRead)
	seedGrantRow(t, store, role.ID, perm.ID)
	seedAssignmentRow(t, store, "user-10", role.ID)
	store.failAudit = errors.New("audit table gone")

	assert.True(t, svc.Check(ctx, "user-10", ResourceProject, ActionRead, nil, nil))
}

func TestCheckInvalidInputDenied(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	assert.False(t, svc.Check(ctx, "", ResourceProject, ActionRead, nil, nil))
	assert.False(t, svc.Check(ctx, "user", ResourceKind("spaceship"), ActionRead, nil, nil))
	assert.False(t, svc.Check(ctx, "user", ResourceProject, ActionKind("teleport"), nil, nil))
}

func TestCheckSurvivesRoleCycle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	a := seedRoleRow(t, store, "cycle-a", nil)
	b := seedRoleRow(t, store, "cycle-b", &a.ID)
	// Close the loop behind the resolver's back.
	require.NoError(t, store.SetRoleParent(ctx, a.ID, &b.ID, 2))

	perm := seedPermissionRow(t, store, ResourceSystem, ActionRead)
	seedGrantRow(t, store, a.ID, perm.ID)
	seedAssignmentRow(t, store, "user-11", b.ID)

	done := make(chan bool, 1)
	go func() { done <- svc.Check(ctx, "user-11", ResourceSystem, ActionRead, nil, nil) }()
	select {
	case allowed := <-done:
		assert.True(t, allowed)
	case <-time.After(2 * time.Second):
		t.Fatal("check did not terminate on cyclic hierarchy")
	}
}

func TestCheckEveryDecisionAudited(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role := seedRoleRow(t, store, "auditee", nil)
	perm := seedPermissionRow(t, store, ResourceProject, ActionRead)
	seedGrantRow(t, store, role.ID, perm.ID)
	seedAssignmentRow(t, store, "user-12", role.ID)

	svc.Check(ctx, "user-12", ResourceProject, ActionRead, nil, nil)
	svc.Check(ctx, "user-12", ResourceProject, ActionDelete, nil, nil)
	assert.Equal(t, 2, store.auditCount())
	entry := store.lastAudit()
	assert.Equal(t, "no-matching-grant", entry.Details["reason"])
	assert.Equal(t, string(ActionDelete), entry.Details["action"])
}

func TestCreatePermissionDuplicate(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.CreatePermission(ctx, CreatePermissionParams{Resource: ResourceProject, Action: ActionRead})
	require.NoError(t, err)
	_, err = svc.CreatePermission(ctx, CreatePermissionParams{Resource: ResourceProject, Action: ActionRead})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.CreatePermission(ctx, CreatePermissionParams{Resource: "widget", Action: ActionRead})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateRoleWithParent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	parent, err := svc.CreateRole(ctx, CreateRoleParams{Name: "lead"})
	require.NoError(t, err)
	child, err := svc.CreateRole(ctx, CreateRoleParams{Name: "assistant", ParentRoleID: &parent.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, child.Level)

	missing := uuid.NewString()
	_, err = svc.CreateRole(ctx, CreateRoleParams{Name: "orphan", ParentRoleID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.CreateRole(ctx, CreateRoleParams{Name: "lead"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSetRoleParentRejectsCycle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	top, err := svc.CreateRole(ctx, CreateRoleParams{Name: "top"})
	require.NoError(t, err)
	mid, err := svc.CreateRole(ctx, CreateRoleParams{Name: "mid", ParentRoleID: &top.ID})
	require.NoError(t, err)
	leaf, err := svc.CreateRole(ctx, CreateRoleParams{Name: "leaf", ParentRoleID: &mid.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetRoleParent(ctx, top.ID, &leaf.ID), ErrCycle)
	assert.ErrorIs(t, svc.SetRoleParent(ctx, top.ID, &top.ID), ErrCycle)

	// Relinking without a cycle recomputes the level.
	require.NoError(t, svc.SetRoleParent(ctx, leaf.ID, &top.ID))
	updated, err := store.GetRole(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Level)
}

func TestAssignPermissionToRoleConflict(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, CreateRoleParams{Name: "writer"})
	require.NoError(t, err)
	perm, err := svc.CreatePermission(ctx, CreatePermissionParams{Resource: ResourceAsset, Action: ActionCreate})
	require.NoError(t, err)

	_, err = svc.AssignPermissionToRole(ctx, role.ID, perm.ID, GrantParams{})
	require.NoError(t, err)
	_, err = svc.AssignPermissionToRole(ctx, role.ID, perm.ID, GrantParams{})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.AssignPermissionToRole(ctx, uuid.NewString(), perm.ID, GrantParams{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.AssignPermissionToRole(ctx, role.ID, uuid.NewString(), GrantParams{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGrantRoleToUserLifecycle(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, CreateRoleParams{Name: "member"})
	require.NoError(t, err)

	_, err = svc.GrantRoleToUser(ctx, "ghost", role.ID, AssignmentParams{})
	assert.ErrorIs(t, err, ErrNotFound)

	store.addUser("user-20")
	_, err = svc.GrantRoleToUser(ctx, "user-20", role.ID, AssignmentParams{})
	require.NoError(t, err)
	_, err = svc.GrantRoleToUser(ctx, "user-20", role.ID, AssignmentParams{})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, svc.RevokeRoleFromUser(ctx, "user-20", role.ID))
	assert.ErrorIs(t, svc.RevokeRoleFromUser(ctx, "user-20", role.ID), ErrNotFound)

	// Revocation frees the edge for re-assignment.
	_, err = svc.GrantRoleToUser(ctx, "user-20", role.ID, AssignmentParams{})
	require.NoError(t, err)
}

func TestDeleteRoleGuards(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	system := Role{ID: uuid.NewString(), Name: "system-role", Type: RoleTypeSystem, IsSystem: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreateRole(ctx, system))
	assert.ErrorIs(t, svc.DeleteRole(ctx, system.ID), ErrImmutable)

	role, err := svc.CreateRole(ctx, CreateRoleParams{Name: "temp"})
	require.NoError(t, err)
	store.addUser("user-21")
	_, err = svc.GrantRoleToUser(ctx, "user-21", role.ID, AssignmentParams{})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteRole(ctx, role.ID), ErrConflict)

	require.NoError(t, svc.RevokeRoleFromUser(ctx, "user-21", role.ID))
	assert.NoError(t, svc.DeleteRole(ctx, role.ID))
}

func TestDeletePermissionGuards(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	perm := Permission{ID: uuid.NewString(), Name: "system.manage", Resource: ResourceSystem, Action: ActionManage, IsSystem: true, CreatedAt: time.Now()}
	require.NoError(t, store.CreatePermission(ctx, perm))
	assert.ErrorIs(t, svc.DeletePermission(ctx, perm.ID), ErrImmutable)

	custom, err := svc.CreatePermission(ctx, CreatePermissionParams{Resource: ResourceAsset, Action: ActionUpdate})
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, CreateRoleParams{Name: "holder"})
	require.NoError(t, err)
	_, err = svc.AssignPermissionToRole(ctx, role.ID, custom.ID, GrantParams{})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeletePermission(ctx, custom.ID), ErrConflict)

	require.NoError(t, svc.RevokePermissionFromRole(ctx, role.ID, custom.ID))
	assert.NoError(t, svc.DeletePermission(ctx, custom.ID))
}

func TestListUserPermissions(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	parent := seedRoleRow(t, store, "base", nil)
	child := seedRoleRow(t, store, "derived", &parent.ID)
	projectRead := seedPermissionRow(t, store, ResourceProject, ActionRead)
	assetRead := seedPermissionRow(t, store, ResourceAsset, ActionRead)
	seedGrantRow(t, store, parent.ID, projectRead.ID)
	seedGrantRow(t, store, child.ID, assetRead.ID)
	seedAssignmentRow(t, store, "user-22", child.ID)

	grants, err := svc.ListUserPermissions(ctx, "user-22", nil)
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	filter := ResourceAsset
	grants, err = svc.ListUserPermissions(ctx, "user-22", &filter)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "asset.read", grants[0].PermissionName)

	grants, err = svc.ListUserPermissions(ctx, "nobody", nil)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestGrantResourcePermissionValidation(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()

	perm := seedPermissionRow(t, store, ResourceProject, ActionRead)
	store.addUser("user-23")

	_, err := svc.GrantResourcePermission(ctx, ResourceGrantParams{
		ResourceType: ResourceProject, ResourceID: "p-1", PermissionID: perm.ID,
		SubjectType: SubjectUser, SubjectID: "nobody",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GrantResourcePermission(ctx, ResourceGrantParams{
		ResourceType: ResourceProject, ResourceID: "p-1", PermissionID: uuid.NewString(),
		SubjectType: SubjectUser, SubjectID: "user-23",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	grant, err := svc.GrantResourcePermission(ctx, ResourceGrantParams{
		ResourceType: ResourceProject, ResourceID: "p-1", PermissionID: perm.ID,
		SubjectType: SubjectUser, SubjectID: "user-23", CreatedBy: "admin-1",
	})
	require.NoError(t, err)
	assert.True(t, grant.IsGranted)
	assert.Equal(t, "admin-1", grant.CreatedBy)
}
