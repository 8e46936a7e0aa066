package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/lumina-cms/lumina/internal/platform/db"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore provides PostgreSQL backed persistence for the policy tables.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewPostgresStore constructs a store backed by the provided pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// WithTx runs fn against a transaction-scoped copy of the store.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		// Already transaction-scoped.
		return fn(s)
	}
	return platformdb.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

const permissionColumns = `id, name, description, resource, action, category, is_system, created_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.Category, &p.IsSystem, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// GetPermission fetches a permission by ID.
func (s *PostgresStore) GetPermission(ctx context.Context, id string) (Permission, error) {
	return scanPermission(s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
}

// GetPermissionByName fetches a permission by its natural key.
func (s *PostgresStore) GetPermissionByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(s.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name))
}

// ListPermissions returns all permissions ordered by name.
func (s *PostgresStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.Category, &p.IsSystem, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CreatePermission inserts a permission row.
func (s *PostgresStore) CreatePermission(ctx context.Context, perm Permission) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO permissions (id, name, description, resource, action, category, is_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		perm.ID, perm.Name, perm.Description, perm.Resource, perm.Action, perm.Category, perm.IsSystem, perm.CreatedAt)
	return mapPgError(err)
}

// DeletePermission removes a permission row.
func (s *PostgresStore) DeletePermission(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PermissionReferenced reports whether any grant still points at the permission.
func (s *PostgresStore) PermissionReferenced(ctx context.Context, id string) (bool, error) {
	var referenced bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_permissions WHERE permission_id = $1)
		     OR EXISTS (SELECT 1 FROM resource_permissions WHERE permission_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

const roleColumns = `id, name, description, role_type, parent_role_id, level, organization_id, is_system, created_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Type, &r.ParentRoleID, &r.Level, &r.OrganizationID, &r.IsSystem, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return r, nil
}

// GetRole fetches a role by ID.
func (s *PostgresStore) GetRole(ctx context.Context, id string) (Role, error) {
	return scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetRoleByName fetches a role by its natural key.
func (s *PostgresStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return scanRole(s.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// ListRoles returns all roles ordered by name.
func (s *PostgresStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Type, &r.ParentRoleID, &r.Level, &r.OrganizationID, &r.IsSystem, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// CreateRole inserts a role row.
func (s *PostgresStore) CreateRole(ctx context.Context, role Role) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO roles (id, name, description, role_type, parent_role_id, level, organization_id, is_system, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		role.ID, role.Name, role.Description, role.Type, role.ParentRoleID, role.Level, role.OrganizationID, role.IsSystem, role.CreatedAt)
	return mapPgError(err)
}

// SetRoleParent updates a role's parent link and recomputed level.
func (s *PostgresStore) SetRoleParent(ctx context.Context, roleID string, parentID *string, level int) error {
	tag, err := s.db.Exec(ctx, `UPDATE roles SET parent_role_id = $2, level = $3 WHERE id = $1`, roleID, parentID, level)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRole removes a role row.
func (s *PostgresStore) DeleteRole(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RoleReferenced reports whether any grant, assignment, or child role still
// points at the role.
func (s *PostgresStore) RoleReferenced(ctx context.Context, id string) (bool, error) {
	var referenced bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_permissions WHERE role_id = $1)
		     OR EXISTS (SELECT 1 FROM user_roles WHERE role_id = $1 AND is_active)
		     OR EXISTS (SELECT 1 FROM resource_permissions WHERE subject_type = 'role' AND subject_id = $1)
		     OR EXISTS (SELECT 1 FROM roles WHERE parent_role_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

// CreateRoleGrant inserts a role→permission edge.
func (s *PostgresStore) CreateRoleGrant(ctx context.Context, grant RoleGrant) error {
	conditions, err := json.Marshal(grant.Conditions)
	if err != nil {
		return fmt.Errorf("authz: marshal conditions: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO role_permissions (id, role_id, permission_id, is_granted, scope, conditions, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		grant.ID, grant.RoleID, grant.PermissionID, grant.IsGranted, grant.Scope, conditions, grant.ExpiresAt, grant.CreatedAt)
	return mapPgError(err)
}

// DeleteRoleGrant removes a role→permission edge and reports rows affected.
func (s *PostgresStore) DeleteRoleGrant(ctx context.Context, roleID, permissionID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// HasRoleGrant reports whether the edge already exists.
func (s *PostgresStore) HasRoleGrant(ctx context.Context, roleID, permissionID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2)`,
		roleID, permissionID).Scan(&exists)
	return exists, err
}

// ActiveGrantsForRoles returns granted, non-expired role grants joined to
// their permissions.
func (s *PostgresStore) ActiveGrantsForRoles(ctx context.Context, roleIDs []string, at time.Time) ([]EffectiveGrant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT rp.role_id, r.name, rp.permission_id, p.name, p.resource, p.action, rp.scope, rp.conditions, rp.expires_at
		 FROM role_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 JOIN roles r ON r.id = rp.role_id
		 WHERE rp.role_id = ANY($1)
		   AND rp.is_granted
		   AND (rp.expires_at IS NULL OR rp.expires_at > $2)`,
		roleIDs, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []EffectiveGrant
	for rows.Next() {
		var g EffectiveGrant
		var conditions []byte
		if err := rows.Scan(&g.RoleID, &g.RoleName, &g.PermissionID, &g.PermissionName, &g.Resource, &g.Action, &g.Scope, &conditions, &g.ExpiresAt); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &g.Conditions); err != nil {
				return nil, fmt.Errorf("authz: unmarshal conditions: %w", err)
			}
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// CreateAssignment inserts a user→role assignment.
func (s *PostgresStore) CreateAssignment(ctx context.Context, assignment RoleAssignment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO user_roles (id, user_id, role_id, assigned_by, reason, expires_at, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		assignment.ID, assignment.UserID, assignment.RoleID, assignment.AssignedBy, assignment.Reason,
		assignment.ExpiresAt, assignment.IsActive, assignment.CreatedAt)
	return mapPgError(err)
}

// DeactivateAssignment marks active assignments inactive and reports rows affected.
func (s *PostgresStore) DeactivateAssignment(ctx context.Context, userID, roleID string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE user_roles SET is_active = FALSE WHERE user_id = $1 AND role_id = $2 AND is_active`,
		userID, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// HasActiveAssignment reports whether an active assignment already exists.
func (s *PostgresStore) HasActiveAssignment(ctx context.Context, userID, roleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2 AND is_active)`,
		userID, roleID).Scan(&exists)
	return exists, err
}

// ActiveAssignmentsForUser returns active, non-expired assignments for the user.
func (s *PostgresStore) ActiveAssignmentsForUser(ctx context.Context, userID string, at time.Time) ([]RoleAssignment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, role_id, assigned_by, reason, expires_at, is_active, created_at
		 FROM user_roles
		 WHERE user_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)`,
		userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.AssignedBy, &a.Reason, &a.ExpiresAt, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// CreateResourceGrant inserts an instance-level grant.
func (s *PostgresStore) CreateResourceGrant(ctx context.Context, grant ResourceGrant) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO resource_permissions (id, resource_type, resource_id, permission_id, subject_type, subject_id, is_granted, expires_at, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		grant.ID, grant.ResourceType, grant.ResourceID, grant.PermissionID, grant.SubjectType, grant.SubjectID,
		grant.IsGranted, grant.ExpiresAt, grant.CreatedBy, grant.CreatedAt)
	return mapPgError(err)
}

// ActiveInstanceGrants returns granted, non-expired resource-level grants for
// one resource instance where the subject is the user or one of its roles.
func (s *PostgresStore) ActiveInstanceGrants(ctx context.Context, resource ResourceKind, resourceID, userID string, roleIDs []string, at time.Time) ([]InstanceGrant, error) {
	if roleIDs == nil {
		roleIDs = []string{}
	}
	rows, err := s.db.Query(ctx,
		`SELECT rp.permission_id, p.action, rp.subject_type, rp.subject_id
		 FROM resource_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.resource_type = $1
		   AND rp.resource_id = $2
		   AND rp.is_granted
		   AND (rp.expires_at IS NULL OR rp.expires_at > $3)
		   AND ((rp.subject_type = 'user' AND rp.subject_id = $4)
		     OR (rp.subject_type = 'role' AND rp.subject_id = ANY($5)))`,
		resource, resourceID, at, userID, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []InstanceGrant
	for rows.Next() {
		var g InstanceGrant
		if err := rows.Scan(&g.PermissionID, &g.Action, &g.SubjectType, &g.SubjectID); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UserExists reports whether the identity reference is known.
func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// AppendAudit inserts one decision record. Entries are never updated or
// deleted by the engine.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("authz: marshal audit details: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO permission_audit_log (id, action, resource_type, resource_id, subject_type, subject_id, performed_by, success, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Action, entry.ResourceType, entry.ResourceID, entry.SubjectType, entry.SubjectID,
		entry.PerformedBy, entry.Success, details, entry.CreatedAt)
	return err
}
