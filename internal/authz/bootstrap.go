package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// seedPermission is one entry of the fixed system permission catalog.
type seedPermission struct {
	Resource    ResourceKind
	Action      ActionKind
	Description string
}

var systemPermissions = []seedPermission{
	{ResourceUser, ActionCreate, "Create user accounts"},
	{ResourceUser, ActionRead, "View users and user lists"},
	{ResourceUser, ActionUpdate, "Update user information"},
	{ResourceUser, ActionDelete, "Delete user accounts"},
	{ResourceUser, ActionManage, "Full user administration"},

	{ResourceProject, ActionCreate, "Create video projects"},
	{ResourceProject, ActionRead, "View projects and project lists"},
	{ResourceProject, ActionUpdate, "Update project content"},
	{ResourceProject, ActionDelete, "Delete projects"},
	{ResourceProject, ActionManage, "Full project administration"},
	{ResourceProject, ActionApprove, "Approve project content"},

	{ResourceAsset, ActionCreate, "Upload and create media assets"},
	{ResourceAsset, ActionRead, "View media assets"},
	{ResourceAsset, ActionUpdate, "Update media asset metadata"},
	{ResourceAsset, ActionDelete, "Delete media assets"},

	{ResourceAIModel, ActionExecute, "Generate content with AI models"},
	{ResourceAIModel, ActionManage, "Manage AI model configuration"},

	{ResourceSystem, ActionRead, "View system information and status"},
	{ResourceSystem, ActionManage, "System-level administration"},
}

var systemRoles = []string{
	"super-admin",
	"admin",
	"project-manager",
	"content-creator",
	"reviewer",
	"client",
}

// defaultRoleGrants is the versioned role→permission-name table applied after
// both catalogs exist. Changes after first deployment must be additive.
var defaultRoleGrants = map[string][]string{
	"super-admin": {
		"user.create", "user.read", "user.update", "user.delete", "user.manage",
		"project.create", "project.read", "project.update", "project.delete", "project.manage", "project.approve",
		"asset.create", "asset.read", "asset.update", "asset.delete",
		"ai-model.execute", "ai-model.manage",
		"system.read", "system.manage",
	},
	"admin": {
		"user.create", "user.read", "user.update", "user.manage",
		"project.create", "project.read", "project.update", "project.manage", "project.approve",
		"asset.create", "asset.read", "asset.update", "asset.delete",
		"ai-model.execute", "ai-model.manage",
		"system.read",
	},
	"project-manager": {
		"project.create", "project.read", "project.update", "project.manage",
		"asset.create", "asset.read", "asset.update", "asset.delete",
		"ai-model.execute",
	},
	"content-creator": {
		"project.create", "project.read", "project.update",
		"asset.create", "asset.read", "asset.update",
		"ai-model.execute",
	},
	"reviewer": {
		"project.read", "project.update", "project.approve",
		"asset.read", "asset.update",
	},
	"client": {
		"project.read",
		"asset.read",
	},
}

// Bootstrapper seeds the default policy catalog. Apply is idempotent: every
// creation step looks up the natural key first and skips existing rows, so
// re-running produces an identical effective policy.
type Bootstrapper struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewBootstrapper constructs a Bootstrapper.
func NewBootstrapper(store Store, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{store: store, logger: logger, now: time.Now}
}

// Apply seeds permissions, roles, and the default grant table in that order.
func (b *Bootstrapper) Apply(ctx context.Context) error {
	if err := b.store.WithTx(ctx, func(tx Store) error { return b.ensurePermissions(ctx, tx) }); err != nil {
		return fmt.Errorf("authz: seed permissions: %w", err)
	}
	if err := b.store.WithTx(ctx, func(tx Store) error { return b.ensureRoles(ctx, tx) }); err != nil {
		return fmt.Errorf("authz: seed roles: %w", err)
	}
	if err := b.store.WithTx(ctx, func(tx Store) error { return b.ensureGrants(ctx, tx) }); err != nil {
		return fmt.Errorf("authz: seed role grants: %w", err)
	}
	if b.logger != nil {
		b.logger.Info("policy bootstrap complete",
			slog.Int("permissions", len(systemPermissions)),
			slog.Int("roles", len(systemRoles)))
	}
	return nil
}

func (b *Bootstrapper) ensurePermissions(ctx context.Context, tx Store) error {
	for _, seed := range systemPermissions {
		name := fmt.Sprintf("%s.%s", seed.Resource, seed.Action)
		_, err := tx.GetPermissionByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		perm := Permission{
			ID:          uuid.NewString(),
			Name:        name,
			Description: seed.Description,
			Resource:    seed.Resource,
			Action:      seed.Action,
			Category:    "system",
			IsSystem:    true,
			CreatedAt:   b.now().UTC(),
		}
		if err := tx.CreatePermission(ctx, perm); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootstrapper) ensureRoles(ctx context.Context, tx Store) error {
	for _, name := range systemRoles {
		_, err := tx.GetRoleByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		role := Role{
			ID:          uuid.NewString(),
			Name:        name,
			Description: displayName(name),
			Type:        RoleTypeSystem,
			Level:       0,
			IsSystem:    true,
			CreatedAt:   b.now().UTC(),
		}
		if err := tx.CreateRole(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bootstrapper) ensureGrants(ctx context.Context, tx Store) error {
	now := b.now().UTC()
	for roleName, permNames := range defaultRoleGrants {
		role, err := tx.GetRoleByName(ctx, roleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		for _, permName := range permNames {
			perm, err := tx.GetPermissionByName(ctx, permName)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			exists, err := tx.HasRoleGrant(ctx, role.ID, perm.ID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			grant := RoleGrant{
				ID:           uuid.NewString(),
				RoleID:       role.ID,
				PermissionID: perm.ID,
				IsGranted:    true,
				CreatedAt:    now,
			}
			if err := tx.CreateRoleGrant(ctx, grant); err != nil {
				return err
			}
		}
	}
	return nil
}

var titleCaser = cases.Title(language.English)

// displayName turns a catalog slug like "project-manager" into "Project Manager".
func displayName(slug string) string {
	return titleCaser.String(strings.ReplaceAll(slug, "-", " "))
}
