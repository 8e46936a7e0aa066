package authz

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumina-cms/lumina/internal/shared"
)

// Handler exposes the administrative policy surface as JSON endpoints. The
// same engine guards the surface recursively: catalog mutations require
// system.manage, read endpoints system.read.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    Middleware
	validate *validator.Validate
}

// NewHandler constructs the admin handler.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		guard:    guard,
		validate: validator.New(),
	}
}

// MountRoutes registers the administrative routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(ResourceSystem, ActionRead))
		r.Get("/permissions", h.listPermissions)
		r.Get("/roles", h.listRoles)
		r.Get("/users/{userID}/permissions", h.listUserPermissions)
		r.Post("/check", h.check)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(ResourceSystem, ActionManage))
		r.Post("/permissions", h.createPermission)
		r.Delete("/permissions/{permissionID}", h.deletePermission)
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}/parent", h.setRoleParent)
		r.Delete("/roles/{roleID}", h.deleteRole)
		r.Post("/roles/{roleID}/permissions", h.assignPermission)
		r.Delete("/roles/{roleID}/permissions/{permissionID}", h.revokePermission)
		r.Post("/users/{userID}/roles", h.grantRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.revokeRole)
		r.Post("/resource-grants", h.grantResource)
	})
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Resource    string `json:"resource" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Category    string `json:"category"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), CreatePermissionParams{
		Name:        req.Name,
		Description: req.Description,
		Resource:    ResourceKind(req.Resource),
		Action:      ActionKind(req.Action),
		Category:    req.Category,
	})
	if err != nil {
		h.respondError(w, "create permission", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, permissionPayload(perm))
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePermission(r.Context(), chi.URLParam(r, "permissionID")); err != nil {
		h.respondError(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	payload := make([]map[string]any, 0, len(perms))
	for _, p := range perms {
		payload = append(payload, permissionPayload(p))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"permissions": payload})
}

type createRoleRequest struct {
	Name           string  `json:"name" validate:"required"`
	Description    string  `json:"description"`
	ParentRoleID   *string `json:"parent_role_id"`
	OrganizationID *string `json:"organization_id"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), CreateRoleParams{
		Name:           req.Name,
		Description:    req.Description,
		Type:           RoleTypeCustom,
		ParentRoleID:   req.ParentRoleID,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, rolePayload(role))
}

type setRoleParentRequest struct {
	ParentRoleID *string `json:"parent_role_id"`
}

func (h *Handler) setRoleParent(w http.ResponseWriter, r *http.Request) {
	var req setRoleParentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetRoleParent(r.Context(), chi.URLParam(r, "roleID"), req.ParentRoleID); err != nil {
		h.respondError(w, "set role parent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	payload := make([]map[string]any, 0, len(roles))
	for _, role := range roles {
		payload = append(payload, rolePayload(role))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"roles": payload})
}

type assignPermissionRequest struct {
	PermissionID string            `json:"permission_id" validate:"required"`
	Scope        *string           `json:"scope"`
	Conditions   map[string]string `json:"conditions"`
	IsGranted    *bool             `json:"is_granted"`
	ExpiresAt    *time.Time        `json:"expires_at"`
}

func (h *Handler) assignPermission(w http.ResponseWriter, r *http.Request) {
	var req assignPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	grant, err := h.service.AssignPermissionToRole(r.Context(), chi.URLParam(r, "roleID"), req.PermissionID, GrantParams{
		Scope:      req.Scope,
		Conditions: req.Conditions,
		IsGranted:  req.IsGranted,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.respondError(w, "assign permission", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{
		"id":            grant.ID,
		"role_id":       grant.RoleID,
		"permission_id": grant.PermissionID,
		"is_granted":    grant.IsGranted,
		"expires_at":    grant.ExpiresAt,
	})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	err := h.service.RevokePermissionFromRole(r.Context(), chi.URLParam(r, "roleID"), chi.URLParam(r, "permissionID"))
	if err != nil {
		h.respondError(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRoleRequest struct {
	RoleID    string     `json:"role_id" validate:"required"`
	Reason    *string    `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) grantRole(w http.ResponseWriter, r *http.Request) {
	var req grantRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	params := AssignmentParams{Reason: req.Reason, ExpiresAt: req.ExpiresAt}
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		params.AssignedBy = &principal.UserID
	}
	assignment, err := h.service.GrantRoleToUser(r.Context(), chi.URLParam(r, "userID"), req.RoleID, params)
	if err != nil {
		h.respondError(w, "grant role", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{
		"id":         assignment.ID,
		"user_id":    assignment.UserID,
		"role_id":    assignment.RoleID,
		"expires_at": assignment.ExpiresAt,
	})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	err := h.service.RevokeRoleFromUser(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		h.respondError(w, "revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	var resource *ResourceKind
	if raw := r.URL.Query().Get("resource"); raw != "" {
		kind := ResourceKind(raw)
		if !kind.Valid() {
			h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "unknown resource"})
			return
		}
		resource = &kind
	}
	grants, err := h.service.ListUserPermissions(r.Context(), chi.URLParam(r, "userID"), resource)
	if err != nil {
		h.respondError(w, "list user permissions", err)
		return
	}
	payload := make([]map[string]any, 0, len(grants))
	for _, g := range grants {
		payload = append(payload, map[string]any{
			"permission_id":   g.PermissionID,
			"permission_name": g.PermissionName,
			"resource":        g.Resource,
			"action":          g.Action,
			"role_id":         g.RoleID,
			"role_name":       g.RoleName,
			"scope":           g.Scope,
			"conditions":      g.Conditions,
			"expires_at":      g.ExpiresAt,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"permissions": payload})
}

type resourceGrantRequest struct {
	ResourceType string     `json:"resource_type" validate:"required"`
	ResourceID   string     `json:"resource_id" validate:"required"`
	PermissionID string     `json:"permission_id" validate:"required"`
	SubjectType  string     `json:"subject_type" validate:"required,oneof=user role"`
	SubjectID    string     `json:"subject_id" validate:"required"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (h *Handler) grantResource(w http.ResponseWriter, r *http.Request) {
	var req resourceGrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	var createdBy string
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		createdBy = principal.UserID
	}
	grant, err := h.service.GrantResourcePermission(r.Context(), ResourceGrantParams{
		ResourceType: ResourceKind(req.ResourceType),
		ResourceID:   req.ResourceID,
		PermissionID: req.PermissionID,
		SubjectType:  SubjectType(req.SubjectType),
		SubjectID:    req.SubjectID,
		ExpiresAt:    req.ExpiresAt,
		CreatedBy:    createdBy,
	})
	if err != nil {
		h.respondError(w, "grant resource permission", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{
		"id":            grant.ID,
		"resource_type": grant.ResourceType,
		"resource_id":   grant.ResourceID,
		"permission_id": grant.PermissionID,
		"subject_type":  grant.SubjectType,
		"subject_id":    grant.SubjectID,
		"expires_at":    grant.ExpiresAt,
	})
}

type checkRequest struct {
	UserID     string            `json:"user_id" validate:"required"`
	Resource   string            `json:"resource" validate:"required"`
	Action     string            `json:"action" validate:"required"`
	ResourceID *string           `json:"resource_id"`
	Context    map[string]string `json:"context"`
}

// check lets operators probe a decision for a given user. The probe runs the
// real decision path, audit entry included.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	allowed := h.service.Check(r.Context(), req.UserID, ResourceKind(req.Resource), ActionKind(req.Action), req.ResourceID, req.Context)
	h.respondJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.respondJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.respondJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, ErrConflict), errors.Is(err, ErrImmutable):
		h.respondJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, ErrCycle), errors.Is(err, ErrValidation):
		h.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error()})
	default:
		if h.logger != nil {
			h.logger.Error(op, slog.Any("error", err))
		}
		h.respondJSON(w, http.StatusInternalServerError, map[string]any{"error": http.StatusText(http.StatusInternalServerError)})
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && h.logger != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func permissionPayload(p Permission) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"resource":    p.Resource,
		"action":      p.Action,
		"category":    p.Category,
		"is_system":   p.IsSystem,
	}
}

func rolePayload(r Role) map[string]any {
	return map[string]any{
		"id":             r.ID,
		"name":           r.Name,
		"description":    r.Description,
		"role_type":      r.Type,
		"parent_role_id": r.ParentRoleID,
		"level":          r.Level,
		"is_system":      r.IsSystem,
	}
}
