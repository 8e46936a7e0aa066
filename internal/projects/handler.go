package projects

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumina-cms/lumina/internal/authz"
	"github.com/lumina-cms/lumina/internal/platform/httpx"
	"github.com/lumina-cms/lumina/internal/shared"
)

// Handler manages project endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    authz.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountRoutes registers project routes. Instance-scoped routes use the
// instance-aware guard so per-project grants work without a matching role
// grant.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(authz.ResourceProject, authz.ActionRead))
		r.Get("/", h.list)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(authz.ResourceProject, authz.ActionCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireInstance(authz.ResourceProject, authz.ActionRead, "projectID"))
		r.Get("/{projectID}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireInstance(authz.ResourceProject, authz.ActionUpdate, "projectID"))
		r.Put("/{projectID}", h.update)
		r.Post("/{projectID}/submit", h.transitionTo(StatusInReview))
		r.Post("/{projectID}/archive", h.transitionTo(StatusArchived))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireInstance(authz.ResourceProject, authz.ActionApprove, "projectID"))
		r.Post("/{projectID}/approve", h.transitionTo(StatusApproved))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireInstance(authz.ResourceProject, authz.ActionDelete, "projectID"))
		r.Delete("/{projectID}", h.remove)
	})
}

type projectPayload struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toPayload(p Project) projectPayload {
	return projectPayload{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Status:      string(p.Status),
		OwnerID:     p.OwnerID,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var status *Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := Status(raw)
		status = &s
	}
	projects, err := h.service.List(r.Context(), status)
	if err != nil {
		h.respondError(w, "list projects", err)
		return
	}
	payload := make([]projectPayload, 0, len(projects))
	for _, p := range projects {
		payload = append(payload, toPayload(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"projects": payload})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	project, err := h.service.Get(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, "get project", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPayload(project))
}

type createProjectRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	project, err := h.service.Create(r.Context(), CreateParams{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     principal.UserID,
	})
	if err != nil {
		h.respondError(w, "create project", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPayload(project))
}

type updateProjectRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateProjectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	project, err := h.service.Update(r.Context(), chi.URLParam(r, "projectID"), UpdateParams{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, "update project", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPayload(project))
}

func (h *Handler) transitionTo(target Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := h.service.Transition(r.Context(), chi.URLParam(r, "projectID"), target)
		if err != nil {
			h.respondError(w, "transition project", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPayload(project))
	}
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		h.respondError(w, "delete project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
