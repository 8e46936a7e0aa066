package generation

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

// Handler manages render request endpoints.
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

// MountRoutes registers render routes. Everything requires the execute right
// on the ai-model resource.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require(authz.ResourceAIModel, authz.ActionExecute))
		r.Post("/render", h.submit)
		r.Get("/requests/{requestID}", h.get)
		r.Get("/projects/{projectID}/requests", h.listForProject)
	})
}

type requestPayload struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	Status      string    `json:"status"`
	AssetURL    string    `json:"assetUrl,omitempty"`
	ErrorDetail string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toPayload(request Request) requestPayload {
	return requestPayload{
		ID:          request.ID,
		ProjectID:   request.ProjectID,
		Prompt:      request.Prompt,
		Model:       request.Model,
		Status:      string(request.Status),
		AssetURL:    request.AssetURL,
		ErrorDetail: request.ErrorDetail,
		CreatedAt:   request.CreatedAt,
		UpdatedAt:   request.UpdatedAt,
	}
}

type submitRequest struct {
	ProjectID string `json:"projectId" validate:"required"`
	Prompt    string `json:"prompt" validate:"required,max=4000"`
	Model     string `json:"model" validate:"max=100"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	principal, _ := shared.PrincipalFromContext(r.Context())
	request, err := h.service.Submit(r.Context(), SubmitParams{
		ProjectID:   req.ProjectID,
		Prompt:      req.Prompt,
		Model:       req.Model,
		RequestedBy: principal.UserID,
	})
	if err != nil {
		h.respondError(w, "submit render", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, toPayload(request))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	request, err := h.service.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.respondError(w, "get render request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPayload(request))
}

func (h *Handler) listForProject(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.ListForProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, "list render requests", err)
		return
	}
	payload := make([]requestPayload, 0, len(requests))
	for _, request := range requests {
		payload = append(payload, toPayload(request))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": payload})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
