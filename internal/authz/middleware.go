package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumina-cms/lumina/internal/shared"
)

// Middleware wires authorization guards for HTTP handlers. Guards wrap the
// engine's Check call; a missing principal or a denied decision both yield 403.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Require ensures the caller may perform action on the resource type.
func (m Middleware) Require(resource ResourceKind, action ActionKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			if !m.Service.Check(r.Context(), principal.UserID, resource, action, nil, nil) {
				m.logDenied(principal.UserID, resource, action, r)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireInstance is Require scoped to one resource instance, whose identifier
// is read from the named chi URL parameter. Instance-level grants can satisfy
// the check even when no role grant matches.
func (m Middleware) RequireInstance(resource ResourceKind, action ActionKind, urlParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			var resourceID *string
			if id := chi.URLParam(r, urlParam); id != "" {
				resourceID = &id
			}
			if !m.Service.Check(r.Context(), principal.UserID, resource, action, resourceID, nil) {
				m.logDenied(principal.UserID, resource, action, r)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logDenied(userID string, resource ResourceKind, action ActionKind, r *http.Request) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("request denied",
		slog.String("user", userID),
		slog.String("resource", string(resource)),
		slog.String("action", string(action)),
		slog.String("path", r.URL.Path))
}
