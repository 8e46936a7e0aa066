package audithttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/lumina-cms/lumina/internal/authz"
	"github.com/lumina-cms/lumina/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes mendaftarkan endpoint audit timeline dan ekspor CSV.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(h.guard.Require(authz.ResourceSystem, authz.ActionRead))
		gr.Get("/log", h.handleTimeline)
		gr.Group(func(er chi.Router) {
			er.Use(limiter)
			er.Get("/export.csv", h.handleExport)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		if user := strings.TrimSpace(principal.UserID); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
