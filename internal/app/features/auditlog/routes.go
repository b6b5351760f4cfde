// internal/app/features/auditlog/routes.go
package auditlog

import (
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/go-chi/chi/v5"
)

// Routes mounts the audit routes where this router is mounted
// (typically "/audit" from bootstrap). Access is restricted to admins.
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()

	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireRole("admin"))
		pr.Use(workspace.RequireWorkspace)

		pr.Get("/", h.ServeList)
		pr.Get("/failed", h.ServeFailed)
	})

	return r
}
