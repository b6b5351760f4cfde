// internal/app/features/regcodes/routes.go
package regcodes

import (
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for code administration (mounted at /codes).
// Every route requires the admin role and a workspace.
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()
	r.Use(sm.RequireRole("admin"))
	r.Use(workspace.RequireWorkspace)

	r.Get("/exists", h.ServeExists)
	r.Get("/random", h.ServeRandom)
	r.Get("/next-reference", h.ServeNextReference)
	r.Post("/", h.ServeCreate)
	r.Get("/{reference}", h.ServeGet)
	r.Patch("/{reference}", h.ServeUpdate)

	return r
}
