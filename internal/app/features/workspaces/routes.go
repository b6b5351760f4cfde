// internal/app/features/workspaces/routes.go
package workspaces

import (
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for administering the current workspace
// (mounted at /workspace). Every route requires the admin role.
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()
	r.Use(sm.RequireRole("admin"))
	r.Use(workspace.RequireWorkspace)

	r.Get("/", h.ServeShow)
	r.Post("/aliases", h.ServeAddAlias)
	r.Post("/groups", h.ServeCreateGroup)

	r.Route("/groups/{name}/members", func(r chi.Router) {
		r.Get("/", h.ServeMembers)
		r.Delete("/{member}", h.ServeRemoveMember)
	})

	return r
}
