// internal/app/features/activation/routes.go
package activation

import (
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the activation endpoint (mounted at /activate).
func Routes(h *Handler, sm *auth.SessionManager) chi.Router {
	r := chi.NewRouter()

	r.Use(sm.RequireSignedIn)

	r.Post("/", h.ServeActivate)

	return r
}
