// Package workspace resolves the workspace (wiki) a request is addressed to.
package workspace

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	workspacestore "github.com/dalemusser/regcodes/internal/app/store/workspaces"
	"github.com/dalemusser/regcodes/internal/app/system/timeouts"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type ctxKey string

const workspaceKey ctxKey = "workspace"

// Info holds workspace context for the current request.
type Info struct {
	Workspace models.Workspace
	IsDefault bool // true when no host subdomain selected the workspace
}

// Store defines the workspace lookups the middleware needs.
type Store interface {
	Resolve(ctx context.Context, ident string) (models.Workspace, error)
	GetFirst(ctx context.Context) (models.Workspace, error)
}

// Middleware creates middleware that extracts the workspace from the request host.
//
// In multi-workspace mode:
//   - Requests to <sub>.<primaryDomain> resolve <sub> as a subdomain or alias
//   - Requests to the primary domain itself, or to localhost, use the default workspace
//   - Unknown subdomains return 404
//   - Disabled workspaces return 403
//   - Any other host returns 400
//
// In single-workspace mode every request uses the default (first) workspace.
func Middleware(primaryDomain string, store Store, multiWorkspace bool, logger *zap.Logger) func(http.Handler) http.Handler {
	primaryDomain = strings.ToLower(strings.TrimSpace(primaryDomain))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
			defer cancel()

			useDefault := func() {
				ws, err := store.GetFirst(ctx)
				if err != nil {
					// Nothing to scope to; RequireWorkspace rejects where it matters.
					logger.Debug("no default workspace, proceeding without workspace context", zap.Error(err))
					next.ServeHTTP(w, r)
					return
				}
				next.ServeHTTP(w, withWorkspace(r, &Info{Workspace: ws, IsDefault: true}))
			}

			if !multiWorkspace {
				useDefault()
				return
			}

			host := hostOnly(r.Host)
			if host == primaryDomain || host == "localhost" || host == "127.0.0.1" {
				useDefault()
				return
			}

			suffix := "." + primaryDomain
			sub := strings.TrimSuffix(host, suffix)
			if primaryDomain == "" || sub == host || sub == "" || strings.Contains(sub, ".") {
				logger.Warn("request to unknown domain",
					zap.String("host", host),
					zap.String("primary_domain", primaryDomain))
				http.Error(w, "Invalid domain", http.StatusBadRequest)
				return
			}

			ws, err := store.Resolve(ctx, sub)
			if err != nil {
				if errors.Is(err, workspacestore.ErrNotFound) {
					logger.Debug("workspace not found", zap.String("subdomain", sub))
					http.NotFound(w, r)
					return
				}
				logger.Error("workspace lookup failed", zap.String("subdomain", sub), zap.Error(err))
				http.Error(w, "Workspace lookup failed", http.StatusServiceUnavailable)
				return
			}

			if !ws.IsActive() {
				logger.Info("request to non-active workspace",
					zap.String("subdomain", ws.Subdomain),
					zap.String("status", ws.Status))
				http.Error(w, "Workspace unavailable", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, withWorkspace(r, &Info{Workspace: ws}))
		})
	}
}

// FromRequest returns the workspace info from the request context.
// Returns nil if no workspace context is set.
func FromRequest(r *http.Request) *Info {
	return FromContext(r.Context())
}

// FromContext returns the workspace info from the context.
func FromContext(ctx context.Context) *Info {
	if ws, ok := ctx.Value(workspaceKey).(*Info); ok {
		return ws
	}
	return nil
}

// IDFromRequest returns the workspace ID, or primitive.NilObjectID when the
// request has no workspace.
func IDFromRequest(r *http.Request) primitive.ObjectID {
	if ws := FromRequest(r); ws != nil {
		return ws.Workspace.ID
	}
	return primitive.NilObjectID
}

// RequireWorkspace rejects requests that have no workspace context with 400.
func RequireWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromRequest(r) == nil {
			http.Error(w, "Workspace required", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// withWorkspace adds workspace info to the request context.
func withWorkspace(r *http.Request, ws *Info) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), workspaceKey, ws))
}

/*─────────────────────────────────────────────────────────────────────────────*
| Test Helpers                                                                 |
*─────────────────────────────────────────────────────────────────────────────*/

// WithTestWorkspace returns a request with workspace context set for testing.
// This is exported for use in tests only.
func WithTestWorkspace(r *http.Request, ws models.Workspace) *http.Request {
	return withWorkspace(r, &Info{Workspace: ws})
}
