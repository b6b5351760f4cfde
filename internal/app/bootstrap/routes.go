// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	activationfeature "github.com/dalemusser/regcodes/internal/app/features/activation"
	auditlogfeature "github.com/dalemusser/regcodes/internal/app/features/auditlog"
	healthfeature "github.com/dalemusser/regcodes/internal/app/features/health"
	regcodesfeature "github.com/dalemusser/regcodes/internal/app/features/regcodes"
	workspacesfeature "github.com/dalemusser/regcodes/internal/app/features/workspaces"
	auditstore "github.com/dalemusser/regcodes/internal/app/store/audit"
	groupstore "github.com/dalemusser/regcodes/internal/app/store/groups"
	membershipstore "github.com/dalemusser/regcodes/internal/app/store/memberships"
	regcodestore "github.com/dalemusser/regcodes/internal/app/store/regcodes"
	workspacestore "github.com/dalemusser/regcodes/internal/app/store/workspaces"
	"github.com/dalemusser/regcodes/internal/app/system/activation"
	"github.com/dalemusser/regcodes/internal/app/system/auditlog"
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/codegen"
	"github.com/dalemusser/regcodes/internal/app/system/propagation"
	"github.com/dalemusser/regcodes/internal/app/system/ratelimit"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// Startup have completed. The router carries:
//   - /health and /metrics, outside workspace resolution
//   - /activate for signed-in users
//   - /codes, /workspace and /audit for admins
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := auth.NewSessionManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	db := deps.MongoDatabase
	codes := regcodestore.New(db)
	workspaces := workspacestore.New(db)
	events := auditstore.New(db)
	audit := auditlog.New(events, logger, auditlog.Config{
		Redemption: appCfg.AuditLogRedemption,
		Admin:      appCfg.AuditLogAdmin,
	})

	groups := groupstore.New(db)
	memberships := membershipstore.New(db)
	prop := propagation.New(workspaces, groups, memberships, logger)

	engine := activation.New(codes, prop, audit, logger)
	engine.MaxAttempts = appCfg.CommitMaxAttempts

	gen := codegen.New(codes, logger)
	gen.CodeAttempts = appCfg.CodeGenerateAttempts

	r := chi.NewRouter()

	// Loads SessionUser into context when the shared cookie is present.
	r.Use(sessionMgr.LoadSessionUser)

	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Redis, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(workspace.Middleware(appCfg.PrimaryDomain, workspaces, appCfg.MultiWorkspace, logger))

		limiter = buildLimiter(appCfg, deps, logger)
		activateHandler := activationfeature.NewHandler(engine, limiter, audit, logger)
		r.Mount("/activate", activationfeature.Routes(activateHandler, sessionMgr))

		codesHandler := regcodesfeature.NewHandler(gen, codes, audit, events, logger)
		r.Mount("/codes", regcodesfeature.Routes(codesHandler, sessionMgr))

		workspaceHandler := workspacesfeature.NewHandler(workspaces, groups, memberships, audit, logger)
		r.Mount("/workspace", workspacesfeature.Routes(workspaceHandler, sessionMgr))

		auditHandler := auditlogfeature.NewHandler(events, logger)
		r.Mount("/audit", auditlogfeature.Routes(auditHandler, sessionMgr))
	})

	return r, nil
}

// limiter is the activation limiter built in BuildHandler and closed in
// Shutdown.
var limiter *ratelimit.ActivationLimiter

// buildLimiter picks Redis-backed limits when Redis is configured and
// in-memory ones otherwise. A zero limit disables that dimension.
func buildLimiter(appCfg AppConfig, deps DBDeps, logger *zap.Logger) *ratelimit.ActivationLimiter {
	mk := func(limit int, dim string) ratelimit.Attempts {
		if limit <= 0 {
			return nil
		}
		if deps.Redis != nil {
			return ratelimit.NewRedis(deps.Redis, limit, appCfg.ActivationRateWindow, "regcodes:activation:"+dim+":")
		}
		return ratelimit.New(limit, appCfg.ActivationRateWindow)
	}

	byIP := mk(appCfg.ActivationIPRateLimit, "ip")
	byUser := mk(appCfg.ActivationRateLimit, "user")
	if byIP == nil && byUser == nil {
		logger.Warn("activation rate limiting disabled")
		return nil
	}
	return ratelimit.NewActivationLimiter(byIP, byUser, logger)
}
