// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"fmt"

	auditstore "github.com/dalemusser/regcodes/internal/app/store/audit"
	regcodestore "github.com/dalemusser/regcodes/internal/app/store/regcodes"
	workspacestore "github.com/dalemusser/regcodes/internal/app/store/workspaces"
	"github.com/dalemusser/regcodes/internal/app/system/metrics"
	"github.com/dalemusser/regcodes/internal/app/system/tasks"
	"github.com/dalemusser/regcodes/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.uber.org/zap"
)

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if n := timeouts.ConfigureFromEnv(); n > 0 {
		cur := timeouts.Current()
		logger.Info("timeouts configured from environment",
			zap.Duration("ping", cur.Ping),
			zap.Duration("short", cur.Short),
			zap.Duration("medium", cur.Medium),
			zap.Duration("long", cur.Long))
	}

	metrics.MustRegister()

	if err := ensureDefaultWorkspace(ctx, deps, appCfg, logger); err != nil {
		return err
	}

	jobs = buildJobs(appCfg, deps, logger)
	jobs.Start()
	return nil
}

// jobs is the background job runner started in Startup and stopped in Shutdown.
var jobs *tasks.Runner

func buildJobs(appCfg AppConfig, deps DBDeps, logger *zap.Logger) *tasks.Runner {
	db := deps.MongoDatabase
	return tasks.NewRunner(logger, timeouts.Long(),
		tasks.AuditRetentionJob(auditstore.New(db), logger, appCfg.AuditRetention),
		tasks.RedeemableCodesJob(regcodestore.New(db), appCfg.RedeemableGaugeInterval),
	)
}

// ensureDefaultWorkspace makes sure at least one workspace exists so that
// single-workspace deployments have somewhere to put codes.
func ensureDefaultWorkspace(ctx context.Context, deps DBDeps, appCfg AppConfig, logger *zap.Logger) error {
	wctx, cancel := context.WithTimeout(ctx, timeouts.Medium())
	defer cancel()

	ws, err := workspacestore.New(deps.MongoDatabase).EnsureDefault(wctx, appCfg.DefaultWorkspaceName, appCfg.DefaultWorkspaceSubdomain)
	if err != nil {
		return fmt.Errorf("ensure default workspace: %w", err)
	}
	logger.Info("default workspace ready",
		zap.String("subdomain", ws.Subdomain),
		zap.String("id", ws.ID.Hex()))
	return nil
}
