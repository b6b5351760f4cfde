// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for the registration code service.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, session_name, etc.
//   - Environment variables: REGCODES_MONGO_URI, REGCODES_SESSION_NAME, etc.
//   - Command-line flags: --mongo_uri, --session_name, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "regcodes", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Session cookie
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key shared with the sign-in application"},
	{Name: "session_name", Default: "regcodes-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "24h", Desc: "Session cookie lifetime"},

	// Multi-workspace configuration
	{Name: "multi_workspace", Default: false, Desc: "Resolve the workspace from the host subdomain"},
	{Name: "primary_domain", Default: "", Desc: "Primary domain; workspaces are served at <subdomain>.<primary_domain>"},

	// Default workspace configuration
	{Name: "default_workspace_name", Default: "Main", Desc: "Display name for the default workspace"},
	{Name: "default_workspace_subdomain", Default: "main", Desc: "Subdomain for the default workspace"},

	// Audit logging settings
	{Name: "audit_log_redemption", Default: "all", Desc: "Redemption event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_admin", Default: "all", Desc: "Admin event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_retention", Default: "2160h", Desc: "How long audit events are kept (0 keeps them forever)"},

	// Activation throttling
	{Name: "activation_rate_limit", Default: 10, Desc: "Activation attempts allowed per user per window (0 disables)"},
	{Name: "activation_ip_rate_limit", Default: 30, Desc: "Activation attempts allowed per client address per window (0 disables)"},
	{Name: "activation_rate_window", Default: "15m", Desc: "Activation throttling window"},

	// Redis (shared rate limits)
	{Name: "redis_addr", Default: "", Desc: "Redis address for shared rate limits (blank keeps limits in memory)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},

	// Engine and generator bounds
	{Name: "commit_max_attempts", Default: 8, Desc: "Commit retries after concurrent redemptions of the same record"},
	{Name: "code_generate_attempts", Default: 16, Desc: "Random code candidates tried before giving up"},

	// Background jobs
	{Name: "redeemable_gauge_interval", Default: "5m", Desc: "How often the redeemable codes gauge is refreshed (0 disables)"},
}

// auditModes are the accepted audit logging settings.
var auditModes = map[string]bool{"all": true, "db": true, "log": true, "off": true}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig merges .env files, config files,
// REGCODES_* environment variables and flags with precedence
// flags > env > files > defaults.
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "REGCODES", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		SessionKey:    appValues.String("session_key"),
		SessionName:   appValues.String("session_name"),
		SessionDomain: appValues.String("session_domain"),
		SessionMaxAge: appValues.Duration("session_max_age", 24*time.Hour),

		MultiWorkspace:            appValues.Bool("multi_workspace"),
		PrimaryDomain:             appValues.String("primary_domain"),
		DefaultWorkspaceName:      appValues.String("default_workspace_name"),
		DefaultWorkspaceSubdomain: appValues.String("default_workspace_subdomain"),

		AuditLogRedemption: appValues.String("audit_log_redemption"),
		AuditLogAdmin:      appValues.String("audit_log_admin"),
		AuditRetention:     appValues.Duration("audit_retention", 90*24*time.Hour),

		ActivationRateLimit:   appValues.Int("activation_rate_limit"),
		ActivationIPRateLimit: appValues.Int("activation_ip_rate_limit"),
		ActivationRateWindow:  appValues.Duration("activation_rate_window", 15*time.Minute),

		RedisAddr:     appValues.String("redis_addr"),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),

		CommitMaxAttempts:    appValues.Int("commit_max_attempts"),
		CodeGenerateAttempts: appValues.Int("code_generate_attempts"),

		RedeemableGaugeInterval: appValues.Duration("redeemable_gauge_interval", 5*time.Minute),
	}

	// Cross-subdomain cookies need ".example.org".
	if appCfg.MultiWorkspace && appCfg.SessionDomain == "" && appCfg.PrimaryDomain != "" {
		appCfg.SessionDomain = "." + appCfg.PrimaryDomain
		logger.Info("auto-derived session domain for multi-workspace mode",
			zap.String("session_domain", appCfg.SessionDomain))
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	return validateApp(appCfg)
}

// validateApp checks the invariants that involve only AppConfig.
func validateApp(appCfg AppConfig) error {
	if appCfg.MultiWorkspace && appCfg.PrimaryDomain == "" {
		return fmt.Errorf("multi_workspace mode requires primary_domain to be set (e.g., 'example.org')")
	}
	if appCfg.DefaultWorkspaceSubdomain == "" {
		return fmt.Errorf("default_workspace_subdomain must not be empty")
	}
	if appCfg.ActivationRateLimit < 0 || appCfg.ActivationIPRateLimit < 0 {
		return fmt.Errorf("activation rate limits must be >= 0")
	}
	if (appCfg.ActivationRateLimit > 0 || appCfg.ActivationIPRateLimit > 0) && appCfg.ActivationRateWindow <= 0 {
		return fmt.Errorf("activation_rate_window must be positive")
	}
	if appCfg.CommitMaxAttempts <= 0 {
		return fmt.Errorf("commit_max_attempts must be positive, got %d", appCfg.CommitMaxAttempts)
	}
	if appCfg.CodeGenerateAttempts <= 0 {
		return fmt.Errorf("code_generate_attempts must be positive, got %d", appCfg.CodeGenerateAttempts)
	}
	if appCfg.AuditRetention < 0 || appCfg.RedeemableGaugeInterval < 0 {
		return fmt.Errorf("audit_retention and redeemable_gauge_interval must be >= 0")
	}
	for key, mode := range map[string]string{
		"audit_log_redemption": appCfg.AuditLogRedemption,
		"audit_log_admin":      appCfg.AuditLogAdmin,
	} {
		if mode != "" && !auditModes[mode] {
			return fmt.Errorf("%s must be one of all, db, log, off; got %q", key, mode)
		}
	}
	return nil
}
