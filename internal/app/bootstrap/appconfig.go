// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework-level settings (ports, TLS, logging, CORS, body limits);
// everything specific to registration codes lives here.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session cookie shared with the sign-in application
	SessionKey    string        // Secret key for verifying session cookies
	SessionName   string        // Cookie name (default: regcodes-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Cookie lifetime

	// Workspaces (wikis)
	MultiWorkspace            bool   // Resolve the workspace from the host subdomain
	PrimaryDomain             string // e.g., "example.org" for main.example.org
	DefaultWorkspaceName      string
	DefaultWorkspaceSubdomain string

	// Audit logging: "all", "db", "log" or "off"
	AuditLogRedemption string
	AuditLogAdmin      string
	AuditRetention     time.Duration // 0 keeps events forever

	// Activation throttling; a limit of 0 disables that dimension.
	ActivationRateLimit   int           // attempts per user per window
	ActivationIPRateLimit int           // attempts per client address per window
	ActivationRateWindow  time.Duration // window length

	// Redis (optional). When RedisAddr is empty, limits are kept in memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Engine and generator bounds
	CommitMaxAttempts    int
	CodeGenerateAttempts int

	// Background jobs
	RedeemableGaugeInterval time.Duration // 0 disables
}
