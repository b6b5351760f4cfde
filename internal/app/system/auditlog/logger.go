// internal/app/system/auditlog/logger.go
package auditlog

// Terminology: User references
//   - User: the redeeming user's reference ("main:alice" or "alice")
//   - Record: the registration code reference, never the code itself

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/regcodes/internal/app/store/audit"
	"github.com/dalemusser/regcodes/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Redemption controls logging for activation attempts.
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Redemption string
	// Admin controls logging for administrative events (code creation).
	// Values: "all" (MongoDB + zap), "db" (MongoDB only), "log" (zap only), "off" (disabled)
	Admin string
}

// Outcome values carried on a Redemption. They match the caller-facing
// activation results.
const (
	OutcomeSuccess         = "success"
	OutcomeNoResult        = "noresult"
	OutcomeMultipleResults = "multipleresults"
	OutcomeError           = "error"
)

// Redemption describes one activation attempt.
type Redemption struct {
	WorkspaceID primitive.ObjectID
	User        string
	Record      string // empty when no single record was identified
	CodePrefix  string
	ClientIP    string
	UserAgent   string
	Outcome     string
	Reason      string // internal rejection or failure reason
	Matches     int    // candidate count for ambiguous lookups
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.WorkspaceID != nil {
		fields = append(fields, zap.String("workspace", event.WorkspaceID.Hex()))
	}
	if event.User != "" {
		fields = append(fields, zap.String("user", event.User))
	}
	if event.Actor != "" {
		fields = append(fields, zap.String("actor", event.Actor))
	}
	if event.Record != "" {
		fields = append(fields, zap.String("record", event.Record))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event based on configuration.
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
// Logging destination is controlled by config: "all", "db", "log", or "off".
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryRedemption:
		setting = l.config.Redemption
	case audit.CategoryAdmin:
		setting = l.config.Admin
	default:
		setting = "all"
	}
	if setting == "" {
		setting = "all"
	}

	if setting == "off" {
		return
	}

	if setting == "all" || setting == "log" {
		l.logToZap(event)
	}

	if (setting == "all" || setting == "db") && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// --- Redemption Events ---

// Redemption records an activation attempt; the event type follows the outcome.
func (l *Logger) Redemption(ctx context.Context, r Redemption) {
	eventType := audit.EventRedemptionFailed
	switch r.Outcome {
	case OutcomeSuccess:
		eventType = audit.EventRedemptionSucceeded
	case OutcomeNoResult:
		eventType = audit.EventRedemptionRejected
	case OutcomeMultipleResults:
		eventType = audit.EventRedemptionAmbiguous
	}

	details := map[string]string{
		"outcome": r.Outcome,
	}
	if r.CodePrefix != "" {
		details["code_prefix"] = r.CodePrefix
	}
	if r.Matches > 0 {
		details["matches"] = strconv.Itoa(r.Matches)
	}

	wsID := r.WorkspaceID
	l.Log(ctx, audit.Event{
		WorkspaceID:   &wsID,
		Category:      audit.CategoryRedemption,
		EventType:     eventType,
		User:          r.User,
		Record:        r.Record,
		IP:            r.ClientIP,
		UserAgent:     r.UserAgent,
		Success:       r.Outcome == OutcomeSuccess,
		FailureReason: r.Reason,
		Details:       details,
	})
}

// RedemptionThrottled logs an activation attempt refused by the rate limiter.
func (l *Logger) RedemptionThrottled(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, user string) {
	l.Log(ctx, audit.Event{
		WorkspaceID:   &workspaceID,
		Category:      audit.CategoryRedemption,
		EventType:     audit.EventRedemptionThrottled,
		User:          user,
		IP:            ratelimit.ClientIP(r),
		UserAgent:     r.UserAgent(),
		Success:       false,
		FailureReason: "rate limit exceeded",
	})
}

// --- Admin Events ---

// CodeCreated logs when an admin creates a registration code.
func (l *Logger) CodeCreated(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, record string, maxUse int) {
	l.Log(ctx, audit.Event{
		WorkspaceID: &workspaceID,
		Category:    audit.CategoryAdmin,
		EventType:   audit.EventCodeCreated,
		Actor:       actor,
		Record:      record,
		IP:          ratelimit.ClientIP(r),
		UserAgent:   r.UserAgent(),
		Success:     true,
		Details: map[string]string{
			"max_use": strconv.Itoa(maxUse),
		},
	})
}

// CodeActiveChanged logs when an admin activates or deactivates a registration code.
func (l *Logger) CodeActiveChanged(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, record string, active bool) {
	l.Log(ctx, audit.Event{
		WorkspaceID: &workspaceID,
		Category:    audit.CategoryAdmin,
		EventType:   audit.EventCodeUpdated,
		Actor:       actor,
		Record:      record,
		IP:          ratelimit.ClientIP(r),
		UserAgent:   r.UserAgent(),
		Success:     true,
		Details: map[string]string{
			"active": strconv.FormatBool(active),
		},
	})
}

// AliasAdded logs when an admin registers an extra identifier for a workspace.
func (l *Logger) AliasAdded(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, alias string) {
	l.Log(ctx, audit.Event{
		WorkspaceID: &workspaceID,
		Category:    audit.CategoryAdmin,
		EventType:   audit.EventWorkspaceAliasAdded,
		Actor:       actor,
		IP:          ratelimit.ClientIP(r),
		UserAgent:   r.UserAgent(),
		Success:     true,
		Details: map[string]string{
			"alias": alias,
		},
	})
}

// GroupCreated logs when an admin creates a group.
func (l *Logger) GroupCreated(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, group string) {
	l.Log(ctx, audit.Event{
		WorkspaceID: &workspaceID,
		Category:    audit.CategoryAdmin,
		EventType:   audit.EventGroupCreated,
		Actor:       actor,
		IP:          ratelimit.ClientIP(r),
		UserAgent:   r.UserAgent(),
		Success:     true,
		Details: map[string]string{
			"group": group,
		},
	})
}

// MemberRemoved logs when an admin takes a member out of a group.
func (l *Logger) MemberRemoved(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, group, member string) {
	l.Log(ctx, audit.Event{
		WorkspaceID: &workspaceID,
		Category:    audit.CategoryAdmin,
		EventType:   audit.EventGroupMemberRemoved,
		Actor:       actor,
		User:        member,
		IP:          ratelimit.ClientIP(r),
		UserAgent:   r.UserAgent(),
		Success:     true,
		Details: map[string]string{
			"group": group,
		},
	})
}
