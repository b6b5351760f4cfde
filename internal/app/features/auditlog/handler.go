// internal/app/features/auditlog/handler.go
package auditlog

import (
	"context"
	"time"

	"github.com/dalemusser/regcodes/internal/app/store/audit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// EventStore is the slice of the audit store the handlers read.
type EventStore interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error)
	CountByFilter(ctx context.Context, filter audit.QueryFilter) (int64, error)
	GetFailedRedemptions(ctx context.Context, workspaceID *primitive.ObjectID, since time.Time, limit int64) ([]audit.Event, error)
}

// Handler serves the audit trail to admins as JSON.
type Handler struct {
	Events EventStore
	Log    *zap.Logger
}

func NewHandler(events EventStore, logger *zap.Logger) *Handler {
	return &Handler{Events: events, Log: logger}
}
