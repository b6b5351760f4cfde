// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Event categories
const (
	CategoryRedemption = "redemption"
	CategoryAdmin      = "admin"
)

// Redemption event types
const (
	EventRedemptionSucceeded = "redemption_succeeded"
	EventRedemptionRejected  = "redemption_rejected"
	EventRedemptionAmbiguous = "redemption_ambiguous"
	EventRedemptionFailed    = "redemption_failed"
	EventRedemptionThrottled = "redemption_throttled"
)

// Admin event types
const (
	EventCodeCreated         = "code_created"
	EventCodeUpdated         = "code_updated"
	EventWorkspaceAliasAdded = "workspace_alias_added"
	EventGroupCreated        = "group_created"
	EventGroupMemberRemoved  = "group_member_removed"
)

// Event represents an audit event.
type Event struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	Timestamp   time.Time           `bson:"timestamp"`
	WorkspaceID *primitive.ObjectID `bson:"workspace_id,omitempty"`

	// Event classification
	Category  string `bson:"category"`
	EventType string `bson:"event_type"`

	// Who
	User  string `bson:"user,omitempty"`  // user reference that redeemed
	Actor string `bson:"actor,omitempty"` // who performed action (for admin actions)

	// What
	Record string `bson:"record,omitempty"` // registration code reference

	// Context
	IP        string `bson:"ip,omitempty"`
	UserAgent string `bson:"user_agent,omitempty"`

	// Outcome
	Success       bool   `bson:"success"`
	FailureReason string `bson:"failure_reason,omitempty"`

	// Additional details (varies by event type)
	Details map[string]string `bson:"details,omitempty"`
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	WorkspaceID *primitive.ObjectID
	User        string
	Record      string
	Category    string
	EventType   string
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int64
	Offset      int64
}

// Store manages audit event records.
type Store struct {
	c *mongo.Collection
}

// New creates a new audit Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_events")}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

func buildQuery(filter QueryFilter) bson.M {
	query := bson.M{}
	if filter.WorkspaceID != nil {
		query["workspace_id"] = *filter.WorkspaceID
	}
	if filter.User != "" {
		query["user"] = filter.User
	}
	if filter.Record != "" {
		query["record"] = filter.Record
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}

	// Time range
	if filter.StartTime != nil || filter.EndTime != nil {
		timeQuery := bson.M{}
		if filter.StartTime != nil {
			timeQuery["$gte"] = *filter.StartTime
		}
		if filter.EndTime != nil {
			timeQuery["$lte"] = *filter.EndTime
		}
		query["timestamp"] = timeQuery
	}
	return query
}

// Query retrieves audit events matching the given filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, buildQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByFilter returns the count of events matching the filter.
func (s *Store) CountByFilter(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, buildQuery(filter))
}

// GetByRecord retrieves recent events for one registration code.
func (s *Store) GetByRecord(ctx context.Context, workspaceID primitive.ObjectID, record string, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{
		WorkspaceID: &workspaceID,
		Record:      record,
		Limit:       limit,
	})
}

// GetFailedRedemptions retrieves recent rejected or failed redemption
// attempts, the signal to watch for code guessing. A nil workspaceID
// spans every workspace.
func (s *Store) GetFailedRedemptions(ctx context.Context, workspaceID *primitive.ObjectID, since time.Time, limit int64) ([]Event, error) {
	query := bson.M{
		"category":  CategoryRedemption,
		"success":   false,
		"timestamp": bson.M{"$gte": since},
	}
	if workspaceID != nil {
		query["workspace_id"] = *workspaceID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteOlderThan removes events recorded before cutoff and returns how many
// were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
