// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates the service's collections (if missing) and attaches
// JSON-Schema validators. Servers that don't support collMod/validators
// (some DocumentDB versions) are logged and skipped.
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	var problems []string

	ensure := func(coll string, validator bson.M) {
		if _, err := ensureCollection(ctx, db, coll, logger); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if validator == nil {
			return
		}
		if err := setValidator(ctx, db, coll, validator, logger); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				logger.Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("registration_codes", registrationCodesSchema())
	ensure("workspaces", workspacesSchema())
	ensure("groups", groupsSchema())
	ensure("group_memberships", groupMembershipsSchema())
	ensure("workspace_memberships", workspaceMembershipsSchema())

	// Written by the audit logger only; no validator.
	ensure("audit_events", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ---------------------- collection helpers ---------------------- */

func collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ensureCollection idempotently makes sure <name> exists.
// Returns created==true only if it was actually created.
func ensureCollection(ctx context.Context, db *mongo.Database, name string, logger *zap.Logger) (created bool, err error) {
	exists, listErr := collectionExists(ctx, db, name)
	if listErr == nil && exists {
		logger.Debug("collection exists", zap.String("collection", name))
		return false, nil
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		// Lost a race with another instance, or listing failed above.
		if isNamespaceExistsErr(err) {
			return false, nil
		}
		logger.Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	logger.Info("created collection", zap.String("collection", name))
	return true, nil
}

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M, logger *zap.Logger) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return err
	}
	logger.Debug("validator ensured", zap.String("collection", name))
	return nil
}

/* ------------------------- error helpers ------------------------- */

func isNamespaceExistsErr(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 48 || strings.Contains(strings.ToLower(ce.Message), "already exists")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "already exists") || strings.Contains(s, "namespace exists")
}

func isNoSuchCommand(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 59 || strings.Contains(strings.ToLower(ce.Message), "no such command")) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such command")
}

func isNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && (ce.Code == 115 ||
		strings.Contains(strings.ToLower(ce.Message), "not implemented") ||
		strings.Contains(strings.ToLower(ce.Message), "not supported")) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not implemented") || strings.Contains(s, "not supported")
}

/* ------------------------- schema documents ---------------------- */

var (
	nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}
	integer  = bson.A{"int", "long"}
)

// registrationCodesSchema also enforces the redemption invariants at the
// storage layer: users holds no duplicates and never outgrows max_use.
func registrationCodesSchema() bson.M {
	return bson.M{
		"$and": bson.A{
			bson.M{"$jsonSchema": bson.M{
				"bsonType": "object",
				"required": bson.A{"workspace_id", "reference", "space", "code", "active", "max_use", "start_date", "end_date", "users", "version"},
				"properties": bson.M{
					"workspace_id":  bson.M{"bsonType": "objectId"},
					"reference":     nonBlank,
					"space":         nonBlank,
					"code":          bson.M{"bsonType": "string"},
					"active":        bson.M{"bsonType": "bool"},
					"max_use":       bson.M{"bsonType": integer, "minimum": 0},
					"start_date":    bson.M{"bsonType": "date"},
					"end_date":      bson.M{"bsonType": "date"},
					"users":         bson.M{"bsonType": "array", "uniqueItems": true, "items": bson.M{"bsonType": "string"}},
					"last_used":     bson.M{"bsonType": bson.A{"date", "null"}},
					"add_to_groups": bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
					"add_to_wikis":  bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
					"version":       bson.M{"bsonType": integer, "minimum": 0},
				},
			}},
			bson.M{"$expr": bson.M{"$lte": bson.A{
				bson.M{"$size": bson.M{"$ifNull": bson.A{"$users", bson.A{}}}},
				"$max_use",
			}}},
		},
	}
}

func workspacesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "subdomain", "status"},
			"properties": bson.M{
				"name":      nonBlank,
				"subdomain": nonBlank,
				"aliases":   bson.M{"bsonType": "array", "items": bson.M{"bsonType": "string"}},
				"status":    bson.M{"enum": bson.A{"active", "disabled"}},
			},
		},
	}
}

func groupsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"workspace_id", "name", "name_ci", "status"},
			"properties": bson.M{
				"workspace_id": bson.M{"bsonType": "objectId"},
				"name":         nonBlank,
				"name_ci":      nonBlank,
				"status":       bson.M{"enum": bson.A{"active", "disabled"}},
			},
		},
	}
}

func groupMembershipsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"workspace_id", "group_id", "member", "role"},
			"properties": bson.M{
				"workspace_id": bson.M{"bsonType": "objectId"},
				"group_id":     bson.M{"bsonType": "objectId"},
				"member":       nonBlank,
				"role":         bson.M{"enum": bson.A{"leader", "member"}},
				"created_at":   bson.M{"bsonType": "date"},
			},
		},
	}
}

func workspaceMembershipsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"workspace_id", "member"},
			"properties": bson.M{
				"workspace_id": bson.M{"bsonType": "objectId"},
				"member":       nonBlank,
				"created_at":   bson.M{"bsonType": "date"},
			},
		},
	}
}
