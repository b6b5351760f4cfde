// internal/domain/models/groupmembership.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// GroupMembership is the authoritative join between user references and groups.
// Exactly one document per (group_id, member).
//
// Member is the canonical user reference relative to the group's workspace:
// the short form ("alice") when the user's home workspace is the group's
// workspace, the fully-qualified form ("main:alice") otherwise.
type GroupMembership struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkspaceID primitive.ObjectID `bson:"workspace_id" json:"workspace_id"` // Parent workspace
	GroupID     primitive.ObjectID `bson:"group_id" json:"group_id"`
	Member      string             `bson:"member" json:"member"`
	Role        string             `bson:"role" json:"role"` // "leader" | "member"
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// WorkspaceMembership admits a user from another workspace into a workspace.
// Exactly one document per (workspace_id, member); Member is always the
// fully-qualified user reference.
type WorkspaceMembership struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	WorkspaceID primitive.ObjectID `bson:"workspace_id" json:"workspace_id"`
	Member      string             `bson:"member" json:"member"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}
