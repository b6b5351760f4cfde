package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Workspace status values.
const (
	WorkspaceActive   = "active"
	WorkspaceDisabled = "disabled"
)

// Workspace is a tenant partition (a "wiki"). Groups, group memberships and
// registration codes all belong to exactly one workspace via workspace_id.
type Workspace struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	// Display name for the workspace
	Name   string `bson:"name" json:"name"`
	NameCI string `bson:"name_ci" json:"name_ci"` // Case-insensitive for search

	// Canonical identifier (e.g., "mhs" for mhs.adroit.games).
	// Must be unique across all workspaces; it is the workspace part of a
	// fully-qualified user reference.
	Subdomain string `bson:"subdomain" json:"subdomain"`

	// Alternative identifiers that resolve to this workspace.
	// Stored folded (lowercase) so lookups are case-insensitive.
	Aliases []string `bson:"aliases,omitempty" json:"aliases,omitempty"`

	// Status: "active" or "disabled"
	Status string `bson:"status" json:"status"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether the workspace accepts new members.
func (w Workspace) IsActive() bool {
	return w.Status == "" || w.Status == WorkspaceActive
}
