package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db  *mongo.Database
	t   *testing.T
	seq int
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateWorkspace creates an active workspace with the given subdomain and aliases.
func (f *Fixtures) CreateWorkspace(ctx context.Context, subdomain string, aliases ...string) models.Workspace {
	f.t.Helper()

	now := time.Now().UTC()
	folded := make([]string, 0, len(aliases))
	for _, a := range aliases {
		folded = append(folded, text.Fold(a))
	}
	ws := models.Workspace{
		ID:        primitive.NewObjectID(),
		Name:      subdomain,
		NameCI:    text.Fold(subdomain),
		Subdomain: subdomain,
		Aliases:   folded,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := f.db.Collection("workspaces").InsertOne(ctx, ws); err != nil {
		f.t.Fatalf("failed to create test workspace: %v", err)
	}
	return ws
}

// CreateGroup creates a test group in the given workspace.
func (f *Fixtures) CreateGroup(ctx context.Context, name string, workspaceID primitive.ObjectID) models.Group {
	f.t.Helper()

	now := time.Now().UTC()
	group := models.Group{
		ID:          primitive.NewObjectID(),
		WorkspaceID: workspaceID,
		Name:        name,
		NameCI:      text.Fold(name),
		Description: "Test group description",
		Status:      "active",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := f.db.Collection("groups").InsertOne(ctx, group); err != nil {
		f.t.Fatalf("failed to create test group: %v", err)
	}
	return group
}

// CreateRegistrationCode inserts a live registration code record with a
// sequential reference. Zero-valued window fields default to a window that
// is open for a year around now.
func (f *Fixtures) CreateRegistrationCode(ctx context.Context, rc models.RegistrationCode) models.RegistrationCode {
	f.t.Helper()

	f.seq++
	now := time.Now().UTC()
	rc.ID = primitive.NewObjectID()
	if rc.Reference == "" {
		rc.Reference = fmt.Sprintf("%s%d%s", models.ReferencePrefix, f.seq, models.ReferenceSuffix)
	}
	if rc.Space == "" {
		rc.Space = fmt.Sprintf("%s%d", models.ReferencePrefix, f.seq)
	}
	if rc.StartDate.IsZero() {
		rc.StartDate = now.AddDate(0, -6, 0)
	}
	if rc.EndDate.IsZero() {
		rc.EndDate = now.AddDate(0, 6, 0)
	}
	if rc.Users == nil {
		rc.Users = []string{}
	}
	if rc.AddToGroups == nil {
		rc.AddToGroups = []string{}
	}
	if rc.AddToWikis == nil {
		rc.AddToWikis = []string{}
	}
	rc.CreatedAt = now
	rc.UpdatedAt = now

	if _, err := f.db.Collection("registration_codes").InsertOne(ctx, rc); err != nil {
		f.t.Fatalf("failed to create test registration code: %v", err)
	}
	return rc
}

// CreateGroupMembership creates a membership record linking a member reference to a group.
func (f *Fixtures) CreateGroupMembership(ctx context.Context, group models.Group, member string) models.GroupMembership {
	f.t.Helper()

	m := models.GroupMembership{
		ID:          primitive.NewObjectID(),
		WorkspaceID: group.WorkspaceID,
		GroupID:     group.ID,
		Member:      member,
		Role:        "member",
		CreatedAt:   time.Now().UTC(),
	}

	if _, err := f.db.Collection("group_memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test group membership: %v", err)
	}
	return m
}
