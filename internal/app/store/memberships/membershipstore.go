// internal/app/store/memberships/membershipstore.go
package membershipstore

// Terminology: Member references
//   - Group membership member: the user reference relative to the group's
//     workspace ("alice" for a local user, "main:alice" for a foreign one)
//   - Workspace membership member: always the fully-qualified reference

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type Store struct {
	c          *mongo.Collection
	workspaces *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		c:          db.Collection("group_memberships"),
		workspaces: db.Collection("workspace_memberships"),
	}
}

var (
	errBlankMember = errors.New("member reference is blank")
	errBadRole     = errors.New(`role must be "leader" or "member"`)
)

var (
	ErrDuplicateMembership          = errors.New("user is already a member of this group")
	ErrDuplicateWorkspaceMembership = errors.New("user is already a member of this workspace")
	ErrMembershipNotFound           = errors.New("user is not a member of this group")
)

// Add creates a group membership. The unique (group_id, member) index makes
// the insert the existence check: a duplicate returns ErrDuplicateMembership.
func (s *Store) Add(ctx context.Context, g models.Group, member, role string) error {
	member = strings.TrimSpace(member)
	if member == "" {
		return errBlankMember
	}
	if role == "" {
		role = "member"
	}
	if role != "leader" && role != "member" {
		return errBadRole
	}

	doc := models.GroupMembership{
		ID:          primitive.NewObjectID(),
		WorkspaceID: g.WorkspaceID,
		GroupID:     g.ID,
		Member:      member,
		Role:        role,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateMembership
		}
		return err
	}
	return nil
}

// Remove deletes the membership document for (groupID, member).
// Returns ErrMembershipNotFound when there was none.
func (s *Store) Remove(ctx context.Context, groupID primitive.ObjectID, member string) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"group_id": groupID, "member": strings.TrimSpace(member)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// Exists checks if a membership exists for the given group and exact member reference.
func (s *Store) Exists(ctx context.Context, groupID primitive.ObjectID, member string) (bool, error) {
	return exists(ctx, s.c, bson.M{"group_id": groupID, "member": member})
}

// ListByGroup returns all memberships for a group.
func (s *Store) ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.GroupMembership, error) {
	cur, err := s.c.Find(ctx, bson.M{"group_id": groupID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var memberships []models.GroupMembership
	if err := cur.All(ctx, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

// CountByGroup returns the number of members of a group.
func (s *Store) CountByGroup(ctx context.Context, groupID primitive.ObjectID) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{"group_id": groupID})
}

// AddWorkspaceMember admits a fully-qualified user reference into a workspace.
func (s *Store) AddWorkspaceMember(ctx context.Context, workspaceID primitive.ObjectID, member string) error {
	member = strings.TrimSpace(member)
	if member == "" {
		return errBlankMember
	}
	doc := models.WorkspaceMembership{
		ID:          primitive.NewObjectID(),
		WorkspaceID: workspaceID,
		Member:      member,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.workspaces.InsertOne(ctx, doc); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateWorkspaceMembership
		}
		return err
	}
	return nil
}

// WorkspaceMemberExists reports whether member was admitted into the workspace.
func (s *Store) WorkspaceMemberExists(ctx context.Context, workspaceID primitive.ObjectID, member string) (bool, error) {
	return exists(ctx, s.workspaces, bson.M{"workspace_id": workspaceID, "member": member})
}

func exists(ctx context.Context, c *mongo.Collection, filter bson.M) (bool, error) {
	err := c.FindOne(ctx, filter).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
