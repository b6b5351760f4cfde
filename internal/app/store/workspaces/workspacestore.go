// internal/app/store/workspaces/workspacestore.go
package workspacestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

var (
	ErrDuplicateSubdomain = errors.New("a workspace with this subdomain already exists")
	ErrNotFound           = errors.New("workspace not found")
)

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("workspaces")}
}

// Create inserts a new workspace. Aliases are stored folded.
func (s *Store) Create(ctx context.Context, ws models.Workspace) (models.Workspace, error) {
	now := time.Now().UTC()
	ws.ID = primitive.NewObjectID()
	ws.NameCI = text.Fold(ws.Name)
	ws.Aliases = foldAll(ws.Aliases)
	if ws.Status == "" {
		ws.Status = models.WorkspaceActive
	}
	ws.CreatedAt = now
	ws.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, ws); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Workspace{}, ErrDuplicateSubdomain
		}
		return models.Workspace{}, err
	}
	return ws, nil
}

// GetByID retrieves a workspace by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Workspace, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// getBySubdomain retrieves a workspace by its canonical subdomain.
func (s *Store) getBySubdomain(ctx context.Context, subdomain string) (models.Workspace, error) {
	return s.findOne(ctx, bson.M{"subdomain": subdomain})
}

// Resolve maps a workspace identifier (canonical subdomain or any alias) to
// the workspace it names. Alias matching ignores case; surrounding
// whitespace is ignored.
func (s *Store) Resolve(ctx context.Context, ident string) (models.Workspace, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return models.Workspace{}, ErrNotFound
	}
	ws, err := s.getBySubdomain(ctx, ident)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return ws, err
	}
	return s.findOne(ctx, bson.M{"aliases": text.Fold(ident)})
}

// AddAlias registers an extra identifier for the workspace.
func (s *Store) AddAlias(ctx context.Context, id primitive.ObjectID, alias string) error {
	alias = text.Fold(strings.TrimSpace(alias))
	if alias == "" {
		return nil
	}
	res, err := s.c.UpdateByID(ctx, id, bson.M{
		"$addToSet": bson.M{"aliases": alias},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFirst returns the first workspace (for single-workspace deployments).
// Returns ErrNotFound if no workspaces exist.
func (s *Store) GetFirst(ctx context.Context) (models.Workspace, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	var ws models.Workspace
	if err := s.c.FindOne(ctx, bson.M{}, opts).Decode(&ws); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Workspace{}, ErrNotFound
		}
		return models.Workspace{}, err
	}
	return ws, nil
}

// EnsureDefault creates a default workspace if none exists.
// Returns the existing or newly created workspace.
func (s *Store) EnsureDefault(ctx context.Context, name, subdomain string) (models.Workspace, error) {
	count, err := s.c.CountDocuments(ctx, bson.M{})
	if err != nil {
		return models.Workspace{}, err
	}
	if count > 0 {
		return s.GetFirst(ctx)
	}
	return s.Create(ctx, models.Workspace{
		Name:      name,
		Subdomain: subdomain,
		Status:    models.WorkspaceActive,
	})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.Workspace, error) {
	var ws models.Workspace
	if err := s.c.FindOne(ctx, filter).Decode(&ws); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Workspace{}, ErrNotFound
		}
		return models.Workspace{}, err
	}
	return ws, nil
}

func foldAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = text.Fold(strings.TrimSpace(a)); a != "" {
			out = append(out, a)
		}
	}
	return out
}
