// internal/app/store/regcodes/regcodestore.go
package regcodestore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection holds registration code records.
const Collection = "registration_codes"

var (
	ErrNotFound           = errors.New("registration code not found")
	ErrDuplicateReference = errors.New("a registration code with this reference already exists")
)

// liveSpace matches records stored under RegistrationCodes.Data.<anything>.
var liveSpace = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(models.DataSpace+"."), Options: ""}

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// FindActiveIDsByCode returns the IDs of every live, active record of the
// workspace whose code equals the trimmed code. The caller decides what
// zero or several results mean.
func (s *Store) FindActiveIDsByCode(ctx context.Context, workspaceID primitive.ObjectID, code string) ([]primitive.ObjectID, error) {
	filter := bson.M{
		"workspace_id": workspaceID,
		"space":        liveSpace,
		"active":       true,
		"code":         strings.TrimSpace(code),
	}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetByID loads a record.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.RegistrationCode, error) {
	var rc models.RegistrationCode
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&rc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.RegistrationCode{}, ErrNotFound
		}
		return models.RegistrationCode{}, err
	}
	return rc, nil
}

// GetByReference loads a record by its reference within a workspace.
func (s *Store) GetByReference(ctx context.Context, workspaceID primitive.ObjectID, ref string) (models.RegistrationCode, error) {
	var rc models.RegistrationCode
	err := s.c.FindOne(ctx, bson.M{"workspace_id": workspaceID, "reference": ref}).Decode(&rc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.RegistrationCode{}, ErrNotFound
		}
		return models.RegistrationCode{}, err
	}
	return rc, nil
}

// RecordUse appends userRef to the record's users and stamps last_used, but
// only while the record is still redeemable by userRef at now: live, active,
// same code, window containing now, fewer users than max_use and userRef not
// yet listed. The filter and the push are one single-document write, so the
// cap and the no-duplicate rule hold however many callers race, and a caller
// that is still eligible when its write lands always wins. Version is bumped
// as a change stamp only.
//
// Returns false (and no error) when nothing matched; the caller reloads the
// record to learn which gate closed.
func (s *Store) RecordUse(ctx context.Context, id primitive.ObjectID, code, userRef string, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":        id,
		"space":      liveSpace,
		"active":     true,
		"code":       strings.TrimSpace(code),
		"users":      bson.M{"$ne": userRef},
		"start_date": bson.M{"$lte": now},
		"end_date":   bson.M{"$gte": now},
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$users", bson.A{}}}},
			"$max_use",
		}},
	}
	update := bson.M{
		"$push": bson.M{"users": userRef},
		"$set":  bson.M{"last_used": now, "updated_at": now},
		"$inc":  bson.M{"version": 1},
	}
	res, err := s.c.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// ListReferences returns every record reference of the workspace, whatever
// its space or state.
func (s *Store) ListReferences(ctx context.Context, workspaceID primitive.ObjectID) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"reference": 1})
	cur, err := s.c.Find(ctx, bson.M{"workspace_id": workspaceID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var refs []string
	for cur.Next(ctx) {
		var row struct {
			Reference string `bson:"reference"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		refs = append(refs, row.Reference)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

// CodeExists reports whether any record of the workspace, active or not,
// uses the trimmed code.
func (s *Store) CodeExists(ctx context.Context, workspaceID primitive.ObjectID, code string) (bool, error) {
	err := s.c.FindOne(ctx,
		bson.M{"workspace_id": workspaceID, "code": strings.TrimSpace(code)},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a new record. Reference must be set by the caller.
func (s *Store) Create(ctx context.Context, rc models.RegistrationCode) (models.RegistrationCode, error) {
	now := time.Now().UTC()
	rc.ID = primitive.NewObjectID()
	rc.Code = strings.TrimSpace(rc.Code)
	if rc.Space == "" {
		rc.Space = strings.TrimSuffix(rc.Reference, models.ReferenceSuffix)
	}
	// Users must be an array (never null) for $push and $ne to behave.
	if rc.Users == nil {
		rc.Users = []string{}
	}
	if rc.AddToGroups == nil {
		rc.AddToGroups = []string{}
	}
	if rc.AddToWikis == nil {
		rc.AddToWikis = []string{}
	}
	rc.Version = 0
	rc.CreatedAt = now
	rc.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, rc); err != nil {
		if wafflemongo.IsDup(err) {
			return models.RegistrationCode{}, ErrDuplicateReference
		}
		return models.RegistrationCode{}, err
	}
	return rc, nil
}

// SetActive flips the active flag (administrative edit).
func (s *Store) SetActive(ctx context.Context, id primitive.ObjectID, active bool) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"active":     active,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRedeemable counts live, active records across all workspaces whose
// validity window contains now and that still have uses left.
func (s *Store) CountRedeemable(ctx context.Context, now time.Time) (int64, error) {
	return s.c.CountDocuments(ctx, bson.M{
		"space":      liveSpace,
		"active":     true,
		"start_date": bson.M{"$lte": now},
		"end_date":   bson.M{"$gte": now},
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$users", bson.A{}}}},
			"$max_use",
		}},
	})
}
