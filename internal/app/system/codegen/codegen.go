// Package codegen produces fresh registration codes and record references.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	regcodestore "github.com/dalemusser/regcodes/internal/app/store/regcodes"
	"github.com/dalemusser/regcodes/internal/app/system/metrics"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	DefaultCodeAttempts   = 16
	DefaultCreateAttempts = 8
)

// ErrExhausted is returned when every candidate was already taken.
var ErrExhausted = errors.New("codegen: attempts exhausted")

// Repository is the slice of the code store the generator needs.
type Repository interface {
	CodeExists(ctx context.Context, workspaceID primitive.ObjectID, code string) (bool, error)
	ListReferences(ctx context.Context, workspaceID primitive.ObjectID) ([]string, error)
	Create(ctx context.Context, rc models.RegistrationCode) (models.RegistrationCode, error)
}

type Generator struct {
	Repo Repository
	Log  *zap.Logger

	// CodeAttempts bounds RandomCode; CreateAttempts bounds CreateRecord.
	CodeAttempts   int
	CreateAttempts int

	// NewCode returns a candidate code. Defaults to uuid.NewString.
	NewCode func() string
}

func New(repo Repository, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		Repo:           repo,
		Log:            logger,
		CodeAttempts:   DefaultCodeAttempts,
		CreateAttempts: DefaultCreateAttempts,
		NewCode:        uuid.NewString,
	}
}

// RandomCode returns a code that no record of the workspace uses, active or
// not. Candidates are random UUIDs, so a collision is already improbable;
// the bound only guards against a broken candidate source.
func (g *Generator) RandomCode(ctx context.Context, workspaceID primitive.ObjectID) (string, error) {
	attempts := g.CodeAttempts
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	next := g.NewCode
	if next == nil {
		next = uuid.NewString
	}

	for i := 0; i < attempts; i++ {
		code := strings.TrimSpace(next())
		if code == "" {
			continue
		}
		exists, err := g.Repo.CodeExists(ctx, workspaceID, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !exists {
			metrics.IncGenerated("code")
			return code, nil
		}
		g.Log.Debug("random code collided, retrying", zap.Int("attempt", i+1))
	}
	return "", ErrExhausted
}

// ParseSequence extracts n from RegistrationCodes.Data.RegistrationCode-<n>.WebHome.
// ok is false for references of any other shape.
func ParseSequence(ref string) (n int, ok bool) {
	if !strings.HasPrefix(ref, models.ReferencePrefix) || !strings.HasSuffix(ref, models.ReferenceSuffix) {
		return 0, false
	}
	num := strings.TrimSuffix(strings.TrimPrefix(ref, models.ReferencePrefix), models.ReferenceSuffix)
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FormatReference builds the record reference for sequence n.
func FormatReference(n int) string {
	return models.ReferencePrefix + strconv.Itoa(n) + models.ReferenceSuffix
}

// NextSequence scans the workspace's references and returns one past the
// highest sequence number, or 1 when there is none. Malformed references
// are ignored.
func (g *Generator) NextSequence(ctx context.Context, workspaceID primitive.ObjectID) (int, error) {
	refs, err := g.Repo.ListReferences(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("list references: %w", err)
	}
	highest := 0
	for _, ref := range refs {
		n, ok := ParseSequence(ref)
		if !ok {
			if strings.HasPrefix(ref, models.ReferencePrefix) {
				g.Log.Debug("ignoring malformed registration code reference", zap.String("record", ref))
			}
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// NextReference returns the reference a new record should take.
func (g *Generator) NextReference(ctx context.Context, workspaceID primitive.ObjectID) (string, error) {
	n, err := g.NextSequence(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	metrics.IncGenerated("reference")
	return FormatReference(n), nil
}

// CreateRecord stores rc under a freshly allocated reference. Two creators
// that compute the same reference race on the unique (workspace_id,
// reference) index; the loser recomputes and tries again. A blank code is
// replaced by a RandomCode.
func (g *Generator) CreateRecord(ctx context.Context, rc models.RegistrationCode) (models.RegistrationCode, error) {
	if strings.TrimSpace(rc.Code) == "" {
		code, err := g.RandomCode(ctx, rc.WorkspaceID)
		if err != nil {
			return models.RegistrationCode{}, err
		}
		rc.Code = code
	}

	attempts := g.CreateAttempts
	if attempts <= 0 {
		attempts = DefaultCreateAttempts
	}
	for i := 0; i < attempts; i++ {
		ref, err := g.NextReference(ctx, rc.WorkspaceID)
		if err != nil {
			return models.RegistrationCode{}, err
		}
		rc.Reference = ref
		rc.Space = strings.TrimSuffix(ref, models.ReferenceSuffix)

		created, err := g.Repo.Create(ctx, rc)
		if err == nil {
			metrics.IncGenerated("record")
			return created, nil
		}
		if !errors.Is(err, regcodestore.ErrDuplicateReference) {
			return models.RegistrationCode{}, fmt.Errorf("create record: %w", err)
		}
		g.Log.Info("registration code reference taken, reallocating",
			zap.String("record", ref), zap.Int("attempt", i+1))
	}
	return models.RegistrationCode{}, ErrExhausted
}
