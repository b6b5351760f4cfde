package workspacestore_test

import (
	"errors"
	"testing"

	workspacestore "github.com/dalemusser/regcodes/internal/app/store/workspaces"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/dalemusser/regcodes/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_Create(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	created, err := store.Create(ctx, models.Workspace{
		Name:      "Test Workspace",
		Subdomain: "test",
		Aliases:   []string{" Legacy ", ""},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.ID == primitive.NilObjectID {
		t.Error("expected ID to be assigned")
	}
	if created.NameCI == "" {
		t.Error("expected NameCI to be set")
	}
	if created.Status != models.WorkspaceActive {
		t.Errorf("expected status 'active', got %q", created.Status)
	}
	if len(created.Aliases) != 1 || created.Aliases[0] != "legacy" {
		t.Errorf("Aliases = %v, want [legacy]", created.Aliases)
	}
}

func TestStore_Create_DuplicateSubdomain(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := store.Create(ctx, models.Workspace{Name: "Workspace 1", Subdomain: "duplicate"}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := store.Create(ctx, models.Workspace{Name: "Workspace 2", Subdomain: "duplicate"})
	if !errors.Is(err, workspacestore.ErrDuplicateSubdomain) {
		t.Errorf("expected ErrDuplicateSubdomain, got %v", err)
	}
}

func TestStore_GetByID_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.GetByID(ctx, primitive.NewObjectID())
	if !errors.Is(err, workspacestore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Resolve(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws, err := store.Create(ctx, models.Workspace{Name: "Other", Subdomain: "otherwiki", Aliases: []string{"Other-Alias"}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	tests := []struct {
		name    string
		ident   string
		wantErr error
	}{
		{"subdomain", "otherwiki", nil},
		{"subdomain with spaces", "  otherwiki ", nil},
		{"alias", "other-alias", nil},
		{"alias different case", "OTHER-ALIAS", nil},
		{"unknown", "nowhere", workspacestore.ErrNotFound},
		{"blank", "   ", workspacestore.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Resolve(ctx, tt.ident)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve(%q) error = %v, want %v", tt.ident, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.ident, err)
			}
			if got.ID != ws.ID {
				t.Errorf("Resolve(%q) = %s, want %s", tt.ident, got.ID.Hex(), ws.ID.Hex())
			}
		})
	}
}

func TestStore_AddAlias(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws, err := store.Create(ctx, models.Workspace{Name: "Main", Subdomain: "main"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.AddAlias(ctx, ws.ID, "Primary"); err != nil {
		t.Fatalf("AddAlias failed: %v", err)
	}
	if err := store.AddAlias(ctx, ws.ID, "primary"); err != nil {
		t.Fatalf("second AddAlias failed: %v", err)
	}

	got, err := store.GetByID(ctx, ws.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(got.Aliases) != 1 {
		t.Errorf("Aliases = %v, want one entry", got.Aliases)
	}

	if err := store.AddAlias(ctx, primitive.NewObjectID(), "x"); !errors.Is(err, workspacestore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_EnsureDefault_CreatesNew(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws, err := store.EnsureDefault(ctx, "Default Workspace", "default")
	if err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	if ws.Name != "Default Workspace" || ws.Subdomain != "default" {
		t.Errorf("unexpected workspace: %+v", ws)
	}
}

func TestStore_EnsureDefault_ReturnsExisting(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := workspacestore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	existing, err := store.Create(ctx, models.Workspace{Name: "Existing", Subdomain: "existing"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ws, err := store.EnsureDefault(ctx, "Default Workspace", "default")
	if err != nil {
		t.Fatalf("EnsureDefault failed: %v", err)
	}
	if ws.ID != existing.ID {
		t.Errorf("expected existing workspace %s, got %s", existing.ID.Hex(), ws.ID.Hex())
	}
}
