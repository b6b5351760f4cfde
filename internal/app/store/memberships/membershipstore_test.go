package membershipstore_test

import (
	"errors"
	"testing"

	membershipstore "github.com/dalemusser/regcodes/internal/app/store/memberships"
	"github.com/dalemusser/regcodes/internal/testutil"
)

func TestStore_Add(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws := fixtures.CreateWorkspace(ctx, "main")
	group := fixtures.CreateGroup(ctx, "Editors", ws.ID)

	if err := store.Add(ctx, group, "alice", ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	exists, err := store.Exists(ctx, group.ID, "alice")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected membership to exist")
	}

	// Exact match only: the qualified form is a different member.
	exists, err = store.Exists(ctx, group.ID, "main:alice")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("qualified reference should not match a short membership")
	}

	list, err := store.ListByGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListByGroup failed: %v", err)
	}
	if len(list) != 1 || list[0].Role != "member" || list[0].WorkspaceID != ws.ID {
		t.Errorf("unexpected memberships: %+v", list)
	}
}

func TestStore_Add_Duplicate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws := fixtures.CreateWorkspace(ctx, "main")
	group := fixtures.CreateGroup(ctx, "Editors", ws.ID)

	if err := store.Add(ctx, group, "other:bob", "member"); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	err := store.Add(ctx, group, "other:bob", "member")
	if !errors.Is(err, membershipstore.ErrDuplicateMembership) {
		t.Errorf("expected ErrDuplicateMembership, got %v", err)
	}

	n, err := store.CountByGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("CountByGroup failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountByGroup = %d, want 1", n)
	}
}

func TestStore_Add_Invalid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws := fixtures.CreateWorkspace(ctx, "main")
	group := fixtures.CreateGroup(ctx, "Editors", ws.ID)

	if err := store.Add(ctx, group, "  ", "member"); err == nil {
		t.Error("expected error for blank member")
	}
	if err := store.Add(ctx, group, "alice", "owner"); err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestStore_Remove(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws := fixtures.CreateWorkspace(ctx, "main")
	group := fixtures.CreateGroup(ctx, "Editors", ws.ID)
	fixtures.CreateGroupMembership(ctx, group, "alice")

	if err := store.Remove(ctx, group.ID, "alice"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	exists, err := store.Exists(ctx, group.ID, "alice")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("membership should be gone")
	}

	if err := store.Remove(ctx, group.ID, "alice"); !errors.Is(err, membershipstore.ErrMembershipNotFound) {
		t.Errorf("second Remove: expected ErrMembershipNotFound, got %v", err)
	}
}

func TestStore_WorkspaceMembers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := membershipstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws := fixtures.CreateWorkspace(ctx, "other")

	if err := store.AddWorkspaceMember(ctx, ws.ID, "main:alice"); err != nil {
		t.Fatalf("AddWorkspaceMember failed: %v", err)
	}
	err := store.AddWorkspaceMember(ctx, ws.ID, "main:alice")
	if !errors.Is(err, membershipstore.ErrDuplicateWorkspaceMembership) {
		t.Errorf("expected ErrDuplicateWorkspaceMembership, got %v", err)
	}

	exists, err := store.WorkspaceMemberExists(ctx, ws.ID, "main:alice")
	if err != nil {
		t.Fatalf("WorkspaceMemberExists failed: %v", err)
	}
	if !exists {
		t.Error("expected workspace membership to exist")
	}
}
