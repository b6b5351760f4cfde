package auditlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/regcodes/internal/app/features/auditlog"
	"github.com/dalemusser/regcodes/internal/app/store/audit"
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/dalemusser/regcodes/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeEvents struct {
	events    []audit.Event
	total     int64
	err       error
	gotFilter audit.QueryFilter
	gotWS     *primitive.ObjectID
	gotSince  time.Time
}

func (f *fakeEvents) Query(_ context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	f.gotFilter = filter
	return f.events, f.err
}

func (f *fakeEvents) CountByFilter(context.Context, audit.QueryFilter) (int64, error) {
	return f.total, f.err
}

func (f *fakeEvents) GetFailedRedemptions(_ context.Context, ws *primitive.ObjectID, since time.Time, _ int64) ([]audit.Event, error) {
	f.gotWS = ws
	f.gotSince = since
	return f.events, f.err
}

func newRouter(t *testing.T, events auditlog.EventStore) http.Handler {
	t.Helper()
	sm, err := auth.NewSessionManager("test-session-key-must-be-32-chars-long", "test-session", "", time.Hour, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSessionManager failed: %v", err)
	}
	return auditlog.Routes(auditlog.NewHandler(events, zap.NewNop()), sm)
}

func get(router http.Handler, target, role string, ws models.Workspace) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Accept", "application/json")
	if role != "" {
		req = auth.WithTestUser(req, &auth.SessionUser{LoginID: "root", Role: role, Workspace: "main"})
	}
	req = workspace.WithTestWorkspace(req, ws)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type listBody struct {
	Items []struct {
		Category  string `json:"category"`
		EventType string `json:"event_type"`
		User      string `json:"user"`
		Record    string `json:"record"`
		Success   bool   `json:"success"`
	} `json:"items"`
	Page       int   `json:"page"`
	TotalPages int   `json:"total_pages"`
	Total      int64 `json:"total"`
}

func TestList_RequiresAdmin(t *testing.T) {
	router := newRouter(t, &fakeEvents{})
	ws := models.Workspace{ID: primitive.NewObjectID(), Subdomain: "main"}

	tests := []struct {
		name string
		role string
		want int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"member", "member", http.StatusForbidden},
		{"admin", "admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(router, "/", tt.role, ws)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestList_Filters(t *testing.T) {
	events := &fakeEvents{
		events: []audit.Event{{
			ID:        primitive.NewObjectID(),
			Category:  audit.CategoryRedemption,
			EventType: audit.EventRedemptionSucceeded,
			User:      "main:alice",
			Record:    "RegistrationCodes.Data.RegistrationCode-1.WebHome",
			Success:   true,
		}},
		total: 120,
	}
	router := newRouter(t, events)
	ws := models.Workspace{ID: primitive.NewObjectID(), Subdomain: "main"}

	rec := get(router, "/?category=redemption&user=main:alice&start_date=2026-01-01&end_date=2026-01-31&page=2&per_page=50", "admin", ws)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	f := events.gotFilter
	if f.WorkspaceID == nil || *f.WorkspaceID != ws.ID {
		t.Errorf("WorkspaceID = %v, want %s", f.WorkspaceID, ws.ID.Hex())
	}
	if f.Category != "redemption" || f.User != "main:alice" {
		t.Errorf("filter = %+v", f)
	}
	if f.Offset != 50 || f.Limit != 50 {
		t.Errorf("Offset/Limit = %d/%d, want 50/50", f.Offset, f.Limit)
	}
	if f.StartTime == nil || !f.StartTime.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %v", f.StartTime)
	}
	if f.EndTime == nil || f.EndTime.Before(time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("EndTime = %v, want end of 2026-01-31", f.EndTime)
	}

	var body listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Page != 2 || body.TotalPages != 3 || body.Total != 120 {
		t.Errorf("page/total_pages/total = %d/%d/%d, want 2/3/120", body.Page, body.TotalPages, body.Total)
	}
	if len(body.Items) != 1 || body.Items[0].User != "main:alice" || !body.Items[0].Success {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestList_BadDatesIgnored(t *testing.T) {
	events := &fakeEvents{}
	router := newRouter(t, events)

	rec := get(router, "/?start_date=yesterday&end_date=2026-13-40", "admin", models.Workspace{ID: primitive.NewObjectID()})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if events.gotFilter.StartTime != nil || events.gotFilter.EndTime != nil {
		t.Errorf("expected no time bounds, got %+v", events.gotFilter)
	}
}

func TestFailed_Window(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		window time.Duration
	}{
		{"default", "", 24 * time.Hour},
		{"explicit", "?within=2h", 2 * time.Hour},
		{"invalid", "?within=soon", 24 * time.Hour},
		{"negative", "?within=-1h", 24 * time.Hour},
		{"capped", "?within=10000h", 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEvents{}
			router := newRouter(t, events)
			ws := models.Workspace{ID: primitive.NewObjectID()}

			before := time.Now().UTC()
			rec := get(router, "/failed"+tt.query, "admin", ws)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if events.gotWS == nil || *events.gotWS != ws.ID {
				t.Errorf("workspace = %v, want %s", events.gotWS, ws.ID.Hex())
			}
			got := before.Sub(events.gotSince)
			if got < tt.window-time.Second || got > tt.window+time.Second {
				t.Errorf("window = %v, want about %v", got, tt.window)
			}
		})
	}
}

func TestStoreFault(t *testing.T) {
	router := newRouter(t, &fakeEvents{err: errors.New("boom")})
	ws := models.Workspace{ID: primitive.NewObjectID()}

	for _, target := range []string{"/", "/failed"} {
		rec := get(router, target, "admin", ws)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", target, rec.Code)
		}
	}
}

func TestList_Mongo(t *testing.T) {
	db := testutil.SetupTestDB(t)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	ws := fixtures.CreateWorkspace(ctx, "main")
	other := fixtures.CreateWorkspace(ctx, "other")
	store := audit.New(db)

	for _, e := range []audit.Event{
		{WorkspaceID: &ws.ID, Category: audit.CategoryRedemption, EventType: audit.EventRedemptionSucceeded, User: "main:alice", Success: true},
		{WorkspaceID: &ws.ID, Category: audit.CategoryRedemption, EventType: audit.EventRedemptionRejected, User: "main:bob"},
		{WorkspaceID: &other.ID, Category: audit.CategoryRedemption, EventType: audit.EventRedemptionRejected, User: "other:carol"},
	} {
		if err := store.Log(ctx, e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	router := newRouter(t, store)

	rec := get(router, "/", "admin", ws)
	var body listBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 2 || len(body.Items) != 2 {
		t.Errorf("total/items = %d/%d, want 2/2", body.Total, len(body.Items))
	}

	rec = get(router, "/failed", "admin", ws)
	body = listBody{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].User != "main:bob" {
		t.Errorf("failed items = %+v, want only main:bob", body.Items)
	}
}
