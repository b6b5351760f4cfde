package activation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/regcodes/internal/app/system/activation"
	"github.com/dalemusser/regcodes/internal/app/system/auditlog"
	"github.com/dalemusser/regcodes/internal/app/system/propagation"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// memRepo is an in-memory code store whose RecordUse guards the write with
// the same redemption gates as the Mongo store.
type memRepo struct {
	mu   sync.Mutex
	recs map[primitive.ObjectID]*models.RegistrationCode

	findErr error
	getErr  error
	useErr  error

	// beforeUse runs before each RecordUse is applied, afterUse right after.
	beforeUse func(id primitive.ObjectID)
	afterUse  func(id primitive.ObjectID)
	uses      int
}

func newRepo() *memRepo {
	return &memRepo{recs: map[primitive.ObjectID]*models.RegistrationCode{}}
}

func (r *memRepo) add(rc models.RegistrationCode) models.RegistrationCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc.ID = primitive.NewObjectID()
	if rc.Space == "" {
		rc.Space = fmt.Sprintf("%s%d", models.ReferencePrefix, len(r.recs)+1)
	}
	if rc.Reference == "" {
		rc.Reference = rc.Space + models.ReferenceSuffix
	}
	r.recs[rc.ID] = &rc
	return rc
}

func (r *memRepo) get(id primitive.ObjectID) models.RegistrationCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := *r.recs[id]
	rc.Users = append([]string(nil), rc.Users...)
	return rc
}

func (r *memRepo) FindActiveIDsByCode(_ context.Context, wsID primitive.ObjectID, code string) ([]primitive.ObjectID, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []primitive.ObjectID
	for id, rc := range r.recs {
		if rc.WorkspaceID == wsID && rc.Active &&
			strings.HasPrefix(rc.Space, models.DataSpace+".") &&
			strings.TrimSpace(rc.Code) == strings.TrimSpace(code) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memRepo) GetByID(_ context.Context, id primitive.ObjectID) (models.RegistrationCode, error) {
	if r.getErr != nil {
		return models.RegistrationCode{}, r.getErr
	}
	return r.get(id), nil
}

func (r *memRepo) RecordUse(_ context.Context, id primitive.ObjectID, code, user string, now time.Time) (bool, error) {
	if r.useErr != nil {
		return false, r.useErr
	}
	if r.beforeUse != nil {
		r.beforeUse(id)
	}
	if r.afterUse != nil {
		defer r.afterUse(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uses++
	rc := r.recs[id]
	if !rc.Active || !strings.HasPrefix(rc.Space, models.DataSpace+".") ||
		strings.TrimSpace(rc.Code) != strings.TrimSpace(code) ||
		rc.HasUser(user) || len(rc.Users) >= rc.MaxUse ||
		now.Before(rc.StartDate) || now.After(rc.EndDate) {
		return false, nil
	}
	rc.Users = append(rc.Users, user)
	t := now
	rc.LastUsed = &t
	rc.Version++
	return true, nil
}

// forceUse commits a use directly, as a concurrent redeemer would.
func (r *memRepo) forceUse(id primitive.ObjectID, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc := r.recs[id]
	rc.Users = append(rc.Users, user)
	rc.Version++
}

// setActive flips the active flag, as an administrator would.
func (r *memRepo) setActive(id primitive.ObjectID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[id].Active = active
}

type grant struct {
	user   string
	ws     string
	wikis  []string
	groups []string
}

type recordingPropagator struct {
	mu     sync.Mutex
	grants []grant
	report propagation.Report
}

func (p *recordingPropagator) Grant(ctx context.Context, user string, current models.Workspace, wikis, groups []string) propagation.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		panic("propagation context already done")
	}
	p.grants = append(p.grants, grant{user: user, ws: current.Subdomain, wikis: wikis, groups: groups})
	return p.report
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []auditlog.Redemption
}

func (a *recordingAuditor) Redemption(_ context.Context, r auditlog.Redemption) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, r)
}

func (a *recordingAuditor) last() auditlog.Redemption {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

var (
	yearStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	yearEnd   = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	midYear   = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	repo   *memRepo
	prop   *recordingPropagator
	audit  *recordingAuditor
	engine *activation.Engine
	ws     models.Workspace
}

func newHarness(now time.Time) *harness {
	h := &harness{
		repo:  newRepo(),
		prop:  &recordingPropagator{},
		audit: &recordingAuditor{},
		ws:    models.Workspace{ID: primitive.NewObjectID(), Subdomain: "main", Status: models.WorkspaceActive},
	}
	h.engine = activation.New(h.repo, h.prop, h.audit, zap.NewNop())
	h.engine.Now = func() time.Time { return now }
	return h
}

func (h *harness) record(mut func(*models.RegistrationCode)) models.RegistrationCode {
	rc := models.RegistrationCode{
		WorkspaceID: h.ws.ID,
		Code:        "ABC123",
		Active:      true,
		MaxUse:      2,
		StartDate:   yearStart,
		EndDate:     yearEnd,
		Users:       []string{},
		AddToGroups: []string{"Editors"},
		AddToWikis:  []string{},
	}
	if mut != nil {
		mut(&rc)
	}
	return h.repo.add(rc)
}

func (h *harness) activate(code, user string) activation.Outcome {
	return h.engine.Activate(context.Background(), activation.Request{Code: code, UserRef: user, Workspace: h.ws})
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		o    activation.Outcome
		want string
	}{
		{activation.Success, "success"},
		{activation.NoResult, "noresult"},
		{activation.MultipleResults, "multipleresults"},
		{activation.Error, "error"},
		{activation.Outcome(42), "error"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}

func TestActivate_ABC123Walkthrough(t *testing.T) {
	h := newHarness(midYear)
	rc := h.record(nil)

	steps := []struct {
		code, user string
		want       activation.Outcome
		wantUsers  []string
	}{
		{"  abc123  ", "alice", activation.NoResult, nil},
		{"ABC123", "alice", activation.Success, []string{"main:alice"}},
		{"ABC123", "alice", activation.NoResult, []string{"main:alice"}},
		{"ABC123", "bob", activation.Success, []string{"main:alice", "main:bob"}},
		{"ABC123", "carol", activation.NoResult, []string{"main:alice", "main:bob"}},
	}
	for i, st := range steps {
		if got := h.activate(st.code, st.user); got != st.want {
			t.Fatalf("step %d: activate(%q, %q) = %s, want %s", i, st.code, st.user, got, st.want)
		}
		got := h.repo.get(rc.ID).Users
		if strings.Join(got, ",") != strings.Join(st.wantUsers, ",") {
			t.Fatalf("step %d: users = %v, want %v", i, got, st.wantUsers)
		}
	}

	if len(h.prop.grants) != 2 {
		t.Fatalf("expected 2 propagations, got %d", len(h.prop.grants))
	}
	g := h.prop.grants[0]
	if g.user != "main:alice" || g.ws != "main" || len(g.groups) != 1 || g.groups[0] != "Editors" || len(g.wikis) != 0 {
		t.Errorf("unexpected first grant: %+v", g)
	}
	if h.repo.get(rc.ID).LastUsed == nil {
		t.Error("LastUsed should be set")
	}
}

func TestActivate_Whitespace(t *testing.T) {
	tests := []struct {
		name      string
		stored    string
		presented string
		want      activation.Outcome
	}{
		{"presented padded", "ABC123", "\t ABC123 \n", activation.Success},
		{"stored padded", "  ABC123 ", "ABC123", activation.Success},
		{"case differs", "ABC123", "abc123", activation.NoResult},
		{"blank", "ABC123", "   ", activation.NoResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(midYear)
			h.record(func(rc *models.RegistrationCode) { rc.Code = tt.stored })
			if got := h.activate(tt.presented, "alice"); got != tt.want {
				t.Errorf("activate = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestActivate_WindowBoundaries(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want activation.Outcome
	}{
		{"before start", yearStart.Add(-time.Nanosecond), activation.NoResult},
		{"at start", yearStart, activation.Success},
		{"inside", midYear, activation.Success},
		{"at end", yearEnd, activation.Success},
		{"after end", yearEnd.Add(time.Nanosecond), activation.NoResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.now)
			rc := h.record(nil)
			if got := h.activate("ABC123", "alice"); got != tt.want {
				t.Errorf("activate = %s, want %s", got, tt.want)
			}
			users := h.repo.get(rc.ID).Users
			if tt.want == activation.NoResult && len(users) != 0 {
				t.Errorf("rejected activation mutated users: %v", users)
			}
		})
	}
}

func TestActivate_CapReachedDoesNotMutate(t *testing.T) {
	h := newHarness(midYear)
	rc := h.record(func(rc *models.RegistrationCode) { rc.MaxUse = 3 })

	for _, u := range []string{"u1", "u2", "u3"} {
		if got := h.activate("ABC123", u); got != activation.Success {
			t.Fatalf("activate(%s) = %s, want success", u, got)
		}
	}
	before := h.repo.get(rc.ID)
	if got := h.activate("ABC123", "u4"); got != activation.NoResult {
		t.Fatalf("activate at cap = %s, want noresult", got)
	}
	after := h.repo.get(rc.ID)
	if len(after.Users) != 3 || after.Version != before.Version {
		t.Errorf("state changed at cap: before %+v after %+v", before, after)
	}
}

func TestActivate_AlreadyRedeemedWinsOverLaterGates(t *testing.T) {
	// alice is listed; the cap still has room and the window is open.
	h := newHarness(midYear)
	h.record(func(rc *models.RegistrationCode) {
		rc.MaxUse = 5
		rc.Users = []string{"main:alice"}
	})
	if got := h.activate("ABC123", "alice"); got != activation.NoResult {
		t.Errorf("repeat redemption = %s, want noresult", got)
	}
	if got := h.activate("ABC123", "main:alice"); got != activation.NoResult {
		t.Errorf("repeat redemption with qualified ref = %s, want noresult", got)
	}
	if r := h.audit.last(); r.Reason != "already_redeemed" {
		t.Errorf("audit reason = %q, want already_redeemed", r.Reason)
	}
}

func TestActivate_InactiveAndTemplateRecordsIgnored(t *testing.T) {
	h := newHarness(midYear)
	h.record(func(rc *models.RegistrationCode) { rc.Active = false })
	h.record(func(rc *models.RegistrationCode) {
		rc.Space = models.CodeSpace + ".Template"
		rc.Reference = rc.Space + models.ReferenceSuffix
	})

	if got := h.activate("ABC123", "alice"); got != activation.NoResult {
		t.Errorf("activate = %s, want noresult", got)
	}
}

func TestActivate_MultipleResults(t *testing.T) {
	h := newHarness(midYear)
	a := h.record(nil)
	b := h.record(nil)

	if got := h.activate("ABC123", "alice"); got != activation.MultipleResults {
		t.Fatalf("activate = %s, want multipleresults", got)
	}
	for _, id := range []primitive.ObjectID{a.ID, b.ID} {
		rc := h.repo.get(id)
		if len(rc.Users) != 0 || rc.Version != 0 {
			t.Errorf("ambiguous record %s was mutated: %+v", rc.Reference, rc)
		}
	}
	if len(h.prop.grants) != 0 {
		t.Error("no propagation expected")
	}
	if r := h.audit.last(); r.Outcome != "multipleresults" || r.Matches != 2 {
		t.Errorf("unexpected audit entry: %+v", r)
	}
}

func TestActivate_OtherWorkspaceNotVisible(t *testing.T) {
	h := newHarness(midYear)
	h.record(func(rc *models.RegistrationCode) { rc.WorkspaceID = primitive.NewObjectID() })

	if got := h.activate("ABC123", "alice"); got != activation.NoResult {
		t.Errorf("activate = %s, want noresult", got)
	}
}

func TestActivate_ConcurrentLastSlot(t *testing.T) {
	for run := 0; run < 50; run++ {
		h := newHarness(midYear)
		rc := h.record(func(rc *models.RegistrationCode) { rc.MaxUse = 1 })

		var wg sync.WaitGroup
		results := make([]activation.Outcome, 2)
		for i, u := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(i int, u string) {
				defer wg.Done()
				results[i] = h.activate("ABC123", u)
			}(i, u)
		}
		wg.Wait()

		success, noresult := 0, 0
		for _, r := range results {
			switch r {
			case activation.Success:
				success++
			case activation.NoResult:
				noresult++
			}
		}
		if success != 1 || noresult != 1 {
			t.Fatalf("run %d: results %v, want one success and one noresult", run, results)
		}
		if users := h.repo.get(rc.ID).Users; len(users) != 1 {
			t.Fatalf("run %d: users = %v, want exactly one", run, users)
		}
	}
}

func TestActivate_ConcurrentManyUsers(t *testing.T) {
	h := newHarness(midYear)
	rc := h.record(func(rc *models.RegistrationCode) { rc.MaxUse = 5 })

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every user tries twice; the second attempt must never count.
			for j := 0; j < 2; j++ {
				if h.activate("ABC123", fmt.Sprintf("user%d", i)) == activation.Success {
					mu.Lock()
					success++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	users := h.repo.get(rc.ID).Users
	if success != 5 || len(users) != 5 {
		t.Fatalf("success = %d, users = %v; want 5 of each", success, users)
	}
	seen := map[string]bool{}
	for _, u := range users {
		if seen[u] {
			t.Fatalf("duplicate user %s in %v", u, users)
		}
		seen[u] = true
	}
}

func TestActivate_ConcurrentUsersFillEverySlot(t *testing.T) {
	h := newHarness(midYear)
	rc := h.record(func(rc *models.RegistrationCode) { rc.MaxUse = 20 })
	// Slow commits keep every redeemer's read stale by the time it writes.
	h.repo.beforeUse = func(primitive.ObjectID) { time.Sleep(time.Millisecond) }

	const n = 20
	results := make([]activation.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.activate("ABC123", fmt.Sprintf("user%d", i))
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r != activation.Success {
			t.Errorf("user%d: activate = %s, want success", i, r)
		}
	}
	if users := h.repo.get(rc.ID).Users; len(users) != n {
		t.Errorf("users = %d, want %d", len(users), n)
	}
}

func TestActivate_ConcurrentCommitRechecksFreshState(t *testing.T) {
	t.Run("room left after concurrent use", func(t *testing.T) {
		h := newHarness(midYear)
		rc := h.record(func(rc *models.RegistrationCode) { rc.MaxUse = 2 })
		once := sync.Once{}
		h.repo.beforeUse = func(id primitive.ObjectID) {
			once.Do(func() { h.repo.forceUse(id, "main:zed") })
		}

		if got := h.activate("ABC123", "alice"); got != activation.Success {
			t.Fatalf("activate = %s, want success", got)
		}
		if users := h.repo.get(rc.ID).Users; strings.Join(users, ",") != "main:zed,main:alice" {
			t.Errorf("users = %v", users)
		}
		if h.repo.uses != 1 {
			t.Errorf("RecordUse calls = %d, want 1", h.repo.uses)
		}
	})

	t.Run("cap filled by concurrent use", func(t *testing.T) {
		h := newHarness(midYear)
		rc := h.record(func(rc *models.RegistrationCode) { rc.MaxUse = 1 })
		once := sync.Once{}
		h.repo.beforeUse = func(id primitive.ObjectID) {
			once.Do(func() { h.repo.forceUse(id, "main:zed") })
		}

		if got := h.activate("ABC123", "alice"); got != activation.NoResult {
			t.Fatalf("activate = %s, want noresult", got)
		}
		if users := h.repo.get(rc.ID).Users; len(users) != 1 {
			t.Errorf("users = %v, want only the concurrent winner", users)
		}
		if r := h.audit.last(); r.Reason != "max_use_reached" {
			t.Errorf("audit reason = %q, want max_use_reached", r.Reason)
		}
	})

	t.Run("deactivated before commit", func(t *testing.T) {
		h := newHarness(midYear)
		rc := h.record(nil)
		h.repo.beforeUse = func(id primitive.ObjectID) { h.repo.setActive(id, false) }

		if got := h.activate("ABC123", "alice"); got != activation.NoResult {
			t.Fatalf("activate = %s, want noresult", got)
		}
		if len(h.repo.get(rc.ID).Users) != 0 {
			t.Error("deactivated record was mutated")
		}
		if r := h.audit.last(); r.Reason != "inactive" {
			t.Errorf("audit reason = %q, want inactive", r.Reason)
		}
	})

	t.Run("briefly deactivated is retried", func(t *testing.T) {
		h := newHarness(midYear)
		rc := h.record(nil)
		once := sync.Once{}
		h.repo.beforeUse = func(id primitive.ObjectID) {
			once.Do(func() {
				h.repo.setActive(id, false)
				h.repo.afterUse = func(id primitive.ObjectID) {
					h.repo.setActive(id, true)
					h.repo.afterUse = nil
				}
			})
		}

		if got := h.activate("ABC123", "alice"); got != activation.Success {
			t.Fatalf("activate = %s, want success", got)
		}
		if users := h.repo.get(rc.ID).Users; len(users) != 1 {
			t.Errorf("users = %v", users)
		}
		if h.repo.uses != 2 {
			t.Errorf("RecordUse calls = %d, want 2", h.repo.uses)
		}
	})
}

func TestActivate_EndlessContentionIsError(t *testing.T) {
	h := newHarness(midYear)
	h.record(nil)
	// The record is inactive whenever a write lands and active again
	// whenever it is read.
	h.repo.beforeUse = func(id primitive.ObjectID) { h.repo.setActive(id, false) }
	h.repo.afterUse = func(id primitive.ObjectID) { h.repo.setActive(id, true) }
	h.engine.MaxAttempts = 3

	if got := h.activate("ABC123", "alice"); got != activation.Error {
		t.Fatalf("activate = %s, want error", got)
	}
	if h.repo.uses != 3 {
		t.Errorf("commit attempts = %d, want 3", h.repo.uses)
	}
	if len(h.prop.grants) != 0 {
		t.Error("no propagation expected")
	}
	if r := h.audit.last(); r.Reason != "commit_contention" {
		t.Errorf("audit reason = %q, want commit_contention", r.Reason)
	}
}

func TestActivate_StorageFaults(t *testing.T) {
	boom := errors.New("storage unavailable")
	tests := []struct {
		name   string
		setup  func(*memRepo)
		reason string
	}{
		{"lookup", func(r *memRepo) { r.findErr = boom }, "lookup_fault"},
		{"load", func(r *memRepo) { r.getErr = boom }, "load_fault"},
		{"commit", func(r *memRepo) { r.useErr = boom }, "commit_fault"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(midYear)
			rc := h.record(nil)
			tt.setup(h.repo)

			if got := h.activate("ABC123", "alice"); got != activation.Error {
				t.Fatalf("activate = %s, want error", got)
			}
			if len(h.repo.get(rc.ID).Users) != 0 {
				t.Error("failed activation mutated users")
			}
			if len(h.prop.grants) != 0 {
				t.Error("no propagation expected after a fault")
			}
			if r := h.audit.last(); r.Reason != tt.reason || r.Outcome != "error" {
				t.Errorf("audit entry %+v, want reason %s", r, tt.reason)
			}
		})
	}
}

func TestActivate_PropagationFaultKeepsSuccess(t *testing.T) {
	h := newHarness(midYear)
	rc := h.record(func(rc *models.RegistrationCode) {
		rc.AddToWikis = []string{"otherwiki", "missing"}
		rc.AddToGroups = []string{"Editors", "Broken"}
	})
	h.prop.report = propagation.Report{Results: []propagation.TargetResult{
		{Kind: propagation.KindWorkspace, Target: "missing", Status: propagation.StatusSkipped},
		{Kind: propagation.KindGroup, Target: "Broken", Status: propagation.StatusFailed, Err: errors.New("boom")},
	}}

	if got := h.activate("ABC123", "alice"); got != activation.Success {
		t.Fatalf("activate = %s, want success", got)
	}
	if len(h.repo.get(rc.ID).Users) != 1 {
		t.Error("use must stay committed")
	}
	g := h.prop.grants[0]
	if strings.Join(g.wikis, ",") != "otherwiki,missing" {
		t.Errorf("wikis passed = %v", g.wikis)
	}
}

func TestActivate_PropagationSurvivesCanceledRequest(t *testing.T) {
	h := newHarness(midYear)
	h.record(nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.repo.beforeUse = func(primitive.ObjectID) { cancel() }

	got := h.engine.Activate(ctx, activation.Request{Code: "ABC123", UserRef: "alice", Workspace: h.ws})
	if got != activation.Success {
		t.Fatalf("activate = %s, want success", got)
	}
	if len(h.prop.grants) != 1 {
		t.Error("propagation should still run after the request context ends")
	}
}

func TestActivate_NoTargetsSkipsPropagation(t *testing.T) {
	h := newHarness(midYear)
	h.record(func(rc *models.RegistrationCode) { rc.AddToGroups = nil })

	if got := h.activate("ABC123", "alice"); got != activation.Success {
		t.Fatalf("activate = %s, want success", got)
	}
	if len(h.prop.grants) != 0 {
		t.Error("no targets, no propagation")
	}
}

func TestActivate_InvalidUser(t *testing.T) {
	h := newHarness(midYear)
	h.record(nil)

	if got := h.activate("ABC123", "main:"); got != activation.Error {
		t.Errorf("activate = %s, want error", got)
	}
}

func TestActivate_AuditEntry(t *testing.T) {
	h := newHarness(midYear)
	rc := h.record(nil)

	h.engine.Activate(context.Background(), activation.Request{
		Code:      " ABC123 ",
		UserRef:   "alice",
		Workspace: h.ws,
		ClientIP:  "10.1.2.3",
		UserAgent: "test",
	})

	r := h.audit.last()
	if r.Outcome != "success" || r.User != "main:alice" || r.Record != rc.Reference {
		t.Errorf("unexpected audit entry: %+v", r)
	}
	if r.CodePrefix != "ABC1" {
		t.Errorf("CodePrefix = %q, want ABC1", r.CodePrefix)
	}
	if r.ClientIP != "10.1.2.3" || r.WorkspaceID != h.ws.ID {
		t.Errorf("request context missing from audit entry: %+v", r)
	}
}
