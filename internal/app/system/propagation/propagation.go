// Package propagation grants the memberships a redeemed registration code
// carries: admission into other workspaces and membership in groups.
//
// Every grant is idempotent. A user who is already a member is left alone,
// so a redemption retried after a transient fault never duplicates
// membership. Targets are independent: a fault on one is recorded in the
// Report and logged, and the remaining targets are still attempted.
package propagation

import (
	"context"
	"errors"
	"strings"

	groupstore "github.com/dalemusser/regcodes/internal/app/store/groups"
	membershipstore "github.com/dalemusser/regcodes/internal/app/store/memberships"
	workspacestore "github.com/dalemusser/regcodes/internal/app/store/workspaces"
	"github.com/dalemusser/regcodes/internal/app/system/metrics"
	"github.com/dalemusser/regcodes/internal/app/system/userref"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// WorkspaceResolver maps a workspace identifier or alias to its workspace.
// Unknown identifiers return workspacestore.ErrNotFound.
type WorkspaceResolver interface {
	Resolve(ctx context.Context, ident string) (models.Workspace, error)
}

// GroupFinder looks up a group by name inside a workspace.
// Unknown groups return groupstore.ErrNotFound.
type GroupFinder interface {
	GetByName(ctx context.Context, workspaceID primitive.ObjectID, name string) (models.Group, error)
}

// Memberships records group and workspace membership. Adding an existing
// member returns the store's duplicate error.
type Memberships interface {
	Add(ctx context.Context, g models.Group, member, role string) error
	Exists(ctx context.Context, groupID primitive.ObjectID, member string) (bool, error)
	AddWorkspaceMember(ctx context.Context, workspaceID primitive.ObjectID, member string) error
	WorkspaceMemberExists(ctx context.Context, workspaceID primitive.ObjectID, member string) (bool, error)
}

// Kind is the type of a grant target.
type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindGroup     Kind = "group"
)

// Status is what happened to one target.
type Status string

const (
	StatusGranted       Status = "granted"
	StatusAlreadyMember Status = "already_member"
	StatusSkipped       Status = "skipped"
	StatusFailed        Status = "failed"
)

var (
	ErrUnknownWorkspace  = errors.New("unknown workspace")
	ErrUnknownGroup      = errors.New("unknown group")
	ErrWorkspaceDisabled = errors.New("workspace is disabled")
	ErrBlankTarget       = errors.New("blank target")
)

// TargetResult is the outcome for one workspace or group target.
type TargetResult struct {
	Kind      Kind
	Target    string // as written on the record
	Workspace string // canonical subdomain the grant applied to
	Member    string // member reference written (or found)
	Status    Status
	Err       error
}

// Report collects the per-target results of a Grant call, in the order the
// targets were attempted.
type Report struct {
	Results []TargetResult
}

// Count returns how many targets ended with status.
func (r Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the targets whose grant hit a collaborator fault.
func (r Report) Failed() []TargetResult {
	var out []TargetResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Propagator fans a redemption out to its membership targets.
type Propagator struct {
	Workspaces  WorkspaceResolver
	Groups      GroupFinder
	Memberships Memberships
	Log         *zap.Logger
}

func New(ws WorkspaceResolver, groups GroupFinder, members Memberships, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		Workspaces:  ws,
		Groups:      groups,
		Memberships: members,
		Log:         logger,
	}
}

// Grant admits userRef into every workspace of wikis and adds it to every
// group of groups.
//
// With no wikis, groups are granted in current only. Otherwise each group
// target is granted once per resolved workspace. A group target written as
// "<workspace>:<name>" always names that workspace's group. Grants that land
// on the same (workspace, group) pair are made once.
//
// A short userRef is taken to live in current.
func (p *Propagator) Grant(ctx context.Context, userRef string, current models.Workspace, wikis, groups []string) Report {
	var rep Report

	ref, err := userref.Parse(userRef)
	if err != nil {
		p.Log.Warn("cannot propagate memberships for invalid user reference",
			zap.String("user", userRef), zap.Error(err))
		rep.add(TargetResult{Kind: KindWorkspace, Target: userRef, Status: StatusFailed, Err: err})
		return rep
	}
	ref = ref.Qualify(current.Subdomain)

	cache := map[string]models.Workspace{}
	targets := []models.Workspace{current}
	if len(wikis) > 0 {
		targets = targets[:0]
		seen := map[primitive.ObjectID]bool{}
		for _, wiki := range wikis {
			ws, res, ok := p.resolve(ctx, cache, KindWorkspace, wiki)
			if !ok {
				rep.add(p.record(ref, res))
				continue
			}
			if seen[ws.ID] {
				continue
			}
			seen[ws.ID] = true
			res = p.grantWorkspace(ctx, ref, ws)
			res.Target = wiki
			rep.add(p.record(ref, res))
			targets = append(targets, ws)
		}
	}

	done := map[string]bool{}
	for _, ws := range targets {
		for _, g := range groups {
			name := strings.TrimSpace(g)
			if name == "" {
				rep.add(p.record(ref, TargetResult{Kind: KindGroup, Target: g, Workspace: ws.Subdomain, Status: StatusSkipped, Err: ErrBlankTarget}))
				continue
			}

			groupWS := ws
			if gref, err := userref.Parse(name); err == nil && gref.IsQualified() {
				resolved, res, ok := p.resolve(ctx, cache, KindGroup, gref.Workspace)
				if !ok {
					res.Target = g
					rep.add(p.record(ref, res))
					continue
				}
				groupWS = resolved
				name = gref.Name
			}

			key := groupWS.ID.Hex() + "/" + text.Fold(name)
			if done[key] {
				continue
			}
			done[key] = true

			res := p.grantGroup(ctx, ref, name, groupWS)
			res.Target = g
			rep.add(p.record(ref, res))
		}
	}
	return rep
}

// GrantGroup adds userRef to the named group of ws, unless it is already a
// member. The membership is keyed by the user reference relative to ws.
func (p *Propagator) GrantGroup(ctx context.Context, userRef, group string, ws models.Workspace) TargetResult {
	ref, err := userref.Parse(userRef)
	if err != nil {
		return TargetResult{Kind: KindGroup, Target: group, Workspace: ws.Subdomain, Status: StatusFailed, Err: err}
	}
	res := p.grantGroup(ctx, ref.Qualify(ws.Subdomain), strings.TrimSpace(group), ws)
	res.Target = group
	return p.record(ref, res)
}

// GrantWorkspace admits userRef into ws. It is a no-op when ws is the user's
// home workspace or the user was admitted before. A short userRef is taken
// to live in ws.
func (p *Propagator) GrantWorkspace(ctx context.Context, userRef string, ws models.Workspace) TargetResult {
	ref, err := userref.Parse(userRef)
	if err != nil {
		return TargetResult{Kind: KindWorkspace, Target: ws.Subdomain, Workspace: ws.Subdomain, Status: StatusFailed, Err: err}
	}
	res := p.grantWorkspace(ctx, ref.Qualify(ws.Subdomain), ws)
	res.Target = ws.Subdomain
	return p.record(ref, res)
}

func (p *Propagator) grantWorkspace(ctx context.Context, ref userref.Ref, ws models.Workspace) TargetResult {
	res := TargetResult{Kind: KindWorkspace, Workspace: ws.Subdomain, Member: ref.String()}

	if isHome(ref, ws) {
		res.Status = StatusAlreadyMember
		return res
	}
	if !ws.IsActive() {
		res.Status, res.Err = StatusSkipped, ErrWorkspaceDisabled
		return res
	}

	member := ref.String()
	exists, err := p.Memberships.WorkspaceMemberExists(ctx, ws.ID, member)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if exists {
		res.Status = StatusAlreadyMember
		return res
	}
	if err := p.Memberships.AddWorkspaceMember(ctx, ws.ID, member); err != nil {
		if errors.Is(err, membershipstore.ErrDuplicateWorkspaceMembership) {
			res.Status = StatusAlreadyMember
			return res
		}
		res.Status, res.Err = StatusFailed, err
		return res
	}
	res.Status = StatusGranted
	return res
}

func (p *Propagator) grantGroup(ctx context.Context, ref userref.Ref, name string, ws models.Workspace) TargetResult {
	member := ref.RelativeTo(ws.Subdomain)
	res := TargetResult{Kind: KindGroup, Workspace: ws.Subdomain, Member: member}

	if name == "" {
		res.Status, res.Err = StatusSkipped, ErrBlankTarget
		return res
	}

	g, err := p.Groups.GetByName(ctx, ws.ID, name)
	if err != nil {
		if errors.Is(err, groupstore.ErrNotFound) {
			res.Status, res.Err = StatusSkipped, ErrUnknownGroup
			return res
		}
		res.Status, res.Err = StatusFailed, err
		return res
	}

	exists, err := p.Memberships.Exists(ctx, g.ID, member)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if exists {
		res.Status = StatusAlreadyMember
		return res
	}
	if err := p.Memberships.Add(ctx, g, member, "member"); err != nil {
		if errors.Is(err, membershipstore.ErrDuplicateMembership) {
			res.Status = StatusAlreadyMember
			return res
		}
		res.Status, res.Err = StatusFailed, err
		return res
	}
	res.Status = StatusGranted
	return res
}

// resolve looks a workspace identifier up once per Grant call. On failure it
// returns the TargetResult describing why the target is unusable.
func (p *Propagator) resolve(ctx context.Context, cache map[string]models.Workspace, kind Kind, ident string) (models.Workspace, TargetResult, bool) {
	key := text.Fold(strings.TrimSpace(ident))
	res := TargetResult{Kind: kind, Target: ident}
	if key == "" {
		res.Status, res.Err = StatusSkipped, ErrBlankTarget
		return models.Workspace{}, res, false
	}
	if ws, ok := cache[key]; ok {
		return ws, res, true
	}

	ws, err := p.Workspaces.Resolve(ctx, ident)
	if err != nil {
		if errors.Is(err, workspacestore.ErrNotFound) {
			res.Status, res.Err = StatusSkipped, ErrUnknownWorkspace
		} else {
			res.Status, res.Err = StatusFailed, err
		}
		return models.Workspace{}, res, false
	}
	cache[key] = ws
	return ws, res, true
}

// record logs and counts a finished target.
func (p *Propagator) record(ref userref.Ref, res TargetResult) TargetResult {
	metrics.ObservePropagation(string(res.Kind), string(res.Status))

	fields := []zap.Field{
		zap.String("user", ref.String()),
		zap.String("kind", string(res.Kind)),
		zap.String("target", res.Target),
		zap.String("workspace", res.Workspace),
		zap.String("status", string(res.Status)),
	}
	switch res.Status {
	case StatusFailed:
		p.Log.Error("membership grant failed", append(fields, zap.Error(res.Err))...)
	case StatusSkipped:
		p.Log.Warn("membership target skipped", append(fields, zap.Error(res.Err))...)
	default:
		p.Log.Debug("membership target processed", fields...)
	}
	return res
}

func (r *Report) add(res TargetResult) {
	r.Results = append(r.Results, res)
}

func isHome(ref userref.Ref, ws models.Workspace) bool {
	if ref.Workspace == ws.Subdomain {
		return true
	}
	folded := text.Fold(ref.Workspace)
	for _, a := range ws.Aliases {
		if a == folded {
			return true
		}
	}
	return false
}
