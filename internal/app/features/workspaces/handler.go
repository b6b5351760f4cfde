// internal/app/features/workspaces/handler.go
package workspaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	groupstore "github.com/dalemusser/regcodes/internal/app/store/groups"
	membershipstore "github.com/dalemusser/regcodes/internal/app/store/memberships"
	workspacestore "github.com/dalemusser/regcodes/internal/app/store/workspaces"
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/inputval"
	"github.com/dalemusser/regcodes/internal/app/system/timeouts"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxBody = 4 << 10

// WorkspaceStore reads and extends workspaces.
type WorkspaceStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (models.Workspace, error)
	Resolve(ctx context.Context, ident string) (models.Workspace, error)
	AddAlias(ctx context.Context, id primitive.ObjectID, alias string) error
}

// GroupStore finds and creates groups of a workspace.
type GroupStore interface {
	Create(ctx context.Context, g models.Group) (models.Group, error)
	GetByName(ctx context.Context, workspaceID primitive.ObjectID, name string) (models.Group, error)
	CountByWorkspace(ctx context.Context, workspaceID primitive.ObjectID) (int64, error)
}

// MembershipStore lists and removes group members.
type MembershipStore interface {
	ListByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.GroupMembership, error)
	CountByGroup(ctx context.Context, groupID primitive.ObjectID) (int64, error)
	Remove(ctx context.Context, groupID primitive.ObjectID, member string) error
}

// AdminAuditor records administrative changes to workspaces and groups.
type AdminAuditor interface {
	AliasAdded(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, alias string)
	GroupCreated(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, group string)
	MemberRemoved(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, group, member string)
}

type Handler struct {
	Workspaces  WorkspaceStore
	Groups      GroupStore
	Memberships MembershipStore
	Audit       AdminAuditor
	Log         *zap.Logger
}

func NewHandler(workspaces WorkspaceStore, groups GroupStore, memberships MembershipStore, auditor AdminAuditor, logger *zap.Logger) *Handler {
	return &Handler{Workspaces: workspaces, Groups: groups, Memberships: memberships, Audit: auditor, Log: logger}
}

type aliasRequest struct {
	Alias string `json:"alias" validate:"required,max=255"`
}

type groupRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1024"`
}

type showResponse struct {
	Workspace models.Workspace `json:"workspace"`
	Groups    int64            `json:"groups"`
}

type memberItem struct {
	Member    string    `json:"member"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type membersResponse struct {
	Group   string       `json:"group"`
	Total   int64        `json:"total"`
	Members []memberItem `json:"members"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeShow handles GET /workspace: the current workspace and its group count.
func (h *Handler) ServeShow(w http.ResponseWriter, r *http.Request) {
	ws := workspace.FromRequest(r).Workspace

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	n, err := h.Groups.CountByWorkspace(ctx, ws.ID)
	if err != nil {
		h.Log.Error("group count failed", zap.String("workspace", ws.Subdomain), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, showResponse{Workspace: ws, Groups: n})
}

// ServeAddAlias handles POST /workspace/aliases. An alias already naming
// another workspace is refused with 409.
func (h *Handler) ServeAddAlias(w http.ResponseWriter, r *http.Request) {
	ws := workspace.FromRequest(r).Workspace

	var req aliasRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req.Alias = strings.TrimSpace(req.Alias)
	if res := inputval.Validate(req); res.HasErrors() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: res.First()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	owner, err := h.Workspaces.Resolve(ctx, req.Alias)
	switch {
	case err == nil && owner.ID != ws.ID:
		writeJSON(w, http.StatusConflict, errorResponse{Error: "alias already names another workspace"})
		return
	case err != nil && !errors.Is(err, workspacestore.ErrNotFound):
		h.Log.Error("alias lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}

	if err := h.Workspaces.AddAlias(ctx, ws.ID, req.Alias); err != nil {
		h.Log.Error("adding workspace alias failed", zap.String("workspace", ws.Subdomain), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not add the alias"})
		return
	}
	updated, err := h.Workspaces.GetByID(ctx, ws.ID)
	if err != nil {
		h.Log.Error("workspace reload failed", zap.String("workspace", ws.Subdomain), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}

	actor := actorRef(r)
	if h.Audit != nil {
		h.Audit.AliasAdded(ctx, r, ws.ID, actor, req.Alias)
	}
	h.Log.Info("workspace alias added",
		zap.String("workspace", ws.Subdomain),
		zap.String("alias", req.Alias),
		zap.String("actor", actor))

	writeJSON(w, http.StatusOK, updated)
}

// ServeCreateGroup handles POST /workspace/groups. Names are unique per
// workspace ignoring case; a clash is 409.
func (h *Handler) ServeCreateGroup(w http.ResponseWriter, r *http.Request) {
	ws := workspace.FromRequest(r).Workspace

	var req groupRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if res := inputval.Validate(req); res.HasErrors() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: res.First()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	g, err := h.Groups.Create(ctx, models.Group{
		WorkspaceID: ws.ID,
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
	})
	if errors.Is(err, groupstore.ErrDuplicateGroupName) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a group with this name already exists"})
		return
	}
	if err != nil {
		h.Log.Error("group creation failed", zap.String("group", req.Name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not create the group"})
		return
	}

	actor := actorRef(r)
	if h.Audit != nil {
		h.Audit.GroupCreated(ctx, r, ws.ID, actor, g.Name)
	}
	h.Log.Info("group created",
		zap.String("workspace", ws.Subdomain),
		zap.String("group", g.Name),
		zap.String("actor", actor))

	writeJSON(w, http.StatusCreated, g)
}

// ServeMembers handles GET /workspace/groups/{name}/members.
func (h *Handler) ServeMembers(w http.ResponseWriter, r *http.Request) {
	ws := workspace.FromRequest(r).Workspace

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	g, ok := h.loadGroup(ctx, w, ws.ID, chi.URLParam(r, "name"))
	if !ok {
		return
	}

	total, err := h.Memberships.CountByGroup(ctx, g.ID)
	if err != nil {
		h.Log.Error("member count failed", zap.String("group", g.Name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	list, err := h.Memberships.ListByGroup(ctx, g.ID)
	if err != nil {
		h.Log.Error("member list failed", zap.String("group", g.Name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}

	resp := membersResponse{Group: g.Name, Total: total, Members: make([]memberItem, 0, len(list))}
	for _, m := range list {
		resp.Members = append(resp.Members, memberItem{Member: m.Member, Role: m.Role, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeRemoveMember handles DELETE /workspace/groups/{name}/members/{member}.
// member is the exact stored reference ("alice" or "main:alice").
func (h *Handler) ServeRemoveMember(w http.ResponseWriter, r *http.Request) {
	ws := workspace.FromRequest(r).Workspace
	member := strings.TrimSpace(chi.URLParam(r, "member"))

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	g, ok := h.loadGroup(ctx, w, ws.ID, chi.URLParam(r, "name"))
	if !ok {
		return
	}

	err := h.Memberships.Remove(ctx, g.ID, member)
	if errors.Is(err, membershipstore.ErrMembershipNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not a member"})
		return
	}
	if err != nil {
		h.Log.Error("member removal failed", zap.String("group", g.Name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not remove the member"})
		return
	}

	actor := actorRef(r)
	if h.Audit != nil {
		h.Audit.MemberRemoved(ctx, r, ws.ID, actor, g.Name, member)
	}
	h.Log.Info("group member removed",
		zap.String("group", g.Name),
		zap.String("member", member),
		zap.String("actor", actor))

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadGroup(ctx context.Context, w http.ResponseWriter, wsID primitive.ObjectID, name string) (models.Group, bool) {
	g, err := h.Groups.GetByName(ctx, wsID, name)
	if errors.Is(err, groupstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "group not found"})
		return models.Group{}, false
	}
	if err != nil {
		h.Log.Error("group lookup failed", zap.String("group", name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return models.Group{}, false
	}
	return g, true
}

func actorRef(r *http.Request) string {
	if u, ok := auth.CurrentUser(r); ok {
		return u.Ref()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
