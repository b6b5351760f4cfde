// internal/app/features/regcodes/handler.go
package regcodes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/app/store/audit"
	regcodestore "github.com/dalemusser/regcodes/internal/app/store/regcodes"
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/inputval"
	"github.com/dalemusser/regcodes/internal/app/system/timeouts"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/dalemusser/regcodes/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

// Generator allocates codes and references.
type Generator interface {
	RandomCode(ctx context.Context, workspaceID primitive.ObjectID) (string, error)
	NextReference(ctx context.Context, workspaceID primitive.ObjectID) (string, error)
	CreateRecord(ctx context.Context, rc models.RegistrationCode) (models.RegistrationCode, error)
}

// CodeStore is the slice of the code store the handlers use.
type CodeStore interface {
	CodeExists(ctx context.Context, workspaceID primitive.ObjectID, code string) (bool, error)
	GetByReference(ctx context.Context, workspaceID primitive.ObjectID, ref string) (models.RegistrationCode, error)
	SetActive(ctx context.Context, id primitive.ObjectID, active bool) error
}

// History reads the audit trail of one record.
type History interface {
	GetByRecord(ctx context.Context, workspaceID primitive.ObjectID, record string, limit int64) ([]audit.Event, error)
}

// AdminAuditor records administrative changes to codes.
type AdminAuditor interface {
	CodeCreated(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, record string, maxUse int)
	CodeActiveChanged(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, actor, record string, active bool)
}

// Handler serves the code administration endpoints.
type Handler struct {
	Gen     Generator
	Codes   CodeStore
	Audit   AdminAuditor
	History History
	Log     *zap.Logger
}

func NewHandler(gen Generator, codes CodeStore, auditor AdminAuditor, history History, logger *zap.Logger) *Handler {
	return &Handler{Gen: gen, Codes: codes, Audit: auditor, History: history, Log: logger}
}

// createRequest is the body of POST /codes.
type createRequest struct {
	Code        string    `json:"code" validate:"max=256"`
	Active      *bool     `json:"active"`
	MaxUse      int       `json:"max_use" validate:"gte=0"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date" validate:"gtefield=StartDate"`
	AddToGroups []string  `json:"add_to_groups" validate:"dive,max=255"`
	AddToWikis  []string  `json:"add_to_wikis" validate:"dive,max=255"`
}

// updateRequest is the body of PATCH /codes/{reference}.
type updateRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// historyLimit caps the audit events returned with a record.
const historyLimit = 50

type historyItem struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	User          string            `json:"user,omitempty"`
	Actor         string            `json:"actor,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

type recordResponse struct {
	Record        models.RegistrationCode `json:"record"`
	RemainingUses int                     `json:"remaining_uses"`
	History       []historyItem           `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeExists handles GET /codes/exists?code=...
func (h *Handler) ServeExists(w http.ResponseWriter, r *http.Request) {
	wsID := workspace.IDFromRequest(r)
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	exists, err := h.Codes.CodeExists(ctx, wsID, code)
	if err != nil {
		h.Log.Error("code existence check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// ServeRandom handles GET /codes/random.
func (h *Handler) ServeRandom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	code, err := h.Gen.RandomCode(ctx, workspace.IDFromRequest(r))
	if err != nil {
		h.Log.Error("random code generation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not generate a code"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// ServeNextReference handles GET /codes/next-reference.
func (h *Handler) ServeNextReference(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	ref, err := h.Gen.NextReference(ctx, workspace.IDFromRequest(r))
	if err != nil {
		h.Log.Error("next reference failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not allocate a reference"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reference": ref})
}

// ServeCreate handles POST /codes. A blank code gets a random one; start_date
// defaults to now and active to true.
func (h *Handler) ServeCreate(w http.ResponseWriter, r *http.Request) {
	wsID := workspace.IDFromRequest(r)

	var req createRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.StartDate.IsZero() {
		req.StartDate = time.Now().UTC()
	}
	if res := inputval.Validate(req); res.HasErrors() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: res.First()})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	if code := strings.TrimSpace(req.Code); code != "" {
		exists, err := h.Codes.CodeExists(ctx, wsID, code)
		if err != nil {
			h.Log.Error("code existence check failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
			return
		}
		if exists {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "code already in use"})
			return
		}
	}

	rc, err := h.Gen.CreateRecord(ctx, models.RegistrationCode{
		WorkspaceID: wsID,
		Code:        req.Code,
		Active:      active,
		MaxUse:      req.MaxUse,
		StartDate:   req.StartDate.UTC(),
		EndDate:     req.EndDate.UTC(),
		AddToGroups: trimAll(req.AddToGroups),
		AddToWikis:  trimAll(req.AddToWikis),
	})
	if err != nil {
		h.Log.Error("registration code creation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not create the registration code"})
		return
	}

	actor := actorRef(r)
	if h.Audit != nil {
		h.Audit.CodeCreated(ctx, r, wsID, actor, rc.Reference, rc.MaxUse)
	}
	h.Log.Info("registration code created",
		zap.String("record", rc.Reference),
		zap.String("actor", actor),
		zap.Int("max_use", rc.MaxUse))

	writeJSON(w, http.StatusCreated, rc)
}

// ServeGet handles GET /codes/{reference}: the record, how many uses it has
// left and its recent audit trail.
func (h *Handler) ServeGet(w http.ResponseWriter, r *http.Request) {
	wsID := workspace.IDFromRequest(r)

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	rc, ok := h.loadRecord(ctx, w, wsID, chi.URLParam(r, "reference"))
	if !ok {
		return
	}

	resp := recordResponse{Record: rc, RemainingUses: rc.RemainingUses(), History: []historyItem{}}
	if h.History != nil {
		events, err := h.History.GetByRecord(ctx, wsID, rc.Reference, historyLimit)
		if err != nil {
			h.Log.Warn("record history unavailable", zap.String("record", rc.Reference), zap.Error(err))
		}
		for _, e := range events {
			resp.History = append(resp.History, historyItem{
				Timestamp:     e.Timestamp,
				EventType:     e.EventType,
				User:          e.User,
				Actor:         e.Actor,
				Success:       e.Success,
				FailureReason: e.FailureReason,
				Details:       e.Details,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeUpdate handles PATCH /codes/{reference} with {"active": bool}.
func (h *Handler) ServeUpdate(w http.ResponseWriter, r *http.Request) {
	wsID := workspace.IDFromRequest(r)

	var req updateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if res := inputval.Validate(req); res.HasErrors() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: res.First()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	rc, ok := h.loadRecord(ctx, w, wsID, chi.URLParam(r, "reference"))
	if !ok {
		return
	}

	if err := h.Codes.SetActive(ctx, rc.ID, *req.Active); err != nil {
		h.Log.Error("registration code update failed", zap.String("record", rc.Reference), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not update the registration code"})
		return
	}
	rc.Active = *req.Active

	actor := actorRef(r)
	if h.Audit != nil {
		h.Audit.CodeActiveChanged(ctx, r, wsID, actor, rc.Reference, rc.Active)
	}
	h.Log.Info("registration code updated",
		zap.String("record", rc.Reference),
		zap.String("actor", actor),
		zap.Bool("active", rc.Active))

	writeJSON(w, http.StatusOK, rc)
}

// loadRecord fetches the record named by ref, writing 404 or 500 itself.
func (h *Handler) loadRecord(ctx context.Context, w http.ResponseWriter, wsID primitive.ObjectID, ref string) (models.RegistrationCode, bool) {
	rc, err := h.Codes.GetByReference(ctx, wsID, ref)
	if errors.Is(err, regcodestore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "registration code not found"})
		return models.RegistrationCode{}, false
	}
	if err != nil {
		h.Log.Error("registration code lookup failed", zap.String("record", ref), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
		return models.RegistrationCode{}, false
	}
	return rc, true
}

func actorRef(r *http.Request) string {
	if u, ok := auth.CurrentUser(r); ok {
		return u.Ref()
	}
	return ""
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
