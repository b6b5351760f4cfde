// internal/app/features/activation/handler.go
package activation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	act "github.com/dalemusser/regcodes/internal/app/system/activation"
	"github.com/dalemusser/regcodes/internal/app/system/auth"
	"github.com/dalemusser/regcodes/internal/app/system/metrics"
	"github.com/dalemusser/regcodes/internal/app/system/ratelimit"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// maxBody caps the request body; a code is a short string.
const maxBody = 4 << 10

// Activator redeems a code.
type Activator interface {
	Activate(ctx context.Context, req act.Request) act.Outcome
}

// ThrottleAuditor records throttled attempts.
type ThrottleAuditor interface {
	RedemptionThrottled(ctx context.Context, r *http.Request, workspaceID primitive.ObjectID, user string)
}

// Handler serves the activation endpoint.
type Handler struct {
	Engine  Activator
	Limiter *ratelimit.ActivationLimiter // nil disables throttling
	Audit   ThrottleAuditor
	Log     *zap.Logger
}

// NewHandler creates a new activation handler.
func NewHandler(engine Activator, limiter *ratelimit.ActivationLimiter, audit ThrottleAuditor, logger *zap.Logger) *Handler {
	return &Handler{
		Engine:  engine,
		Limiter: limiter,
		Audit:   audit,
		Log:     logger,
	}
}

type activateRequest struct {
	Code string `json:"code"`
}

type activateResponse struct {
	Result string `json:"result"`
}

// ServeActivate handles POST /activate.
//
// The code comes from the JSON body {"code":"..."} or the form field "code".
// Every engine outcome is a 200:
//
//	{ "result":"success" | "noresult" | "multipleresults" | "error" }
//
// 429 with {"result":"error"} when the caller is throttled.
func (h *Handler) ServeActivate(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws := workspace.FromRequest(r)
	if ws == nil {
		http.Error(w, "workspace required", http.StatusBadRequest)
		return
	}

	code, err := readCode(w, r)
	if err != nil {
		h.Log.Debug("activation request body rejected", zap.Error(err))
		writeResult(w, http.StatusBadRequest, act.Error)
		return
	}

	if !h.Limiter.Check(r.Context(), r, user.Ref()) {
		metrics.IncRateLimited()
		if h.Audit != nil {
			h.Audit.RedemptionThrottled(r.Context(), r, ws.Workspace.ID, user.Ref())
		}
		writeResult(w, http.StatusTooManyRequests, act.Error)
		return
	}

	outcome := h.Engine.Activate(r.Context(), act.Request{
		Code:      code,
		UserRef:   user.Ref(),
		Workspace: ws.Workspace,
		ClientIP:  ratelimit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	writeResult(w, http.StatusOK, outcome)
}

// readCode extracts the code from a JSON or form body. The code is passed to
// the engine untrimmed.
func readCode(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		var req activateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			return "", err
		}
		return req.Code, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostFormValue("code"), nil
}

func writeResult(w http.ResponseWriter, status int, o act.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(activateResponse{Result: o.String()})
}
