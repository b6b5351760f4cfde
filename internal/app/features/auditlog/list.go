// internal/app/features/auditlog/list.go
package auditlog

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/regcodes/internal/app/store/audit"
	"github.com/dalemusser/regcodes/internal/app/system/paging"
	"github.com/dalemusser/regcodes/internal/app/system/timeouts"
	"github.com/dalemusser/regcodes/internal/app/system/workspace"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

const (
	defaultFailedWindow = 24 * time.Hour
	maxFailedWindow     = 30 * 24 * time.Hour
	failedLimit         = 200
)

// ServeList handles GET /audit. Events are scoped to the request's workspace
// and filtered by category, event_type, user, record, start_date and
// end_date (YYYY-MM-DD, end date inclusive). Paged with page/per_page.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "audit log list")
	defer cancel()

	wsID := workspace.IDFromRequest(r)
	page := paging.Parse(r)

	filter := audit.QueryFilter{
		WorkspaceID: &wsID,
		Category:    strings.TrimSpace(query.Get(r, "category")),
		EventType:   strings.TrimSpace(query.Get(r, "event_type")),
		User:        strings.TrimSpace(query.Get(r, "user")),
		Record:      strings.TrimSpace(query.Get(r, "record")),
		Limit:       page.Limit(),
		Offset:      page.Offset(),
	}
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(query.Get(r, "start_date"))); err == nil {
		filter.StartTime = &t
	}
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(query.Get(r, "end_date"))); err == nil {
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &endOfDay
	}

	events, err := h.Events.Query(ctx, filter)
	if err != nil {
		h.Log.Error("failed to query audit events", zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}
	total, err := h.Events.CountByFilter(ctx, filter)
	if err != nil {
		h.Log.Error("failed to count audit events", zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, listResponse{
		Items:      toItems(events),
		Page:       page.Number,
		TotalPages: page.TotalPages(total),
		Total:      total,
	})
}

// ServeFailed handles GET /audit/failed?within=24h: recent rejected and
// failed redemptions in this workspace, newest first.
func (h *Handler) ServeFailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "failed redemptions")
	defer cancel()

	within := defaultFailedWindow
	if d, err := time.ParseDuration(query.Get(r, "within")); err == nil && d > 0 {
		within = min(d, maxFailedWindow)
	}
	since := time.Now().UTC().Add(-within)

	wsID := workspace.IDFromRequest(r)
	events, err := h.Events.GetFailedRedemptions(ctx, &wsID, since, failedLimit)
	if err != nil {
		h.Log.Error("failed to query failed redemptions", zap.Error(err))
		http.Error(w, "database error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, failedResponse{Since: since, Items: toItems(events)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
