// internal/app/features/auditlog/types.go
package auditlog

import (
	"time"

	"github.com/dalemusser/regcodes/internal/app/store/audit"
)

// listItem is one audit event as returned to clients.
type listItem struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Category      string            `json:"category"`
	EventType     string            `json:"event_type"`
	User          string            `json:"user,omitempty"`
	Actor         string            `json:"actor,omitempty"`
	Record        string            `json:"record,omitempty"`
	IP            string            `json:"ip,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

type listResponse struct {
	Items      []listItem `json:"items"`
	Page       int        `json:"page"`
	TotalPages int        `json:"total_pages"`
	Total      int64      `json:"total"`
}

type failedResponse struct {
	Since time.Time  `json:"since"`
	Items []listItem `json:"items"`
}

func toItems(events []audit.Event) []listItem {
	items := make([]listItem, 0, len(events))
	for _, e := range events {
		items = append(items, listItem{
			ID:            e.ID.Hex(),
			Timestamp:     e.Timestamp,
			Category:      e.Category,
			EventType:     e.EventType,
			User:          e.User,
			Actor:         e.Actor,
			Record:        e.Record,
			IP:            e.IP,
			Success:       e.Success,
			FailureReason: e.FailureReason,
			Details:       e.Details,
		})
	}
	return items
}
