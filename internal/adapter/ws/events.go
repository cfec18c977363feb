package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/concierge/internal/middleware"
)

// Event type constants for WebSocket messages.
const (
	EventPlanStatus = "plan.status"
	EventJobStatus  = "job.status"
)

// PlanStatusEvent is broadcast on every persisted plan transition.
type PlanStatusEvent struct {
	PlanID    string `json:"plan_id"`
	SessionID string `json:"session_id,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Status    string `json:"status"`
	ActionID  string `json:"action_id,omitempty"`
	QuoteID   string `json:"quote_id,omitempty"`
}

// JobStatusEvent is broadcast when an execution job finishes or fails.
type JobStatusEvent struct {
	JobID    string `json:"job_id"`
	QuoteID  string `json:"quote_id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

// BroadcastEvent marshals a typed event and sends it to the tenant carried
// by ctx.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.BroadcastToTenant(ctx, middleware.TenantIDFromContext(ctx), Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
