package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/concierge/internal/domain/job"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/domain/quote"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/service"
)

// Assistant is the guest/staff front door.
type Assistant interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.AskResult, error)
	Decide(ctx context.Context, actionID string, confirm bool) (*service.RunResult, error)
	GetPlan(ctx context.Context, id string) (*plan.Plan, error)
	GetQuote(ctx context.Context, id string) (*quote.Quote, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
}

// PaymentEnqueuer turns payment confirmations into execution jobs.
type PaymentEnqueuer interface {
	Enqueue(ctx context.Context, req job.EnqueueRequest) (*job.EnqueueResult, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Assistant Assistant
	Payments  PaymentEnqueuer
	Checks    map[string]HealthCheck
	// Breakers reports circuit breaker state per provider; optional.
	Breakers func() map[string]string
}

// Ask handles POST /api/v1/assist
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.AskRequest](w, r)
	if !ok {
		return
	}
	req.TenantID = middleware.TenantIDFromContext(r.Context())

	res, err := h.Assistant.Ask(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type decisionRequest struct {
	Confirm *bool `json:"confirm"`
}

// DecideAction handles POST /api/v1/actions/{id}/confirm
func (h *Handlers) DecideAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if req.Confirm == nil {
		writeError(w, http.StatusBadRequest, "confirm is required")
		return
	}

	res, err := h.Assistant.Decide(r.Context(), urlParam(r, "id"), *req.Confirm)
	if err != nil {
		writeDomainError(w, r, err, "unknown or expired action")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetPlan handles GET /api/v1/plans/{id}
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := h.Assistant.GetPlan(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetQuote handles GET /api/v1/quotes/{id}
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.Assistant.GetQuote(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "quote not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.Assistant.GetJob(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// PaymentWebhook handles POST /api/v1/webhooks/payments. The body's
// tenant_id wins over the X-Tenant-ID header.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[job.EnqueueRequest](w, r)
	if !ok {
		return
	}
	if req.TenantID == "" {
		req.TenantID = middleware.TenantIDFromContext(r.Context())
	}

	res, err := h.Payments.Enqueue(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, res)
	case errors.Is(err, job.ErrBrokerSubmissionFailed) && res != nil:
		slog.Warn("payment job not submitted", "job_id", res.JobID, "event_id", req.EventID, "error", err)
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, struct {
			Error string `json:"error"`
			JobID string `json:"job_id"`
		}{"job could not be queued, retry later", res.JobID})
	default:
		writeDomainError(w, r, err, "quote not found")
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

// Health handles GET /health. Any failing check turns the response into 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	code := http.StatusOK
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			slog.Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	if h.Breakers != nil {
		resp.Breakers = h.Breakers()
	}
	writeJSON(w, code, resp)
}
