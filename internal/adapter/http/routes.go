package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/concierge/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. idem may be
// nil, in which case Idempotency-Key headers are ignored.
func MountRoutes(r chi.Router, h *Handlers, webhookSecret func() string, idem middleware.ResponseStore) {
	r.Get("/health", h.Health)

	// Payment provider webhooks (outside idempotency, HMAC verified; the
	// event id is the dedupe key)
	r.With(middleware.TenantID, middleware.PaymentSignature(webhookSecret, 0)).
		Post("/api/v1/webhooks/payments", h.PaymentWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantID)

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Group(func(r chi.Router) {
			if idem != nil {
				r.Use(middleware.Idempotency(idem))
			}
			r.Post("/assist", h.Ask)
			r.Post("/actions/{id}/confirm", h.DecideAction)
		})

		r.Get("/plans/{id}", h.GetPlan)
		r.Get("/quotes/{id}", h.GetQuote)
		r.Get("/jobs/{id}", h.GetJob)
	})
}
