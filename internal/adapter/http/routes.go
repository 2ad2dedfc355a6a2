package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/toolgate/internal/middleware"
)

// RouteConfig carries the secrets guarding operator and webhook routes.
type RouteConfig struct {
	AdminKey      middleware.Secret
	WebhookSecret middleware.Secret
	// Idempotency wraps mutating API routes; nil disables replay.
	Idempotency func(http.Handler) http.Handler
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, cfg RouteConfig) {
	r.Get("/health", h.Health)

	// Signed ingestion (outside caller identity, verified by HMAC)
	r.With(middleware.WebhookHMAC(cfg.WebhookSecret, middleware.HeaderSignature)).
		Post("/api/v1/hooks/events", h.IngestSignedEvent)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Idempotency != nil {
			r.Use(cfg.Idempotency)
		}

		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Events
		r.Post("/events", h.EnqueueEvent)
		r.Get("/events/{id}", h.GetEvent)
		r.Get("/events/{id}/tasks", h.ListEventTasks)

		// Tasks
		r.Get("/tasks/{id}", h.GetTask)

		// Tools
		r.Get("/tools", h.ListTools)
		r.Get("/tools/{name}", h.GetTool)
		r.Post("/tools/{name}/execute", h.ExecuteTool)

		// Credits (caller's own pool)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Get("/credits", h.GetMyCredits)
			r.Get("/credits/transactions", h.ListMyTransactions)
		})

		// Operator routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(cfg.AdminKey))

			r.Post("/tools", h.RegisterTool)
			r.Delete("/tools/{name}", h.UnregisterTool)

			r.Get("/credits/{userID}", h.GetCredits)
			r.Post("/credits/{userID}", h.OpenPool)
			r.Patch("/credits/{userID}", h.UpdatePool)
			r.Get("/credits/{userID}/transactions", h.ListTransactions)
			r.Post("/credits/{userID}/add", h.AddCredits)
			r.Post("/credits/{userID}/refund", h.RefundCredits)
		})
	})
}
