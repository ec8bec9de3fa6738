/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the warehouse frontend

ROUTE GROUPS:
  /health                 Liveness
  /api/reconciliation/*   Admin operations (all warehouses)
  /api/*                  Warehouse-scoped, requires X-Warehouse-ID

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultCORSOrigins is used when NewRouter is given no origins.
var DefaultCORSOrigins = []string{"http://localhost:3000"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", WarehouseHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/reconciliation/run", h.RunReconciliation)

		r.Group(func(r chi.Router) {
			r.Use(RequireWarehouse)

			// Farmer routes
			r.Route("/farmers", func(r chi.Router) {
				r.Get("/", h.ListFarmers)
				r.Post("/", h.CreateFarmer)
				r.Get("/{id}", h.GetFarmer)
				r.Post("/{id}/deactivate", h.DeactivateFarmer)
			})

			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/", h.CreateTransaction)
				r.Get("/{id}", h.GetTransaction)
				r.Post("/{id}/start-recording", h.StartRecording)
				r.Post("/{id}/complete-recording", h.CompleteRecording)
				r.Get("/{id}/summary", h.GetTransactionSummary)

				r.Get("/{id}/harvest", h.GetHarvest)
				r.Post("/{id}/harvest", h.RecordObservation)
				r.Post("/{id}/harvest/batch", h.RecordObservations)

				r.Get("/{id}/payments", h.GetPaymentSummary)
				r.Post("/{id}/payments", h.SubmitPayment)
			})

			// Payment routes
			r.Route("/payments", func(r chi.Router) {
				r.Get("/{id}", h.GetPayment)
				r.Post("/{id}/approve", h.ApprovePayment)
				r.Post("/{id}/reject", h.RejectPayment)
			})

			r.Get("/dashboard/warehouse-summary", h.GetWarehouseSummary)

			// Demo scenarios
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		})
	})

	return r
}
