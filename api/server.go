/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/persons/*        Persons and their master data
  /api/projects/*       Project registry
  /api/liquidations/*   Travel declarations
  /api/jobs, /api/runs  Batch jobs and execution log

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Persons and per-person master data
		r.Route("/persons", func(r chi.Router) {
			r.Get("/", h.ListPersons)
			r.Post("/", h.UpsertPerson)
			r.Post("/{id}/dedications", h.UpsertDedication)
			r.Post("/{id}/affiliations", h.UpsertAffiliation)
			r.Post("/{id}/leaves", h.RecordLeave)
			r.Post("/{id}/timesheet", h.RecordTimesheet)
			r.Get("/{id}/ceiling", h.GetCeiling)
			r.Get("/{id}/shares", h.GetShares)
			r.Get("/{id}/rates", h.GetRates)
			r.Get("/{id}/pending-months", h.GetPendingMonths)
		})

		// Calendar and category reference data
		r.Post("/affiliation-hours", h.UpsertAffiliationHours)
		r.Post("/holidays", h.CreateHoliday)

		// Project registry and locks
		r.Post("/projects", h.UpsertProject)
		r.Post("/locks", h.SetLock)

		// Travel declarations
		r.Route("/liquidations", func(r chi.Router) {
			r.Post("/", h.SubmitLiquidation)
			r.Get("/{id}", h.GetLiquidation)
			r.Get("/{id}/allocations", h.GetLiquidationAllocations)
			r.Post("/{id}/cancel", h.CancelLiquidation)
		})

		// Batch jobs and execution log
		r.Post("/jobs", h.TriggerJob)
		r.Get("/runs", h.ListRuns)
		r.Get("/pending", h.GetPending)
	})

	return r
}
