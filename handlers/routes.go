// Package handlers exposes the HTTP surface: agent runs, plan inspection,
// feedback, and tenant administration.
package handlers

import (
	"github.com/rohanthewiz/rweb"

	"loom/db"
	"loom/experience"
	"loom/orchestrator"
	"loom/providers"
)

// Handlers carries the wired dependencies for every route
type Handlers struct {
	orch        *orchestrator.Orchestrator
	plans       *db.PlanStore
	recorder    *experience.Recorder
	experiences *db.ExperienceStore
	billing     *db.BillingStore
	tenants     *db.TenantStore
	permissions *db.PermissionStore
	providers   *providers.Registry
}

// New creates the handler set
func New(orch *orchestrator.Orchestrator, plans *db.PlanStore, recorder *experience.Recorder,
	experiences *db.ExperienceStore, billing *db.BillingStore, tenants *db.TenantStore,
	permissions *db.PermissionStore, registry *providers.Registry) *Handlers {
	return &Handlers{
		orch:        orch,
		plans:       plans,
		recorder:    recorder,
		experiences: experiences,
		billing:     billing,
		tenants:     tenants,
		permissions: permissions,
		providers:   registry,
	}
}

// SetupRoutes registers all routes on the server
func (h *Handlers) SetupRoutes(s *rweb.Server) {
	s.Get("/health", h.healthHandler)

	// Agent execution
	s.Post("/api/agent/run", h.runAgentHandler)

	// Plans and tasks
	s.Get("/api/plan", h.activePlanHandler)
	s.Get("/api/plan/:id/tasks", h.planTasksHandler)
	s.Post("/api/task/:id/status", h.updateTaskStatusHandler)

	// Experiences and feedback
	s.Post("/api/experience/:id/feedback", h.feedbackHandler)

	// Providers and billing
	s.Get("/api/providers", h.listProvidersHandler)
	s.Get("/api/usage", h.usageHandler)

	// Tenant administration
	s.Put("/api/policy", h.setPolicyHandler)
	s.Put("/api/tenant/mode", h.setCostModeHandler)
}

func (h *Handlers) healthHandler(c rweb.Context) error {
	return c.WriteJSON(map[string]string{"status": "ok"})
}
