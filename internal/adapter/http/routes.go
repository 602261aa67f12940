package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. Auth and
// rate limiting are applied by the caller's middleware chain; /health and
// /health/ready stay public.
func MountRoutes(r chi.Router, s *Server) {
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		// Tool catalog and invocation
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/execute", s.handleExecute)
		r.Get("/tools/{name}", s.handleGetTool)

		// Approval sub-resource
		r.Post("/requests", s.handleCreateApproval)
		r.Get("/requests", s.handleListApprovals)
		r.Get("/requests/{id}", s.handleGetApproval)
		r.Post("/requests/{id}/approve", s.handleApprove)
		r.Post("/requests/{id}/reject", s.handleReject)
		r.Post("/requests/{id}/execute", s.handleExecuteApproval)

		// Audit trail
		r.Get("/audit", s.handleListAudit)
	})
}
