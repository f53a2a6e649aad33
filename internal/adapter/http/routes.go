package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Sessions
		r.Post("/sessions", h.StartSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/sessions/{id}/transcript", h.GetSessionTranscript)
		r.Post("/sessions/{id}/cancel", h.CancelSession)

		// Chains
		r.Get("/chains", h.ListChains)
		r.Get("/chains/{slug}", h.GetChain)
		r.Put("/chains/{slug}", h.UpsertChain)
		r.Get("/chains/{slug}/versions", h.ListChainVersions)
		r.Post("/chains/{slug}/rollback", h.RollbackChain)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Put("/agents/{id}", h.UpsertAgent)
		r.Get("/agents/{id}/versions", h.ListAgentVersions)
		r.Post("/agents/{id}/rollback", h.RollbackAgent)

		// Artifacts
		r.Get("/artifacts", h.ListArtifacts)
		r.Get("/artifacts/{id}", h.GetArtifact)
		r.Get("/artifacts/{id}/content", h.GetArtifactContent)
		r.Get("/artifacts/{id}/view", h.ViewArtifact)
		r.Get("/artifacts/{id}/lineage", h.GetArtifactLineage)
		r.Delete("/artifacts/{id}", h.DeleteArtifact)

		// Settings
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		// Sandboxes
		r.Get("/sandboxes/{userId}", h.GetUserSandbox)
		r.Post("/sandboxes/reap", h.ReapSandboxes)
	})
}
