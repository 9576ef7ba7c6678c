package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		// Agents
		r.Post("/agents", h.CreateAgent)
		r.Get("/agents", h.ListAgents)
		r.Get("/agents/{id}", h.GetAgent)
		r.Delete("/agents/{id}", h.DeleteAgent)
		r.Post("/agents/{id}/start", h.StartAgent)
		r.Post("/agents/{id}/stop", h.StopAgent)
		r.Post("/agents/{id}/messages", h.SendMessage)
		r.Get("/agents/{id}/history", h.GetHistory)
		r.Post("/agents/{id}/recover", h.RecoverAgent)

		// Kind catalog and one-shot queries
		r.Get("/agent-types", h.ListAgentTypes)
		r.Post("/query", h.QuickQuery)

		// Fleet introspection
		r.Get("/autoscaler", h.AutoscalerStats)
		r.Get("/mcp/servers", h.ListMCPServers)
	})
}
