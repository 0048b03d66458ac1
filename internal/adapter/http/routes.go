package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the dashboard API on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/units", h.ListUnits)
		r.Get("/units/{id}/health", h.GetUnitHealth)
		r.Get("/units/{id}/history", h.GetUnitHistory)
		r.Get("/fleet/metrics", h.GetFleetMetrics)
	})
}
