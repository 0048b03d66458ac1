// Package http exposes the read-only operations dashboard: unit health,
// fleet metrics, handoff history and the websocket event feed.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fkorte/agentpod/internal/domain/handoff"
	"github.com/fkorte/agentpod/internal/lifecycle"
	"github.com/fkorte/agentpod/internal/monitor"
)

// HealthReader serves unit and fleet health; implemented by the monitor.
type HealthReader interface {
	GetHealth(ctx context.Context, unitID string) (lifecycle.Snapshot, error)
	GetMetrics(ctx context.Context) (monitor.FleetMetrics, error)
}

// HistoryReader serves archived handoff records; implemented by the engine.
type HistoryReader interface {
	History(ctx context.Context, unitID string) ([]handoff.Record, error)
}

// Handlers bundles the dependencies of all HTTP handlers.
type Handlers struct {
	Units   *lifecycle.Registry
	Health  HealthReader
	History HistoryReader
}

// ListUnits returns every unit's current snapshot.
func (h *Handlers) ListUnits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Units.Snapshots())
}

// GetUnitHealth returns one unit's health snapshot.
func (h *Handlers) GetUnitHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.Health.GetHealth(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "unit not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetUnitHistory returns a unit's archived handoffs.
func (h *Handlers) GetUnitHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := h.History.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "unit not found")
		return
	}
	if recs == nil {
		recs = []handoff.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetFleetMetrics returns the aggregated fleet view.
func (h *Handlers) GetFleetMetrics(w http.ResponseWriter, r *http.Request) {
	fleet, err := h.Health.GetMetrics(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fleet)
}
