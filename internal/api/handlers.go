// Package api exposes the engine's operational controls over HTTP:
// start/stop signals and a status query. No prospect data leaves this
// surface; failures are observable via logs and the statistics counters.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/reachforge/outreach-engine/internal/engine"
)

// Handlers holds the HTTP handlers for the control surface.
type Handlers struct {
	engine *engine.FollowUpEngine
}

// NewHandlers creates the control handlers for one engine instance.
func NewHandlers(eng *engine.FollowUpEngine) *Handlers {
	return &Handlers{engine: eng}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartEngine begins follow-up scanning. Idempotent.
func (h *Handlers) StartEngine(w http.ResponseWriter, r *http.Request) {
	h.engine.Start()
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// StopEngine stops follow-up scanning, letting the current tick finish.
// Idempotent.
func (h *Handlers) StopEngine(w http.ResponseWriter, r *http.Request) {
	h.engine.Stop()
	writeJSON(w, http.StatusOK, h.engine.Status())
}

// EngineStatus returns running/stopped plus the statistics counters.
func (h *Handlers) EngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
