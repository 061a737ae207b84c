package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/flasharb/internal/breaker"
)

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	guard   *breaker.Guard
	mode    string
	started time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(guard *breaker.Guard, mode string, started time.Time) *HealthHandler {
	return &HealthHandler{guard: guard, mode: mode, started: started}
}

// HealthCheck reports liveness plus the global admission flags. A halted
// engine still answers 200; status says "halted".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.guard.Status()
	status := "ok"
	switch {
	case st.EmergencyStop:
		status = "halted"
	case st.Paused:
		status = "paused"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"emergency_stop": st.EmergencyStop,
		"stop_reason":    st.StopReason,
		"paused":         st.Paused,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
