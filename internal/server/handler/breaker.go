package handler

import (
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/breaker"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
)

// BreakerHandler exposes admission control, the volatility breaker and
// the global pause and emergency switches.
type BreakerHandler struct {
	guard *breaker.Guard
	vol   *breaker.Volatility
	orch  *orchestrator.Orchestrator
}

// NewBreakerHandler creates a BreakerHandler.
func NewBreakerHandler(guard *breaker.Guard, vol *breaker.Volatility, orch *orchestrator.Orchestrator) *BreakerHandler {
	return &BreakerHandler{guard: guard, vol: vol, orch: orch}
}

type thresholdsRequest struct {
	MaxRequests      int      `json:"max_requests"`
	Window           duration `json:"window"`
	FailureThreshold int      `json:"failure_threshold"`
	RecoveryTime     duration `json:"recovery_time"`
}

type emergencyRequest struct {
	On     bool   `json:"on"`
	Reason string `json:"reason"`
}

// Status returns the global flags and every admission key's counters.
// GET /api/breaker
func (h *BreakerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": h.guard.Status(),
		"keys":   h.guard.States(),
	})
}

// SetThresholds installs thresholds for a scope or exact key.
// PUT /api/breaker/thresholds/{scope}
func (h *BreakerHandler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req thresholdsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := r.PathValue("scope")
	th := domain.BreakerThresholds{
		MaxRequests:      req.MaxRequests,
		Window:           timeDuration(req.Window),
		FailureThreshold: req.FailureThreshold,
		RecoveryTime:     timeDuration(req.RecoveryTime),
	}
	if err := h.guard.SetThresholds(r.Context(), who, scope, th); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.guard.Thresholds(scope))
}

// Reset closes the breaker of one admission key.
// POST /api/breaker/reset/{key}
func (h *BreakerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	if err := h.guard.Reset(r.Context(), who, key); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.guard.State(key))
}

// Volatility returns the market breaker state of an asset.
// GET /api/breaker/volatility/{asset}
func (h *BreakerHandler) Volatility(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.vol.State(asset))
}

// ResetVolatility clears a tripped or latched market breaker.
// POST /api/breaker/volatility/{asset}/reset
func (h *BreakerHandler) ResetVolatility(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	if err := h.vol.Reset(r.Context(), who, asset); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.vol.State(asset))
}

// Pause stops new admissions.
// POST /api/system/pause
func (h *BreakerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.orch.Pause(r.Context(), who); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.guard.Status())
}

// Unpause resumes admissions.
// POST /api/system/unpause
func (h *BreakerHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.orch.Unpause(r.Context(), who); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.guard.Status())
}

// Emergency engages or clears the emergency stop.
// POST /api/system/emergency
func (h *BreakerHandler) Emergency(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req emergencyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.guard.SetEmergencyStop(r.Context(), who, req.On, req.Reason); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.guard.Status())
}
