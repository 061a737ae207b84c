package handler

import (
	"net/http"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/risk"
)

// RiskHandler exposes the risk controller.
type RiskHandler struct {
	risk *risk.Controller
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(c *risk.Controller) *RiskHandler {
	return &RiskHandler{risk: c}
}

// GetParams returns the global limits and the realized loss.
// GET /api/risk/params
func (h *RiskHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"params":        h.risk.Params(),
		"realized_loss": h.risk.RealizedLoss(),
	})
}

// UpdateParams swaps the global limits.
// PUT /api/risk/params
func (h *RiskHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var p domain.RiskParams
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.risk.UpdateParams(r.Context(), who, p); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.risk.Params())
}

// ListAssets returns every known asset profile keyed by address.
// GET /api/risk/assets
func (h *RiskHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hexKeys(h.risk.Profiles()))
}

// GetAsset returns one asset profile.
// GET /api/risk/assets/{asset}
func (h *RiskHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.risk.Profile(asset))
}

// UpdateAsset sets the limits of one asset. The live exposure counter in
// the body is ignored.
// PUT /api/risk/assets/{asset}
func (h *RiskHandler) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	var p domain.AssetRiskProfile
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.risk.UpdateAssetProfile(r.Context(), who, asset, p); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.risk.Profile(asset))
}

// ResetLoss clears the realized loss feeding the stop-loss.
// POST /api/risk/loss/reset
func (h *RiskHandler) ResetLoss(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.risk.ResetLoss(r.Context(), who); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"realized_loss": h.risk.RealizedLoss()})
}
