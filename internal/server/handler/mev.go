package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/mev"
)

// MEVHandler exposes bundles, attack reports and protection settings.
type MEVHandler struct {
	defense *mev.Defense
	sink    domain.AuditSink
	logger  *slog.Logger
}

// NewMEVHandler creates an MEVHandler. Accepted attack reports are
// recorded on sink.
func NewMEVHandler(d *mev.Defense, sink domain.AuditSink, logger *slog.Logger) *MEVHandler {
	return &MEVHandler{defense: d, sink: sink, logger: logger.With(slog.String("handler", "mev"))}
}

type attackRequest struct {
	Target common.Address `json:"target"`
	Type   string         `json:"type"`
}

type mevConfig struct {
	ProtectionWindow duration        `json:"protection_window"`
	BundleTTL        duration        `json:"bundle_ttl"`
	FeePriceCeiling  decimal.Decimal `json:"fee_price_ceiling"`
	MaxSlippageBps   int64           `json:"max_slippage_bps"`
	UnderAttackBps   int64           `json:"under_attack_bps"`
	Retention        duration        `json:"retention"`
}

type mevConfigView struct {
	ProtectionWindow string          `json:"protection_window"`
	BundleTTL        string          `json:"bundle_ttl"`
	FeePriceCeiling  decimal.Decimal `json:"fee_price_ceiling"`
	MaxSlippageBps   int64           `json:"max_slippage_bps"`
	UnderAttackBps   int64           `json:"under_attack_bps"`
	Retention        string          `json:"retention"`
}

func viewConfig(c mev.Config) mevConfigView {
	return mevConfigView{
		ProtectionWindow: c.ProtectionWindow.String(),
		BundleTTL:        c.BundleTTL.String(),
		FeePriceCeiling:  c.FeePriceCeiling,
		MaxSlippageBps:   c.MaxSlippageBps,
		UnderAttackBps:   c.UnderAttackBps,
		Retention:        c.Retention.String(),
	}
}

// GetBundle returns one bundle, expiring it first if its window passed.
// GET /api/bundles/{id}
func (h *MEVHandler) GetBundle(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid bundle id %q", raw))
		return
	}
	bundle, err := h.defense.Bundle(common.BytesToHash(b))
	if err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// ListBundles returns the retained bundles of an asset.
// GET /api/bundles?asset=0x..
func (h *MEVHandler) ListBundles(w http.ResponseWriter, r *http.Request) {
	a := r.URL.Query().Get("asset")
	if !common.IsHexAddress(a) {
		writeError(w, http.StatusBadRequest, "asset query parameter required")
		return
	}
	out := h.defense.Bundles(common.HexToAddress(a))
	if out == nil {
		out = []domain.Bundle{}
	}
	writeJSON(w, http.StatusOK, out)
}

// ReportAttack records an observed attack. Any signed caller may report.
// POST /api/attacks
func (h *MEVHandler) ReportAttack(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req attackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, ok := domain.ParseAttackType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown attack type %q", req.Type))
		return
	}
	m, err := h.defense.ReportAttack(r.Context(), who, req.Target, kind)
	if err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	if h.sink != nil {
		rec := domain.AuditRecord{
			Event:   "attack.reported",
			Asset:   req.Target,
			Actor:   who,
			Outcome: string(kind),
			Detail:  map[string]any{"attack_frequency_bps": m.AttackFrequencyBps},
		}
		if err := h.sink.Record(r.Context(), rec); err != nil {
			h.logger.WarnContext(r.Context(), "attack report not audited", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, m)
}

// AttackMetrics returns the attack counters of an asset.
// GET /api/attacks/{asset}
func (h *MEVHandler) AttackMetrics(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":      h.defense.Metrics(asset),
		"under_attack": h.defense.UnderAttack(asset),
	})
}

// GetConfig returns the protection settings.
// GET /api/mev/config
func (h *MEVHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewConfig(h.defense.Config()))
}

// UpdateConfig swaps the protection settings.
// PUT /api/mev/config
func (h *MEVHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req mevConfig
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := mev.Config{
		ProtectionWindow: time.Duration(req.ProtectionWindow),
		BundleTTL:        time.Duration(req.BundleTTL),
		FeePriceCeiling:  req.FeePriceCeiling,
		MaxSlippageBps:   req.MaxSlippageBps,
		UnderAttackBps:   req.UnderAttackBps,
		Retention:        time.Duration(req.Retention),
	}
	if err := h.defense.UpdateConfig(r.Context(), who, cfg); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, viewConfig(h.defense.Config()))
}
