package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/strategy"
)

// StrategyBuilder turns a route description into a strategy bound to the
// engine's venues and feed.
type StrategyBuilder func(cfg strategy.RouteConfig) (strategy.Strategy, error)

// StrategyHandler manages the strategy registry.
type StrategyHandler struct {
	registry *strategy.Registry
	build    StrategyBuilder
	logger   *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(registry *strategy.Registry, build StrategyBuilder, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{registry: registry, build: build, logger: logger.With(slog.String("handler", "strategies"))}
}

type strategyConfigRequest struct {
	Active         bool            `json:"active"`
	MinProfit      decimal.Decimal `json:"min_profit"`
	MaxSlippageBps int64           `json:"max_slippage_bps"`
	FeeBudget      decimal.Decimal `json:"fee_budget"`
	CooldownPeriod duration        `json:"cooldown_period"`
}

func (c strategyConfigRequest) toDomain() domain.StrategyConfig {
	return domain.StrategyConfig{
		Active:         c.Active,
		MinProfit:      c.MinProfit,
		MaxSlippageBps: c.MaxSlippageBps,
		FeeBudget:      c.FeeBudget,
		CooldownPeriod: timeDuration(c.CooldownPeriod),
	}
}

type registerRequest struct {
	ID     string                `json:"id"`
	Route  strategy.RouteConfig  `json:"route"`
	Config strategyConfigRequest `json:"config"`
}

// List returns every registered strategy.
// GET /api/strategies
func (h *StrategyHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// Get returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Snapshot(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Register builds and registers a route strategy.
// POST /api/strategies
func (h *StrategyHandler) Register(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Route.Name == "" {
		req.Route.Name = req.ID
	}
	impl, err := h.build(req.Route)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.registry.Register(r.Context(), who, req.ID, impl, req.Config.toDomain()); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	snap, _ := h.registry.Snapshot(req.ID)
	writeJSON(w, http.StatusCreated, snap)
}

// Update replaces the configuration of a strategy.
// PUT /api/strategies/{id}
func (h *StrategyHandler) Update(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req strategyConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := h.registry.UpdateConfig(r.Context(), who, id, req.toDomain()); err != nil {
		writeDomainError(w, err, http.StatusBadRequest)
		return
	}
	snap, _ := h.registry.Snapshot(id)
	writeJSON(w, http.StatusOK, snap)
}

// Deregister removes a strategy.
// DELETE /api/strategies/{id}
func (h *StrategyHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	if err := h.registry.Deregister(r.Context(), who, r.PathValue("id")); err != nil {
		writeDomainError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
