// Package server is the administrative HTTP surface of the engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/middleware"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards read-only endpoints. Empty disables the check.
	APIKey     string
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Attempts   *handler.AttemptHandler
	Strategies *handler.StrategyHandler
	Risk       *handler.RiskHandler
	Breaker    *handler.BreakerHandler
	MEV        *handler.MEVHandler
	Audit      *handler.AuditHandler
	Roles      *handler.RoleHandler
}

// Deps are the non-handler collaborators of the server.
type Deps struct {
	Verifier *crypto.Verifier
	// Limiter is optional; without it requests are not rate limited.
	Limiter  domain.RateLimiter
	Sink     domain.AuditSink
	Gatherer prometheus.Gatherer
	Hub      *ws.Hub
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := Routes(h, deps)

	var next http.Handler = mux
	if deps.Sink != nil {
		next = middleware.AuditAdmin(deps.Sink, logger, "/api/attempts", "/api/attacks")(next)
	}
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		next = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(next)
	}
	next = middleware.Signed(deps.Verifier)(next)
	next = middleware.APIKey(cfg.APIKey, "/api/health")(next)
	next = middleware.Logging(logger)(next)
	next = middleware.CORS(cfg.CORSOrigins)(next)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      next,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes returns the bare route table.
func Routes(h Handlers, deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /api/attempts", h.Attempts.Execute)
	mux.HandleFunc("GET /api/attempts", h.Attempts.List)
	mux.HandleFunc("GET /api/attempts/{id}", h.Attempts.Get)

	mux.HandleFunc("GET /api/strategies", h.Strategies.List)
	mux.HandleFunc("POST /api/strategies", h.Strategies.Register)
	mux.HandleFunc("GET /api/strategies/{id}", h.Strategies.Get)
	mux.HandleFunc("PUT /api/strategies/{id}", h.Strategies.Update)
	mux.HandleFunc("DELETE /api/strategies/{id}", h.Strategies.Deregister)

	mux.HandleFunc("GET /api/risk/params", h.Risk.GetParams)
	mux.HandleFunc("PUT /api/risk/params", h.Risk.UpdateParams)
	mux.HandleFunc("GET /api/risk/assets", h.Risk.ListAssets)
	mux.HandleFunc("GET /api/risk/assets/{asset}", h.Risk.GetAsset)
	mux.HandleFunc("PUT /api/risk/assets/{asset}", h.Risk.UpdateAsset)
	mux.HandleFunc("POST /api/risk/loss/reset", h.Risk.ResetLoss)

	mux.HandleFunc("GET /api/breaker", h.Breaker.Status)
	mux.HandleFunc("PUT /api/breaker/thresholds/{scope}", h.Breaker.SetThresholds)
	mux.HandleFunc("POST /api/breaker/reset/{key}", h.Breaker.Reset)
	mux.HandleFunc("GET /api/breaker/volatility/{asset}", h.Breaker.Volatility)
	mux.HandleFunc("POST /api/breaker/volatility/{asset}/reset", h.Breaker.ResetVolatility)
	mux.HandleFunc("POST /api/system/pause", h.Breaker.Pause)
	mux.HandleFunc("POST /api/system/unpause", h.Breaker.Unpause)
	mux.HandleFunc("POST /api/system/emergency", h.Breaker.Emergency)

	mux.HandleFunc("GET /api/bundles", h.MEV.ListBundles)
	mux.HandleFunc("GET /api/bundles/{id}", h.MEV.GetBundle)
	mux.HandleFunc("POST /api/attacks", h.MEV.ReportAttack)
	mux.HandleFunc("GET /api/attacks/{asset}", h.MEV.AttackMetrics)
	mux.HandleFunc("GET /api/mev/config", h.MEV.GetConfig)
	mux.HandleFunc("PUT /api/mev/config", h.MEV.UpdateConfig)

	mux.HandleFunc("GET /api/audit", h.Audit.List)

	mux.HandleFunc("GET /api/roles/{address}", h.Roles.Get)
	mux.HandleFunc("POST /api/roles/{address}", h.Roles.Grant)
	mux.HandleFunc("DELETE /api/roles/{address}", h.Roles.Revoke)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	return mux
}

// Handler exposes the full middleware chain, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
