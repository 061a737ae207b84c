package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/archive"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
)

// PaperMode runs the engine against the simulated venues with in-memory
// stores: feeds, the proposal runner, and the admin server when enabled.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode", slog.String("operator", deps.Operator.Hex()))

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps)
	a.startRunner(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// ServeMode exposes the admin surface only. Attempts arrive through
// POST /api/attempts; nothing proposes on its own.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: feeds, the runner, the admin server, and the
// archive schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("operator", deps.Operator.Hex()))

	g, ctx := errgroup.WithContext(ctx)
	a.startFeeds(ctx, g, deps)
	a.startRunner(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if err := a.startArchive(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	return g.Wait()
}

// startFeeds attaches the configured market sources to deps.Market.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Feed.WSURL != "" {
		client := feed.NewWSClient(a.cfg.Feed.WSURL, a.cfg.Feed.Assets, deps.Market, a.base)
		g.Go(func() error {
			err := client.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed websocket: %w", err)
		})
	}
	if a.cfg.Feed.Bus {
		bf := feed.NewBusFeeder(deps.SignalBus, domain.ChannelTicks, deps.Market, a.base)
		g.Go(func() error {
			err := bf.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed bus: %w", err)
		})
	}
}

func (a *App) startRunner(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Orchestrator.RunnerInterval.Duration
	if interval <= 0 {
		a.logger.InfoContext(ctx, "runner disabled (orchestrator.runner_interval is zero)")
		return
	}
	runner := orchestrator.NewRunner(deps.Orchestrator, deps.Operator, interval, a.base)
	g.Go(func() error {
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("runner: %w", err)
		}
		return nil
	})
}

func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if !a.cfg.Archive.Enabled {
		return nil
	}
	if deps.Archiver == nil {
		return fmt.Errorf("archive enabled but no archiver is wired")
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	sched := archive.NewScheduler(deps.Archiver, retention, a.base)
	if _, err := archive.ParseCron(a.cfg.Archive.Cron); err != nil {
		return err
	}
	g.Go(func() error {
		return sched.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return nil
}

// handlers builds every REST handler over deps.
func (a *App) handlers(deps *Dependencies) server.Handlers {
	return server.Handlers{
		Health:     handler.NewHealthHandler(deps.Guard, a.cfg.Mode, a.started),
		Attempts:   handler.NewAttemptHandler(deps.Orchestrator, deps.AttemptStore, a.base),
		Strategies: handler.NewStrategyHandler(deps.Registry, newRouteBuilder(deps, a.base), a.base),
		Risk:       handler.NewRiskHandler(deps.Risk),
		Breaker:    handler.NewBreakerHandler(deps.Guard, deps.Volatility, deps.Orchestrator),
		MEV:        handler.NewMEVHandler(deps.MEV, deps.Recorder, a.base),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.base),
		Roles:      handler.NewRoleHandler(deps.Roles),
	}
}

// startHTTPServer adds the admin server and its websocket hub to g. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	status := func() any {
		s := deps.Guard.Status()
		return map[string]any{
			"mode":           a.cfg.Mode,
			"operator":       deps.Operator.Hex(),
			"started_at":     a.started,
			"paused":         s.Paused,
			"emergency_stop": s.EmergencyStop,
			"strategies":     deps.Registry.Active(),
		}
	}
	hub := ws.NewHub(deps.SignalBus, status, a.cfg.Server.CORSOrigins, a.base)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Auth.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, a.handlers(deps), server.Deps{
		Verifier: deps.Verifier,
		Limiter:  deps.RateLimiter,
		Sink:     deps.Recorder,
		Gatherer: deps.Gatherer,
		Hub:      hub,
	}, a.base)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
