package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/strategy"
)

const operatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	assetX = common.HexToAddress("0x10")
	assetY = common.HexToAddress("0x20")
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func paperConfig() config.Config {
	cfg := config.Defaults()
	cfg.Operator.PrivateKey = operatorKey
	cfg.Paper.FeePrice = d(10)
	cfg.Paper.Facility = []config.PaperBalance{{Asset: assetX, Amount: d(1000)}}
	cfg.Paper.Venues = []config.PaperVenue{
		{Name: "a", Rates: []config.PaperRate{{AssetIn: assetX, AssetOut: assetY, Num: 105, Den: 100, Liquidity: d(1000)}}},
		{Name: "b", Rates: []config.PaperRate{{AssetIn: assetY, AssetOut: assetX, Num: 106, Den: 105, Liquidity: d(1000)}}},
	}
	entry := config.StrategyEntry{
		ID: "cross",
		Route: strategy.RouteConfig{
			Asset:     assetX,
			Amount:    d(100),
			GasPerLeg: decimal.RequireFromString("0.05"),
			Hops: []strategy.Hop{
				{Venue: "a", AssetOut: assetY},
				{Venue: "b", AssetOut: assetX},
			},
		},
		Active: true,
	}
	entry.Cooldown.Duration = time.Minute
	cfg.Strategies = []config.StrategyEntry{entry}
	cfg.Assets = []config.AssetEntry{{Address: assetX, MaxExposure: d(400)}}
	return cfg
}

func wire(t *testing.T, cfg config.Config) *Dependencies {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cleanup)
	return deps
}

func TestWirePaperSeedsAndRuns(t *testing.T) {
	deps := wire(t, paperConfig())

	if got := deps.Risk.Profile(assetX).MaxExposure; !got.Equal(d(400)) {
		t.Errorf("seeded max exposure = %s, want 400", got)
	}
	if active := deps.Registry.Active(); len(active) != 1 || active[0] != "cross" {
		t.Fatalf("active strategies = %v", active)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := orchestrator.NewRunner(deps.Orchestrator, deps.Operator, time.Second, logger)
	results := runner.Step(context.Background())
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Status != domain.AttemptSucceeded || !results[0].Profit.IsPositive() {
		t.Fatalf("result = %+v", results[0])
	}

	// cooldown keeps the runner from firing again immediately
	if again := runner.Step(context.Background()); len(again) == 1 && again[0].Status == domain.AttemptSucceeded {
		t.Error("second step succeeded inside the cooldown")
	}

	recs, err := deps.AuditStore.List(context.Background(), domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) == 0 {
		t.Error("no audit records written")
	}
}

func TestWirePaperSQLiteKeepsCounters(t *testing.T) {
	cfg := paperConfig()
	cfg.Paper.SQLitePath = filepath.Join(t.TempDir(), "paper.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	deps, cleanup, err := Wire(ctx, &cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	runner := orchestrator.NewRunner(deps.Orchestrator, deps.Operator, time.Second, logger)
	if results := runner.Step(ctx); len(results) != 1 || results[0].Status != domain.AttemptSucceeded {
		t.Fatalf("first run results = %+v", results)
	}
	cleanup()

	deps, cleanup, err = Wire(ctx, &cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	snap, err := deps.Registry.Snapshot("cross")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Performance.SuccessfulAttempts != 1 {
		t.Errorf("successful attempts after restart = %d, want 1", snap.Performance.SuccessfulAttempts)
	}
	attempts, err := deps.AttemptStore.ListRecent(ctx, domain.ListOpts{})
	if err != nil || len(attempts) != 1 {
		t.Errorf("persisted attempts = %d, %v", len(attempts), err)
	}
}

func TestWireRejectsUnknownRole(t *testing.T) {
	cfg := paperConfig()
	cfg.Auth.Grants = []config.Grant{{Address: common.HexToAddress("0xbb"), Roles: []string{"superuser"}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := Wire(context.Background(), &cfg, logger)
	if err == nil || !strings.Contains(err.Error(), "superuser") {
		t.Fatalf("err = %v", err)
	}
}

func TestWireRejectsBrokenRoute(t *testing.T) {
	cfg := paperConfig()
	cfg.Strategies[0].Route.Hops[1].Venue = "missing"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := Wire(context.Background(), &cfg, logger)
	if err == nil || !strings.Contains(err.Error(), "cross") {
		t.Fatalf("err = %v", err)
	}
}

func TestHandlersServeHealth(t *testing.T) {
	cfg := paperConfig()
	deps := wire(t, cfg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(&cfg, logger)

	srv := server.NewServer(server.Config{}, a.handlers(deps), server.Deps{
		Verifier: deps.Verifier,
		Sink:     deps.Recorder,
		Gatherer: deps.Gatherer,
	}, logger)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "paper") {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}
