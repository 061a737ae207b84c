package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/flasharb/internal/audit"
	"github.com/alanyoungcy/flasharb/internal/auth"
	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/breaker"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/feed"
	"github.com/alanyoungcy/flasharb/internal/keylock"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/mev"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/risk"
	"github.com/alanyoungcy/flasharb/internal/sim"
	"github.com/alanyoungcy/flasharb/internal/store/memory"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
	sqlitestore "github.com/alanyoungcy/flasharb/internal/store/sqlite"
	"github.com/alanyoungcy/flasharb/internal/strategy"
)

// executorAccount is the simulated account that receives borrowed funds
// and trades on the simulated venues.
const executorAccount sim.Account = "executor"

// Dependencies bundles every component the run modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Operator is the engine's own identity; the zero address when no key
	// is configured.
	Operator common.Address
	Roles    *auth.RoleTable
	Verifier *crypto.Verifier

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// Market data and the simulated execution venues
	Market   *feed.Static
	Ledger   *sim.Ledger
	Venues   map[string]domain.Venue
	Facility domain.LendingFacility

	// Core components
	Registry     *strategy.Registry
	Risk         *risk.Controller
	MEV          *mev.Defense
	Guard        *breaker.Guard
	Volatility   *breaker.Volatility
	Orchestrator *orchestrator.Orchestrator
	Recorder     *audit.Recorder

	// Stores
	AuditStore    domain.AuditStore
	AttemptStore  domain.AttemptStore
	StrategyStore domain.StrategyStateStore

	// Caches. RateLimiter is nil without redis.
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Identity ---
	if cfg.Operator.Configured() {
		hexKey, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey: cfg.Operator.PrivateKey,
			KeyFilePath:   cfg.Operator.KeyFile,
			Password:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		signer, err := crypto.NewRequestSigner(hexKey, cfg.Auth.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		deps.Operator = signer.Address()
	}
	roles, err := buildRoles(cfg.Auth, deps.Operator)
	if err != nil {
		return fail(err)
	}
	deps.Roles = roles
	deps.Verifier = crypto.NewVerifier(cfg.Auth.ChainID, cfg.Auth.MaxSkew.Duration, time.Now)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(reg)
	deps.Gatherer = reg

	// --- Persistence and caches ---
	var lockManager domain.LockManager
	if cfg.UsesInfra() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,

			ApplicationName: cfg.Postgres.ApplicationName,
			ConnectTimeout:  cfg.Postgres.ConnectTimeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.AttemptStore = postgres.NewAttemptStore(pool)
		deps.StrategyStore = postgres.NewStrategyStateStore(pool)

		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		lockManager = redis.NewLockManager(redisClient)
	} else if cfg.Paper.SQLitePath != "" {
		db, err := sqlitestore.Open(cfg.Paper.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.AuditStore = sqlitestore.NewAuditStore(db)
		deps.AttemptStore = sqlitestore.NewAttemptStore(db)
		deps.StrategyStore = sqlitestore.NewStrategyStateStore(db)
		deps.SignalBus = memory.NewSignalBus(256)
	} else {
		deps.AuditStore = memory.NewAuditStore()
		deps.AttemptStore = memory.NewAttemptStore()
		deps.StrategyStore = memory.NewStrategyStateStore()
		deps.SignalBus = memory.NewSignalBus(256)
	}
	deps.Recorder = audit.NewRecorder(deps.AuditStore, logger, audit.WithBus(deps.SignalBus))

	if cfg.Archive.Enabled && cfg.UsesInfra() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			deps.AttemptStore,
			deps.Recorder,
			logger,
		)
	}

	// --- Notifications ---
	senders := []notify.Sender{notify.NewLogSender(logger)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithThrottle(cfg.Notify.Throttle.Duration))

	// --- Market and venues ---
	deps.Market = feed.NewStatic(cfg.Paper.FeePrice)
	deps.Ledger, deps.Venues = buildVenues(cfg.Paper)
	deps.Facility = sim.NewFacility(deps.Ledger, executorAccount, cfg.Paper.PremiumBps)

	// --- Components ---
	if err := buildComponents(cfg, deps, lockManager, logger); err != nil {
		return fail(err)
	}
	if err := seed(ctx, cfg, deps, logger); err != nil {
		return fail(err)
	}

	return deps, cleanup, nil
}

func buildRoles(cfg config.AuthConfig, operator common.Address) (*auth.RoleTable, error) {
	roles := auth.NewRoleTable(cfg.Admins...)
	for _, g := range cfg.Grants {
		for _, name := range g.Roles {
			r, err := auth.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("wire: grant for %s: %w", g.Address.Hex(), err)
			}
			roles.Seed(g.Address, r)
		}
	}
	if operator != (common.Address{}) {
		roles.Seed(operator, auth.RoleStrategist, auth.RoleOperator, auth.RoleExecutor)
	}
	return roles, nil
}

func buildVenues(cfg config.PaperConfig) (*sim.Ledger, map[string]domain.Venue) {
	ledger := sim.NewLedger()
	for _, b := range cfg.Facility {
		ledger.Deposit(sim.FacilityAccount, b.Asset, b.Amount)
	}
	venues := make(map[string]domain.Venue, len(cfg.Venues))
	for _, pv := range cfg.Venues {
		v := sim.NewVenue(pv.Name, ledger, executorAccount)
		for _, r := range pv.Rates {
			v.SetRate(r.AssetIn, r.AssetOut, sim.NewRate(r.Num, r.Den))
			if r.Liquidity.IsPositive() {
				ledger.Deposit(v.Account(), r.AssetOut, r.Liquidity)
			}
		}
		venues[pv.Name] = v
	}
	return ledger, venues
}

func buildComponents(cfg *config.Config, deps *Dependencies, lockManager domain.LockManager, logger *slog.Logger) error {
	var err error

	deps.Registry = strategy.NewRegistry(deps.Roles, logger, strategy.WithStore(deps.StrategyStore))

	deps.Risk, err = risk.NewController(domain.RiskParams{
		MaxExposurePerAsset:    cfg.Risk.MaxExposurePerAsset,
		MaxExposurePerStrategy: cfg.Risk.MaxExposurePerStrategy,
		MaxFeePrice:            cfg.Risk.MaxFeePrice,
		MinProfitThreshold:     cfg.Risk.MinProfitThreshold,
		MaxSlippageBps:         cfg.Risk.MaxSlippageBps,
		MinProfitBps:           cfg.Risk.MinProfitBps,
		EmergencyStopLoss:      cfg.Risk.EmergencyStopLoss,
	}, deps.Market, deps.Roles, logger, risk.WithMetrics(deps.Metrics))
	if err != nil {
		return fmt.Errorf("wire: risk: %w", err)
	}

	deps.MEV, err = mev.New(mev.Config{
		ProtectionWindow: cfg.MEV.ProtectionWindow.Duration,
		BundleTTL:        cfg.MEV.BundleTTL.Duration,
		FeePriceCeiling:  cfg.MEV.FeePriceCeiling,
		MaxSlippageBps:   cfg.MEV.MaxSlippageBps,
		UnderAttackBps:   cfg.MEV.UnderAttackBps,
		Retention:        cfg.MEV.Retention.Duration,
	}, deps.Roles, logger, mev.WithMetrics(deps.Metrics))
	if err != nil {
		return fmt.Errorf("wire: mev: %w", err)
	}

	guardOpts := []breaker.Option{breaker.WithMetrics(deps.Metrics)}
	for _, s := range cfg.Breaker.Scopes {
		guardOpts = append(guardOpts, breaker.WithScope(s.Scope, thresholds(s.BreakerThresholds)))
	}
	deps.Guard, err = breaker.NewGuard(thresholds(cfg.Breaker.BreakerThresholds), deps.Roles, logger, guardOpts...)
	if err != nil {
		return fmt.Errorf("wire: breaker: %w", err)
	}

	deps.Volatility, err = breaker.NewVolatility(breaker.VolatilityConfig{
		PriceChangeBps:       cfg.Volatility.PriceChangeBps,
		VolumeChangeBps:      cfg.Volatility.VolumeChangeBps,
		ImplausibleProfitBps: cfg.Volatility.ImplausibleProfitBps,
		Cooldown:             cfg.Volatility.Cooldown.Duration,
		MaxRecoveryAttempts:  cfg.Volatility.MaxRecoveryAttempts,
		Confirmations:        cfg.Volatility.Confirmations,
	}, deps.Roles, logger,
		breaker.WithVolatilityMetrics(deps.Metrics),
		breaker.WithAlerter(deps.Notifier),
	)
	if err != nil {
		return fmt.Errorf("wire: volatility: %w", err)
	}
	deps.Market.Subscribe(deps.Volatility)

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.Orchestrator.LockBackend == "redis" && lockManager != nil {
		locker = keylock.NewDistributed(lockManager, cfg.Orchestrator.LockTTL.Duration)
	}

	deps.Orchestrator = orchestrator.New(orchestrator.Deps{
		Registry:   deps.Registry,
		Risk:       deps.Risk,
		MEV:        deps.MEV,
		Guard:      deps.Guard,
		Volatility: deps.Volatility,
		Facility:   deps.Facility,
		Venues:     deps.Venues,
		Feed:       deps.Market,
		Authz:      deps.Roles,
	}, logger,
		orchestrator.WithLocker(locker),
		orchestrator.WithLockTimeout(cfg.Orchestrator.LockTimeout.Duration),
		orchestrator.WithMaxLegs(cfg.Orchestrator.MaxLegs),
		orchestrator.WithAuditSink(deps.Recorder),
		orchestrator.WithAttemptStore(deps.AttemptStore),
		orchestrator.WithAlerter(deps.Notifier),
		orchestrator.WithMetrics(deps.Metrics),
	)
	return nil
}

func thresholds(t config.BreakerThresholds) domain.BreakerThresholds {
	return domain.BreakerThresholds{
		MaxRequests:      t.MaxRequests,
		Window:           t.Window.Duration,
		FailureThreshold: t.FailureThreshold,
		RecoveryTime:     t.RecoveryTime.Duration,
	}
}

// newRouteBuilder builds route strategies against the wired venues and feed.
func newRouteBuilder(deps *Dependencies, logger *slog.Logger) func(strategy.RouteConfig) (strategy.Strategy, error) {
	return func(rc strategy.RouteConfig) (strategy.Strategy, error) {
		return strategy.NewRouteStrategy(rc, deps.Venues, deps.Market, logger)
	}
}

// seed applies the configured asset profiles and strategies as the
// operator. Registration picks up persisted performance counters.
func seed(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	for _, a := range cfg.Assets {
		err := deps.Risk.UpdateAssetProfile(ctx, deps.Operator, a.Address, domain.AssetRiskProfile{
			MaxExposure:     a.MaxExposure,
			VolatilityScore: a.VolatilityScore,
			Blacklisted:     a.Blacklisted,
		})
		if err != nil {
			return fmt.Errorf("wire: seed asset %s: %w", a.Address.Hex(), err)
		}
	}

	build := newRouteBuilder(deps, logger)
	for _, s := range cfg.Strategies {
		rc := s.Route
		if rc.Name == "" {
			rc.Name = s.ID
		}
		impl, err := build(rc)
		if err != nil {
			return fmt.Errorf("wire: seed strategy %s: %w", s.ID, err)
		}
		err = deps.Registry.Register(ctx, deps.Operator, s.ID, impl, domain.StrategyConfig{
			Active:         s.Active,
			MinProfit:      s.MinProfit,
			MaxSlippageBps: s.MaxSlippageBps,
			FeeBudget:      s.FeeBudget,
			CooldownPeriod: s.Cooldown.Duration,
		})
		if err != nil {
			return fmt.Errorf("wire: seed strategy %s: %w", s.ID, err)
		}
	}

	return nil
}
