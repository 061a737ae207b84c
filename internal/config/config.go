// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/strategy"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLASHARB_* environment variables.
type Config struct {
	Mode          string `toml:"mode"`
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`

	Risk         RiskConfig         `toml:"risk"`
	MEV          MEVConfig          `toml:"mev"`
	Breaker      BreakerConfig      `toml:"breaker"`
	Volatility   VolatilityConfig   `toml:"volatility"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Strategies   []StrategyEntry    `toml:"strategies"`
	Assets       []AssetEntry       `toml:"assets"`
	Auth         AuthConfig         `toml:"auth"`
	Operator     OperatorConfig     `toml:"operator"`
	Redis        RedisConfig        `toml:"redis"`
	Postgres     PostgresConfig     `toml:"postgres"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Archive      ArchiveConfig      `toml:"archive"`
	Paper        PaperConfig        `toml:"paper"`
	Notify       NotifyConfig       `toml:"notify"`
	Feed         FeedConfig         `toml:"feed"`
}

// RiskConfig seeds the global risk limits.
type RiskConfig struct {
	MaxExposurePerAsset    decimal.Decimal `toml:"max_exposure_per_asset"`
	MaxExposurePerStrategy decimal.Decimal `toml:"max_exposure_per_strategy"`
	MaxFeePrice            decimal.Decimal `toml:"max_fee_price"`
	MinProfitThreshold     decimal.Decimal `toml:"min_profit_threshold"`
	MaxSlippageBps         int64           `toml:"max_slippage_bps"`
	MinProfitBps           int64           `toml:"min_profit_bps"`
	EmergencyStopLoss      decimal.Decimal `toml:"emergency_stop_loss"`
}

// MEVConfig tunes bundle protection.
type MEVConfig struct {
	ProtectionWindow duration        `toml:"protection_window"`
	BundleTTL        duration        `toml:"bundle_ttl"`
	FeePriceCeiling  decimal.Decimal `toml:"fee_price_ceiling"`
	MaxSlippageBps   int64           `toml:"max_slippage_bps"`
	UnderAttackBps   int64           `toml:"under_attack_bps"`
	Retention        duration        `toml:"retention"`
}

// BreakerThresholds is one admission scope's limits.
type BreakerThresholds struct {
	MaxRequests      int      `toml:"max_requests"`
	Window           duration `toml:"window"`
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTime     duration `toml:"recovery_time"`
}

// BreakerScope overrides the defaults for one scope, e.g. "strategy:cross"
// or "asset:0x...".
type BreakerScope struct {
	Scope string `toml:"scope"`
	BreakerThresholds
}

// BreakerConfig holds the default thresholds and per-scope overrides.
type BreakerConfig struct {
	BreakerThresholds
	Scopes []BreakerScope `toml:"scopes"`
}

// VolatilityConfig tunes the per-asset market breaker.
type VolatilityConfig struct {
	PriceChangeBps       int64    `toml:"price_change_bps"`
	VolumeChangeBps      int64    `toml:"volume_change_bps"`
	ImplausibleProfitBps int64    `toml:"implausible_profit_bps"`
	Cooldown             duration `toml:"cooldown"`
	MaxRecoveryAttempts  int      `toml:"max_recovery_attempts"`
	Confirmations        int      `toml:"confirmations"`
}

// OrchestratorConfig holds attempt pipeline settings.
type OrchestratorConfig struct {
	MaxLegs     int      `toml:"max_legs"`
	LockBackend string   `toml:"lock_backend"`
	LockTTL     duration `toml:"lock_ttl"`
	LockTimeout duration `toml:"lock_timeout"`
	// RunnerInterval paces the propose-then-attempt loop. Zero disables it.
	RunnerInterval duration `toml:"runner_interval"`
}

// StrategyEntry registers one route strategy at startup.
type StrategyEntry struct {
	ID             string               `toml:"id"`
	Route          strategy.RouteConfig `toml:"route"`
	Active         bool                 `toml:"active"`
	MinProfit      decimal.Decimal      `toml:"min_profit"`
	MaxSlippageBps int64                `toml:"max_slippage_bps"`
	FeeBudget      decimal.Decimal      `toml:"fee_budget"`
	Cooldown       duration             `toml:"cooldown"`
}

// AssetEntry seeds one asset's risk profile.
type AssetEntry struct {
	Address         common.Address  `toml:"address"`
	MaxExposure     decimal.Decimal `toml:"max_exposure"`
	VolatilityScore int64           `toml:"volatility_score"`
	Blacklisted     bool            `toml:"blacklisted"`
}

// Grant seeds roles for one address.
type Grant struct {
	Address common.Address `toml:"address"`
	Roles   []string       `toml:"roles"`
}

// AuthConfig holds the role table seed and request verification settings.
type AuthConfig struct {
	Admins  []common.Address `toml:"admins"`
	Grants  []Grant          `toml:"grants"`
	ChainID int64            `toml:"chain_id"`
	MaxSkew duration         `toml:"max_skew"`
	// APIKey guards read-only endpoints. Empty leaves reads open.
	APIKey string `toml:"api_key"`
}

// OperatorConfig locates the engine's own signing key. Either PrivateKey or
// KeyFile plus KeyPassword.
type OperatorConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// Configured reports whether any key source is set.
func (o OperatorConfig) Configured() bool {
	return o.PrivateKey != "" || o.KeyFile != ""
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`

	ApplicationName string   `toml:"application_name"`
	ConnectTimeout  duration `toml:"connect_timeout"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per caller per RateWindow. Zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// ArchiveConfig schedules the cold storage job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// PaperRate is one simulated quote direction on a venue.
type PaperRate struct {
	AssetIn  common.Address `toml:"asset_in"`
	AssetOut common.Address `toml:"asset_out"`
	Num      int64          `toml:"num"`
	Den      int64          `toml:"den"`
	// Liquidity is deposited into the venue in AssetOut.
	Liquidity decimal.Decimal `toml:"liquidity"`
}

// PaperVenue describes one simulated venue.
type PaperVenue struct {
	Name  string      `toml:"name"`
	Rates []PaperRate `toml:"rates"`
}

// PaperBalance funds the simulated lending facility.
type PaperBalance struct {
	Asset  common.Address  `toml:"asset"`
	Amount decimal.Decimal `toml:"amount"`
}

// PaperConfig describes the simulated venues and lending facility.
type PaperConfig struct {
	PremiumBps int64           `toml:"premium_bps"`
	FeePrice   decimal.Decimal `toml:"fee_price"`
	Facility   []PaperBalance  `toml:"facility"`
	Venues     []PaperVenue    `toml:"venues"`
	// SQLitePath keeps paper-mode stores in a local SQLite file instead of
	// memory. Ignored when postgres is in use.
	SQLitePath string `toml:"sqlite_path"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Throttle          duration `toml:"throttle"`
}

// FeedConfig selects where market updates come from.
type FeedConfig struct {
	// WSURL is an upstream JSON tick stream. Empty disables it.
	WSURL  string           `toml:"ws_url"`
	Assets []common.Address `toml:"assets"`
	// Bus consumes ticks published on the signal bus by another process.
	Bus bool `toml:"bus"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func dur(d time.Duration) duration { return duration{d} }

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Mode:          "paper",
		LogLevel:      "info",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
		LogMaxAgeDays: 28,
		Risk: RiskConfig{
			MaxExposurePerAsset:    decimal.NewFromInt(10_000),
			MaxExposurePerStrategy: decimal.NewFromInt(5_000),
			MaxFeePrice:            decimal.NewFromInt(200),
			MinProfitThreshold:     decimal.NewFromInt(1),
			MaxSlippageBps:         100,
		},
		MEV: MEVConfig{
			ProtectionWindow: dur(3 * time.Second),
			BundleTTL:        dur(30 * time.Second),
			FeePriceCeiling:  decimal.NewFromInt(300),
			MaxSlippageBps:   50,
			Retention:        dur(time.Hour),
		},
		Breaker: BreakerConfig{
			BreakerThresholds: BreakerThresholds{
				MaxRequests:      60,
				Window:           dur(time.Minute),
				FailureThreshold: 5,
				RecoveryTime:     dur(5 * time.Minute),
			},
		},
		Volatility: VolatilityConfig{
			PriceChangeBps:       500,
			VolumeChangeBps:      5000,
			ImplausibleProfitBps: 5000,
			Cooldown:             dur(time.Minute),
			MaxRecoveryAttempts:  3,
			Confirmations:        3,
		},
		Orchestrator: OrchestratorConfig{
			MaxLegs:        10,
			LockBackend:    "local",
			LockTTL:        dur(30 * time.Second),
			LockTimeout:    dur(2 * time.Second),
			RunnerInterval: dur(2 * time.Second),
		},
		Auth: AuthConfig{
			ChainID: 1,
			MaxSkew: dur(30 * time.Second),
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Prefix:     "flasharb",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,

			ApplicationName: "flasharb",
			ConnectTimeout:  dur(10 * time.Second),
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			RateWindow: dur(time.Minute),
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Paper: PaperConfig{
			PremiumBps: 9,
			FeePrice:   decimal.NewFromInt(20),
		},
		Notify: NotifyConfig{
			Throttle: dur(time.Minute),
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"serve": true,
	"full":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// UsesInfra reports whether the mode connects to postgres, redis and s3.
func (c *Config) UsesInfra() bool {
	m := strings.ToLower(c.Mode)
	return m == "serve" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		add("unknown mode %q (valid: paper, serve, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Risk
	if !c.Risk.MaxExposurePerAsset.IsPositive() {
		add("risk: max_exposure_per_asset must be > 0")
	}
	if !c.Risk.MaxExposurePerStrategy.IsPositive() {
		add("risk: max_exposure_per_strategy must be > 0")
	}
	if !c.Risk.MaxFeePrice.IsPositive() {
		add("risk: max_fee_price must be > 0")
	}
	if c.Risk.MinProfitThreshold.IsNegative() || c.Risk.EmergencyStopLoss.IsNegative() {
		add("risk: min_profit_threshold and emergency_stop_loss must be >= 0")
	}
	if c.Risk.MaxSlippageBps < 0 || c.Risk.MaxSlippageBps > 10_000 {
		add("risk: max_slippage_bps must be 0-10000, got %d", c.Risk.MaxSlippageBps)
	}

	// MEV
	if c.MEV.ProtectionWindow.Duration <= 0 || c.MEV.BundleTTL.Duration <= 0 {
		add("mev: protection_window and bundle_ttl must be > 0")
	}

	// Breaker
	validateThresholds := func(name string, th BreakerThresholds) {
		if th.MaxRequests < 1 || th.Window.Duration <= 0 || th.FailureThreshold < 1 || th.RecoveryTime.Duration <= 0 {
			add("breaker%s: max_requests, window, failure_threshold and recovery_time must all be positive", name)
		}
	}
	validateThresholds("", c.Breaker.BreakerThresholds)
	for _, s := range c.Breaker.Scopes {
		if s.Scope == "" {
			add("breaker.scopes: scope must not be empty")
			continue
		}
		validateThresholds("."+s.Scope, s.BreakerThresholds)
	}

	// Orchestrator
	if c.Orchestrator.MaxLegs < 2 || c.Orchestrator.MaxLegs > 10 {
		add("orchestrator: max_legs must be 2-10, got %d", c.Orchestrator.MaxLegs)
	}
	switch c.Orchestrator.LockBackend {
	case "local":
	case "redis":
		if !c.UsesInfra() {
			add("orchestrator: lock_backend redis requires mode serve or full")
		}
	default:
		add("orchestrator: unknown lock_backend %q (valid: local, redis)", c.Orchestrator.LockBackend)
	}

	// Strategies
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		if s.ID == "" {
			add("strategies[%d]: id must not be empty", i)
			continue
		}
		if seen[s.ID] {
			add("strategies: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
		if len(s.Route.Hops) < 2 {
			add("strategies.%s: route needs at least 2 hops", s.ID)
		}
		if s.Cooldown.Duration < 0 || s.MinProfit.IsNegative() || s.FeeBudget.IsNegative() {
			add("strategies.%s: cooldown, min_profit and fee_budget must be >= 0", s.ID)
		}
	}
	if (len(c.Strategies) > 0 || len(c.Assets) > 0) && !c.Operator.Configured() {
		add("operator: a key is required to seed strategies and assets")
	}
	if mode == "paper" || mode == "full" {
		if !c.Operator.Configured() {
			add("operator: a key is required for mode %s", mode)
		}
	}
	if c.Operator.KeyFile != "" && c.Operator.KeyPassword == "" {
		add("operator: key_password is required when key_file is set")
	}

	// Auth
	if c.Auth.ChainID <= 0 {
		add("auth: chain_id must be positive")
	}
	if c.Auth.MaxSkew.Duration <= 0 {
		add("auth: max_skew must be > 0")
	}

	// Infra
	if c.UsesInfra() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" || c.Postgres.Database == "" {
				add("postgres: host and database must be set (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Postgres.ConnectTimeout.Duration < 0 {
			add("postgres: connect_timeout must not be negative")
		}
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Archive.Enabled && c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
	}
	if c.Archive.Enabled && c.Archive.RetentionDays < 1 {
		add("archive: retention_days must be >= 1")
	}

	// Server
	if c.Server.Enabled || mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must be >= 0")
		}
	}

	// Paper
	for _, v := range c.Paper.Venues {
		if v.Name == "" {
			add("paper.venues: name must not be empty")
		}
		for _, r := range v.Rates {
			if r.Num <= 0 || r.Den <= 0 {
				add("paper.venues.%s: rate num and den must be > 0", v.Name)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
