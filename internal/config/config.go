// Package config defines the top-level configuration for the funding bot
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Venue kinds accepted in [venues.<id>] blocks.
const (
	VenueBackpack    = "backpack"
	VenueLighter     = "lighter"
	VenueEdgeX       = "edgex"
	VenueHyperliquid = "hyperliquid"
)

// Strategy kinds accepted in [[strategies]] blocks.
const (
	StrategyFundingArb        = "funding_arb"
	StrategyDynamicFundingArb = "dynamic_funding_arb"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDBOT_* environment
// variables.
type Config struct {
	Mode       string                 `toml:"mode"`
	Venues     map[string]VenueConfig `toml:"venues"`
	Strategies []StrategyConfig       `toml:"strategies"`
	Storage    StorageConfig          `toml:"storage"`
	Redis      RedisConfig            `toml:"redis"`
	Server     ServerConfig           `toml:"server"`
	Notify     NotifyConfig           `toml:"notify"`
	Archive    ArchiveConfig          `toml:"archive"`
	Log        LogConfig              `toml:"log"`
}

// VenueConfig holds one venue connection. Which credential fields apply
// depends on kind: backpack takes api_key/api_secret (base64 ed25519),
// lighter takes api_key/api_secret (HMAC) plus account indices, edgex and
// hyperliquid take a secp256k1 private_key.
type VenueConfig struct {
	Kind    string `toml:"kind"`
	BaseURL string `toml:"base_url"`

	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	PrivateKey          string `toml:"private_key"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPasswordEnv   string `toml:"secret_password_env"`

	WalletAddress string `toml:"wallet_address"` // hyperliquid
	AccountID     int64  `toml:"account_id"`     // edgex
	AccountIndex  int64  `toml:"account_index"`  // lighter
	APIKeyIndex   int    `toml:"api_key_index"`  // lighter

	Symbols  map[string]string       `toml:"symbols"` // canonical -> native overrides
	Markets  map[string]MarketConfig `toml:"markets"` // lighter market table
	RPS      float64                 `toml:"rps"`
	Slippage float64                 `toml:"slippage"`
}

// MarketConfig describes one Lighter market: its index and the decimal
// scaling its transaction format expects.
type MarketConfig struct {
	ID            int64 `toml:"id"`
	PriceDecimals int   `toml:"price_decimals"`
	SizeDecimals  int   `toml:"size_decimals"`
}

// StrategyConfig holds one strategy instance. Thresholds are APR fractions:
// 0.25 means 25% annualized.
type StrategyConfig struct {
	Name   string `toml:"name"`
	Kind   string `toml:"kind"`
	Symbol string `toml:"symbol"`

	// Two-venue strategies name a primary and secondary; the dynamic
	// strategy lists every candidate venue instead.
	Primary   string   `toml:"primary"`
	Secondary string   `toml:"secondary"`
	Venues    []string `toml:"venues"`

	EntryThresholdAPR float64 `toml:"entry_threshold_apr"`
	ExitThresholdAPR  float64 `toml:"exit_threshold_apr"`

	// Order size and position limit: a fixed base quantity or a USD
	// notional resolved at the current price. Quantity wins when both are
	// set.
	OrderQuantity          float64 `toml:"order_quantity"`
	OrderNotionalUSD       float64 `toml:"order_notional_usd"`
	MaxPositionQuantity    float64 `toml:"max_position_quantity"`
	MaxPositionNotionalUSD float64 `toml:"max_position_notional_usd"`

	ExecutionWindowMinutes int      `toml:"execution_window_minutes"`
	AutoRevert             *bool    `toml:"auto_revert"` // nil means on
	Cooldown               duration `toml:"cooldown"`
	Interval               duration `toml:"interval"`
	Simulate               bool     `toml:"simulate"`
}

// AutoRevertEnabled resolves the tri-state auto_revert flag; reverting
// partial entries is on unless the operator switched it off.
func (s StrategyConfig) AutoRevertEnabled() bool {
	return s.AutoRevert == nil || *s.AutoRevert
}

// StorageConfig selects and tunes the trade/state store backend.
type StorageConfig struct {
	Driver        string `toml:"driver"` // sqlite | postgres
	SQLitePath    string `toml:"sqlite_path"`
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the instance lock and
// the snapshot bus.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// ServerConfig holds HTTP control-surface parameters. An empty api_key
// disables authentication; a zero rate_limit_per_min disables throttling
// (throttling also needs Redis enabled).
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds trade archival parameters for any S3-compatible
// endpoint.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Prefix         string   `toml:"prefix"`
	RetentionDays  int      `toml:"retention_days"`
	Interval       duration `toml:"interval"`
}

// LogConfig tunes the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Mode:   "run",
		Venues: map[string]VenueConfig{},
		Storage: StorageConfig{
			Driver:        "sqlite",
			SQLitePath:    "fundingbot.db",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"entry", "exit", "quarantine", "unbalanced", "revert_failed", "sanity_halt"},
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "archive/trades",
			RetentionDays:  90,
			Interval:       duration{24 * time.Hour},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for LogConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats enumerates the accepted values for LogConfig.Format.
var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// validVenueKinds enumerates the accepted values for VenueConfig.Kind.
var validVenueKinds = map[string]bool{
	VenueBackpack:    true,
	VenueLighter:     true,
	VenueEdgeX:       true,
	VenueHyperliquid: true,
}

// validStrategyKinds enumerates the accepted values for StrategyConfig.Kind.
var validStrategyKinds = map[string]bool{
	StrategyFundingArb:        true,
	StrategyDynamicFundingArb: true,
}

// validNotifyEvents enumerates the accepted values for NotifyConfig.Events.
var validNotifyEvents = map[string]bool{
	"entry":         true,
	"exit":          true,
	"quarantine":    true,
	"unbalanced":    true,
	"revert_failed": true,
	"sanity_halt":   true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, monitor)", c.Mode))
	}

	// Log
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Sprintf("log: unknown format %q (valid: text, json)", c.Log.Format))
	}

	// Venues
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue must be configured")
	}
	for _, id := range sortedVenueIDs(c.Venues) {
		errs = append(errs, validateVenue(id, c.Venues[id])...)
	}

	// Strategies
	if len(c.Strategies) == 0 {
		errs = append(errs, "strategies: at least one strategy must be configured")
	}
	seen := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("strategies[%s]: name must not be empty", label))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("strategies[%s]: duplicate name", label))
		}
		seen[s.Name] = true
		errs = append(errs, validateStrategy(label, s, c.Venues)...)
	}

	// Storage
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, "storage: sqlite_path must not be empty for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, "storage: dsn must not be empty for the postgres driver")
		}
		if c.Storage.PoolMaxConns < 1 {
			errs = append(errs, "storage: pool_max_conns must be >= 1")
		}
		if c.Storage.PoolMinConns < 0 {
			errs = append(errs, "storage: pool_min_conns must be >= 0")
		}
		if c.Storage.PoolMinConns > c.Storage.PoolMaxConns {
			errs = append(errs, "storage: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: sqlite, postgres)", c.Storage.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must not be negative")
		}
	}

	// Notify
	for _, event := range c.Notify.Events {
		if !validNotifyEvents[event] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", event))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ---- Internal helpers ----

func sortedVenueIDs(venues map[string]VenueConfig) []string {
	ids := make([]string, 0, len(venues))
	for id := range venues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateVenue(id string, v VenueConfig) []string {
	var errs []string
	prefix := "venues." + id

	if !validVenueKinds[v.Kind] {
		errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: backpack, lighter, edgex, hyperliquid)", prefix, v.Kind))
		return errs
	}
	if v.RPS < 0 {
		errs = append(errs, prefix+": rps must not be negative")
	}
	if v.EncryptedSecretPath != "" && v.SecretPasswordEnv == "" {
		errs = append(errs, prefix+": secret_password_env is required when encrypted_secret_path is set")
	}

	hasSecret := v.APISecret != "" || v.EncryptedSecretPath != ""
	hasKey := v.PrivateKey != "" || v.EncryptedSecretPath != ""

	switch v.Kind {
	case VenueBackpack:
		if !hasSecret {
			errs = append(errs, prefix+": api_secret or encrypted_secret_path is required")
		}
	case VenueLighter:
		if !hasSecret {
			errs = append(errs, prefix+": api_secret or encrypted_secret_path is required")
		}
		if v.AccountIndex < 0 {
			errs = append(errs, prefix+": account_index must not be negative")
		}
	case VenueEdgeX:
		if !hasKey {
			errs = append(errs, prefix+": private_key or encrypted_secret_path is required")
		}
		if v.AccountID == 0 {
			errs = append(errs, prefix+": account_id is required")
		}
	case VenueHyperliquid:
		if !hasKey {
			errs = append(errs, prefix+": private_key or encrypted_secret_path is required")
		}
	}
	return errs
}

func validateStrategy(label string, s StrategyConfig, venues map[string]VenueConfig) []string {
	var errs []string
	prefix := "strategies[" + label + "]"

	if !validStrategyKinds[s.Kind] {
		errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: funding_arb, dynamic_funding_arb)", prefix, s.Kind))
		return errs
	}
	if s.Symbol == "" {
		errs = append(errs, prefix+": symbol must not be empty")
	}

	switch s.Kind {
	case StrategyFundingArb:
		if s.Primary == "" || s.Secondary == "" {
			errs = append(errs, prefix+": primary and secondary venues are required")
		} else {
			if s.Primary == s.Secondary {
				errs = append(errs, prefix+": primary and secondary must differ")
			}
			for _, id := range []string{s.Primary, s.Secondary} {
				if _, ok := venues[id]; !ok {
					errs = append(errs, fmt.Sprintf("%s: venue %q is not configured", prefix, id))
				}
			}
		}
	case StrategyDynamicFundingArb:
		if len(s.Venues) < 2 {
			errs = append(errs, prefix+": at least two venues are required")
		}
		for _, id := range s.Venues {
			if _, ok := venues[id]; !ok {
				errs = append(errs, fmt.Sprintf("%s: venue %q is not configured", prefix, id))
			}
		}
	}

	if s.EntryThresholdAPR <= 0 {
		errs = append(errs, prefix+": entry_threshold_apr must be > 0")
	}
	if s.ExitThresholdAPR < 0 {
		errs = append(errs, prefix+": exit_threshold_apr must not be negative")
	}
	if s.ExitThresholdAPR >= s.EntryThresholdAPR && s.EntryThresholdAPR > 0 {
		errs = append(errs, prefix+": exit_threshold_apr must be below entry_threshold_apr")
	}
	if s.OrderQuantity <= 0 && s.OrderNotionalUSD <= 0 {
		errs = append(errs, prefix+": order_quantity or order_notional_usd must be > 0")
	}
	if s.Interval.Duration < 0 {
		errs = append(errs, prefix+": interval must not be negative")
	}
	return errs
}
