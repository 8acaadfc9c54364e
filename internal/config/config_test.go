package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
)

const sampleTOML = `
mode = "monitor"

[log]
level = "debug"

[venues.backpack]
kind = "backpack"
api_secret = "c2VjcmV0"

[venues.lighter]
kind = "lighter"
api_secret = "hmac-secret"
account_index = 7

[venues.lighter.markets.SOL]
id = 2
price_decimals = 3
size_decimals = 3

[[strategies]]
name = "sol-carry"
kind = "funding_arb"
symbol = "SOL"
primary = "backpack"
secondary = "lighter"
entry_threshold_apr = 0.25
exit_threshold_apr = 0.05
order_notional_usd = 100.0
cooldown = "90s"
auto_revert = false

[storage]
driver = "sqlite"
sqlite_path = "/tmp/fundingbot-test.db"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep defaults")
	assert.Equal(t, 8080, cfg.Server.Port, "unset sections keep defaults")

	require.Contains(t, cfg.Venues, "backpack")
	require.Contains(t, cfg.Venues, "lighter")
	assert.Equal(t, int64(2), cfg.Venues["lighter"].Markets["SOL"].ID)

	require.Len(t, cfg.Strategies, 1)
	s := cfg.Strategies[0]
	assert.Equal(t, "sol-carry", s.Name)
	assert.Equal(t, 90*time.Second, s.Cooldown.Duration)
	assert.False(t, s.AutoRevertEnabled())
	assert.InDelta(t, 100.0, s.OrderNotionalUSD, 1e-9)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FUNDBOT_MODE", "run")
	t.Setenv("FUNDBOT_VENUE_BACKPACK_API_SECRET", "from-env")
	t.Setenv("FUNDBOT_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("FUNDBOT_NOTIFY_EVENTS", "entry, exit")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "run", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Venues["backpack"].APISecret)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"entry", "exit"}, cfg.Notify.Events)
}

func TestAutoRevertDefaultsOn(t *testing.T) {
	assert.True(t, StrategyConfig{}.AutoRevertEnabled())

	off := false
	assert.False(t, StrategyConfig{AutoRevert: &off}.AutoRevertEnabled())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "warp"
	cfg.Venues = map[string]VenueConfig{
		"binance": {Kind: "binance"},
	}
	cfg.Strategies = []StrategyConfig{
		{
			Name:   "broken",
			Kind:   StrategyFundingArb,
			Symbol: "SOL",
			// missing venues, zero thresholds, no size
		},
	}
	cfg.Storage.Driver = "mysql"

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "warp"`)
	assert.Contains(t, msg, `venues.binance: unknown kind "binance"`)
	assert.Contains(t, msg, "primary and secondary venues are required")
	assert.Contains(t, msg, "entry_threshold_apr must be > 0")
	assert.Contains(t, msg, "order_quantity or order_notional_usd must be > 0")
	assert.Contains(t, msg, `unknown driver "mysql"`)
	assert.GreaterOrEqual(t, strings.Count(msg, "\n  - "), 5, "every problem is reported at once")
}

func TestValidateDynamicStrategyNeedsTwoVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = map[string]VenueConfig{
		"backpack": {Kind: VenueBackpack, APISecret: "x"},
	}
	cfg.Strategies = []StrategyConfig{
		{
			Name:              "dyn",
			Kind:              StrategyDynamicFundingArb,
			Symbol:            "SOL",
			Venues:            []string{"backpack"},
			EntryThresholdAPR: 0.2,
			OrderQuantity:     1,
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two venues are required")
}

func TestValidateRejectsExitAboveEntry(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = map[string]VenueConfig{
		"backpack": {Kind: VenueBackpack, APISecret: "x"},
		"lighter":  {Kind: VenueLighter, APISecret: "y"},
	}
	cfg.Strategies = []StrategyConfig{
		{
			Name:              "inverted",
			Kind:              StrategyFundingArb,
			Symbol:            "SOL",
			Primary:           "backpack",
			Secondary:         "lighter",
			EntryThresholdAPR: 0.1,
			ExitThresholdAPR:  0.2,
			OrderQuantity:     1,
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit_threshold_apr must be below entry_threshold_apr")
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Archive.SecretKey = "s3-secret"

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Venues["backpack"].APISecret)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Archive.SecretKey)

	// The original must stay intact.
	assert.Equal(t, "c2VjcmV0", cfg.Venues["backpack"].APISecret)
	assert.Equal(t, "tg-token", cfg.Notify.TelegramToken)
}

func TestResolveSecretPrefersRawValue(t *testing.T) {
	v := VenueConfig{EncryptedSecretPath: "/nonexistent"}
	secret, err := v.ResolveSecret("raw-secret")
	require.NoError(t, err)
	assert.Equal(t, "raw-secret", secret)
}

func TestResolveSecretFromKeystore(t *testing.T) {
	encrypted, err := crypto.EncryptSecret("the-real-key", "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "venue.key.json")
	require.NoError(t, os.WriteFile(path, encrypted, 0o600))

	t.Setenv("TEST_VENUE_KEY_PW", "hunter2")
	v := VenueConfig{
		EncryptedSecretPath: path,
		SecretPasswordEnv:   "TEST_VENUE_KEY_PW",
	}

	secret, err := v.ResolveSecret("")
	require.NoError(t, err)
	assert.Equal(t, "the-real-key", secret)
}

func TestResolveSecretMissingPasswordEnv(t *testing.T) {
	v := VenueConfig{
		EncryptedSecretPath: "/some/file.json",
		SecretPasswordEnv:   "TEST_UNSET_PW_VAR",
	}
	_, err := v.ResolveSecret("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_UNSET_PW_VAR")
}
