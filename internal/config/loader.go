package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDBOT_MODE")
	setStr(&cfg.Log.Level, "FUNDBOT_LOG_LEVEL")
	setStr(&cfg.Log.Format, "FUNDBOT_LOG_FORMAT")

	// ── Venues ──
	// Credentials follow FUNDBOT_VENUE_<ID>_<FIELD>; the id is upper-cased
	// with dashes folded to underscores.
	for id, venue := range cfg.Venues {
		key := "FUNDBOT_VENUE_" + envSegment(id) + "_"
		setStr(&venue.BaseURL, key+"BASE_URL")
		setStr(&venue.APIKey, key+"API_KEY")
		setStr(&venue.APISecret, key+"API_SECRET")
		setStr(&venue.PrivateKey, key+"PRIVATE_KEY")
		setStr(&venue.WalletAddress, key+"WALLET_ADDRESS")
		setStr(&venue.EncryptedSecretPath, key+"ENCRYPTED_SECRET_PATH")
		cfg.Venues[id] = venue
	}

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "FUNDBOT_STORAGE_DRIVER")
	setStr(&cfg.Storage.SQLitePath, "FUNDBOT_STORAGE_SQLITE_PATH")
	setStr(&cfg.Storage.DSN, "FUNDBOT_STORAGE_DSN")
	setInt(&cfg.Storage.PoolMaxConns, "FUNDBOT_STORAGE_POOL_MAX_CONNS")
	setInt(&cfg.Storage.PoolMinConns, "FUNDBOT_STORAGE_POOL_MIN_CONNS")
	setBool(&cfg.Storage.RunMigrations, "FUNDBOT_STORAGE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FUNDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDBOT_REDIS_POOL_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FUNDBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "FUNDBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDBOT_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FUNDBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "FUNDBOT_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "FUNDBOT_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "FUNDBOT_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "FUNDBOT_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "FUNDBOT_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "FUNDBOT_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "FUNDBOT_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.RetentionDays, "FUNDBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "FUNDBOT_ARCHIVE_INTERVAL")
}

// envSegment converts a venue id into its environment-variable spelling.
func envSegment(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
