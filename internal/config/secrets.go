package config

import (
	"fmt"
	"os"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
)

// ResolveSecret returns the venue's signing secret: the raw value when set,
// otherwise the encrypted keystore file decrypted with the password read
// from the environment variable named by secret_password_env.
func (v VenueConfig) ResolveSecret(raw string) (string, error) {
	sc := crypto.SecretConfig{
		Value:         raw,
		EncryptedPath: v.EncryptedSecretPath,
	}
	if raw == "" && v.SecretPasswordEnv != "" {
		sc.Password = os.Getenv(v.SecretPasswordEnv)
		if sc.Password == "" {
			return "", fmt.Errorf("config: environment variable %s is empty", v.SecretPasswordEnv)
		}
	}
	return crypto.LoadSecret(sc)
}

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Venues — copy the map so mutations do not affect the original.
	out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
	for id, v := range cfg.Venues {
		redact(&v.APISecret)
		redact(&v.PrivateKey)
		out.Venues[id] = v
	}

	// Storage
	redact(&out.Storage.DSN)

	// Redis
	redact(&out.Redis.Password)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Archive
	redact(&out.Archive.AccessKey)
	redact(&out.Archive.SecretKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Strategies = make([]StrategyConfig, len(cfg.Strategies))
	copy(out.Strategies, cfg.Strategies)
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
