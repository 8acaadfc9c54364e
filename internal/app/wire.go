package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/fundingbot/internal/blob/s3"
	"github.com/alanyoungcy/fundingbot/internal/cache/redis"
	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/store/postgres"
	"github.com/alanyoungcy/fundingbot/internal/store/sqlite"
	"github.com/alanyoungcy/fundingbot/internal/venue/backpack"
	"github.com/alanyoungcy/fundingbot/internal/venue/edgex"
	"github.com/alanyoungcy/fundingbot/internal/venue/hyperliquid"
	"github.com/alanyoungcy/fundingbot/internal/venue/lighter"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Venues, keyed by config id. Empty in monitor mode, which never
	// touches an exchange.
	Venues map[string]domain.Venue

	// Stores
	TradeStore domain.TradeStore
	StateStore domain.StateStore

	// Redis-backed services; nil when redis is disabled.
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Archiver moves aged trades to object storage; nil unless archival is
	// enabled.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsVenues returns true for modes that talk to exchanges. Monitor mode is
// a read-only mirror of the bus and runs without credentials.
func needsVenues(mode string) bool {
	return strings.ToLower(mode) == "run"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Trade/state store ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Storage.DSN,
			MaxConns: cfg.Storage.PoolMaxConns,
			MinConns: cfg.Storage.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Storage.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.StateStore = postgres.NewStateStore(pool)

	default: // sqlite is the default driver
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.TradeStore = store
		deps.StateStore = store
	}

	// --- Venues ---
	if needsVenues(cfg.Mode) {
		venues, err := buildVenues(cfg, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Venues = venues
	}

	// --- Redis: instance lock, snapshot bus, shared rate limiter ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Trade archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewTradeArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.TradeStore,
			cfg.Archive.Prefix,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.SignalBus != nil {
		deps.Notifier = deps.Notifier.WithJournal(deps.SignalBus)
	}

	return deps, cleanup, nil
}

// buildVenues constructs one adapter per configured venue, resolving
// credentials through the keystore when the config points at an encrypted
// secret file.
func buildVenues(cfg *config.Config, logger *slog.Logger) (map[string]domain.Venue, error) {
	venues := make(map[string]domain.Venue, len(cfg.Venues))
	for id, vc := range cfg.Venues {
		v, err := buildVenue(id, vc, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: venue %s: %w", id, err)
		}
		venues[id] = v
	}
	return venues, nil
}

func buildVenue(id string, vc config.VenueConfig, logger *slog.Logger) (domain.Venue, error) {
	switch vc.Kind {
	case config.VenueBackpack:
		secret, err := vc.ResolveSecret(vc.APISecret)
		if err != nil {
			return nil, err
		}
		return backpack.New(backpack.Config{
			Name:      id,
			BaseURL:   vc.BaseURL,
			APIKey:    vc.APIKey,
			APISecret: secret,
			Symbols:   vc.Symbols,
			RPS:       vc.RPS,
		}, logger)

	case config.VenueLighter:
		secret, err := vc.ResolveSecret(vc.APISecret)
		if err != nil {
			return nil, err
		}
		markets := make(map[string]lighter.Market, len(vc.Markets))
		for symbol, m := range vc.Markets {
			markets[symbol] = lighter.Market{
				ID:            m.ID,
				PriceDecimals: m.PriceDecimals,
				SizeDecimals:  m.SizeDecimals,
			}
		}
		return lighter.New(lighter.Config{
			Name:         id,
			BaseURL:      vc.BaseURL,
			APIKey:       vc.APIKey,
			APISecret:    secret,
			AccountIndex: vc.AccountIndex,
			APIKeyIndex:  vc.APIKeyIndex,
			Markets:      markets,
			Slippage:     vc.Slippage,
			RPS:          vc.RPS,
		}, logger)

	case config.VenueEdgeX:
		key, err := vc.ResolveSecret(vc.PrivateKey)
		if err != nil {
			return nil, err
		}
		return edgex.New(edgex.Config{
			Name:       id,
			BaseURL:    vc.BaseURL,
			PrivateKey: key,
			AccountID:  vc.AccountID,
			Symbols:    vc.Symbols,
			RPS:        vc.RPS,
		}, logger)

	case config.VenueHyperliquid:
		key, err := vc.ResolveSecret(vc.PrivateKey)
		if err != nil {
			return nil, err
		}
		return hyperliquid.New(hyperliquid.Config{
			Name:          id,
			BaseURL:       vc.BaseURL,
			PrivateKey:    key,
			WalletAddress: vc.WalletAddress,
			Slippage:      vc.Slippage,
			RPS:           vc.RPS,
		}, logger)

	default:
		return nil, fmt.Errorf("unknown venue kind %q", vc.Kind)
	}
}
