package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/polysnipe/internal/blob/s3"
	"github.com/alanyoungcy/polysnipe/internal/cache/redis"
	"github.com/alanyoungcy/polysnipe/internal/config"
	"github.com/alanyoungcy/polysnipe/internal/crypto"
	"github.com/alanyoungcy/polysnipe/internal/datalog"
	"github.com/alanyoungcy/polysnipe/internal/domain"
	"github.com/alanyoungcy/polysnipe/internal/executor"
	"github.com/alanyoungcy/polysnipe/internal/notify"
	"github.com/alanyoungcy/polysnipe/internal/platform/advisory"
	"github.com/alanyoungcy/polysnipe/internal/platform/polymarket"
	"github.com/alanyoungcy/polysnipe/internal/position"
	"github.com/alanyoungcy/polysnipe/internal/presign"
	"github.com/alanyoungcy/polysnipe/internal/runtime"
	"github.com/alanyoungcy/polysnipe/internal/server/handler"
	"github.com/alanyoungcy/polysnipe/internal/server/ws"
	"github.com/alanyoungcy/polysnipe/internal/service"
	"github.com/alanyoungcy/polysnipe/internal/store/postgres"
	"github.com/alanyoungcy/polysnipe/internal/strategy"
)

// presignTick is the price grid step of the presign arena. Markets with a
// coarser tick simply never look up the in-between prices.
const presignTick = 0.01

// Dependencies bundles everything a market session needs. It is constructed
// by Wire and torn down by the returned cleanup function. Optional
// integrations are nil when disabled.
type Dependencies struct {
	// Venue
	Gamma    *polymarket.GammaClient
	Clob     *polymarket.ClobClient
	Auth     *crypto.HMACAuth
	Presign  *presign.Cache
	Executor *executor.Executor

	// Session state
	Tracker    *position.Tracker
	Strategies *strategy.Registry
	Risk       *service.RiskService

	// Persistence
	Fills   domain.FillStore
	Results domain.ResultStore
	Blob    domain.BlobWriter
	Datalog *datalog.Log

	// Coordination
	Locks   domain.LockManager
	Limiter domain.RateLimiter
	Bus     *redis.SignalBus

	// Outputs
	Notifier *notify.Notifier
	Hub      *ws.Hub
	Advisor  *advisory.Client

	Health map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, rc *runtime.Context, logger *slog.Logger) (*Dependencies, func(), error) {
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

	deps := &Dependencies{
		Gamma:      polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Markets.SlugPrefix, cfg.Markets.Window.Duration),
		Tracker:    position.NewTracker(logger),
		Strategies: strategy.Default(),
		Health:     make(map[string]handler.Check),
	}
	deps.Risk = service.NewRiskService(deps.Tracker, rc, service.RiskConfig{
		MaxMarketCost:  cfg.Risk.MaxMarketCost,
		LossLimit:      cfg.Risk.LossLimit,
		MaxSlippageBps: cfg.Risk.MaxSlippageBps,
	}, logger)

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

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
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
		deps.Fills = postgres.NewFillStore(pool)
		deps.Results = postgres.NewResultStore(pool)
		deps.Health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blob = s3blob.NewWriter(s3Client)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Session data log ---
	if cfg.Datalog.Enabled {
		log, err := datalog.New(datalog.Config{
			Dir:       cfg.Datalog.Dir,
			Session:   rc.ID(),
			KeyPrefix: cfg.Datalog.KeyPrefix,
		}, deps.Blob, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: datalog: %w", err))
		}
		deps.Datalog = log
	}

	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(logger)
		closers = append(closers, deps.Hub.Close)
	}

	if cfg.Advisory.Enabled {
		deps.Advisor = advisory.New(cfg.Advisory.URL, cfg.Advisory.Timeout.Duration, cfg.Advisory.TTL.Duration, logger)
	}

	if !cfg.NeedsWallet() {
		// Book resyncs only need the public endpoints.
		deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, nil, nil)
		return deps, cleanup, nil
	}

	// --- Wallet, CLOB and execution ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: load key: %w", err))
	}
	signer, err := crypto.NewSigner(key, cfg.Polymarket.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	builder := crypto.NewOrderBuilder(signer, cfg.Wallet.FunderAddress, cfg.Polymarket.SignatureType, cfg.Polymarket.FeeRateBps)

	var auth *crypto.HMACAuth
	if cfg.Wallet.APIKey != "" {
		auth = &crypto.HMACAuth{
			Key:        cfg.Wallet.APIKey,
			Secret:     cfg.Wallet.APISecret,
			Passphrase: cfg.Wallet.APIPassphrase,
		}
	}
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, auth)
	if auth == nil {
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			return fail(fmt.Errorf("wire: derive api key: %w", err))
		}
	}
	deps.Auth = deps.Clob.Credentials()

	sides := []domain.OrderSide{domain.OrderSideBuy}
	if cfg.Presign.IncludeSells {
		sides = append(sides, domain.OrderSideSell)
	}
	deps.Presign = presign.New(builder, presign.Config{
		Grid:    presign.NewGrid(cfg.Presign.MinPrice, cfg.Presign.MaxPrice, presignTick, cfg.Ladder.Size, cfg.Presign.SizeMultipliers, sides...),
		TTL:     cfg.Presign.TTL.Duration,
		Workers: cfg.Presign.Workers,
	}, logger)

	deps.Executor = executor.New(deps.Clob, deps.Presign, executor.Config{
		DryRun:           cfg.DryRun,
		MaxAttempts:      cfg.Executor.MaxAttempts,
		InitialBackoff:   cfg.Executor.InitialBackoff.Duration,
		MaxBackoff:       cfg.Executor.MaxBackoff.Duration,
		CallTimeout:      cfg.Executor.CallTimeout.Duration,
		BreakerThreshold: cfg.Executor.BreakerThreshold,
		BreakerCooldown:  cfg.Executor.BreakerCooldown.Duration,
		RateLimit:        cfg.Executor.RateLimit,
		RateWindow:       cfg.Executor.RateWindow.Duration,
		DedupTTL:         cfg.Executor.DedupTTL.Duration,
	}, logger)
	if deps.Limiter != nil {
		deps.Executor.SetRateLimiter(deps.Limiter)
	}

	notifier := deps.Notifier
	threshold := cfg.Executor.BreakerThreshold
	deps.Executor.Breaker().OnOpen(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := notifier.CircuitOpen(ctx, threshold, errors.New("consecutive venue failures")); err != nil {
				logger.Warn("circuit notification failed", slog.String("error", err.Error()))
			}
		}()
	})

	return deps, cleanup, nil
}
