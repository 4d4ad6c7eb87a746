package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load layers the TOML file at path over Defaults, then applies .env and
// POLYSNIPE_* overrides. A missing file is not an error. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "POLYSNIPE_MODE")
	setStr(&cfg.LogLevel, "POLYSNIPE_LOG_LEVEL")
	setBool(&cfg.DryRun, "POLYSNIPE_DRY_RUN")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYSNIPE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYSNIPE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYSNIPE_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.FunderAddress, "POLYSNIPE_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.APIKey, "POLYSNIPE_WALLET_API_KEY")
	setStr(&cfg.Wallet.APISecret, "POLYSNIPE_WALLET_API_SECRET")
	setStr(&cfg.Wallet.APIPassphrase, "POLYSNIPE_WALLET_API_PASSPHRASE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYSNIPE_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYSNIPE_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYSNIPE_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYSNIPE_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYSNIPE_POLYMARKET_SIGNATURE_TYPE")

	// ── Markets / signal / ladder ──
	setStr(&cfg.Markets.SlugPrefix, "POLYSNIPE_MARKETS_SLUG_PREFIX")
	setDuration(&cfg.Markets.PollInterval, "POLYSNIPE_MARKETS_POLL_INTERVAL")
	setFloat64(&cfg.Signal.SnipeThreshold, "POLYSNIPE_SIGNAL_SNIPE_THRESHOLD")
	setStr(&cfg.Ladder.Strategy, "POLYSNIPE_LADDER_STRATEGY")
	setFloat64(&cfg.Ladder.Capital, "POLYSNIPE_LADDER_CAPITAL")
	setInt(&cfg.Ladder.Levels, "POLYSNIPE_LADDER_LEVELS")
	setFloat64(&cfg.Ladder.Size, "POLYSNIPE_LADDER_SIZE")
	setDuration(&cfg.Ladder.SweepLead, "POLYSNIPE_LADDER_SWEEP_LEAD")

	// ── Executor / risk ──
	setInt(&cfg.Executor.MaxAttempts, "POLYSNIPE_EXECUTOR_MAX_ATTEMPTS")
	setInt(&cfg.Executor.BreakerThreshold, "POLYSNIPE_EXECUTOR_BREAKER_THRESHOLD")
	setFloat64(&cfg.Risk.MaxMarketCost, "POLYSNIPE_RISK_MAX_MARKET_COST")
	setFloat64(&cfg.Risk.LossLimit, "POLYSNIPE_RISK_LOSS_LIMIT")
	setFloat64(&cfg.Risk.MaxSlippageBps, "POLYSNIPE_RISK_MAX_SLIPPAGE_BPS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POLYSNIPE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYSNIPE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSNIPE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSNIPE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSNIPE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSNIPE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSNIPE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSNIPE_POSTGRES_SSL_MODE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYSNIPE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYSNIPE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSNIPE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSNIPE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POLYSNIPE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYSNIPE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYSNIPE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSNIPE_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSNIPE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYSNIPE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSNIPE_S3_SECRET_KEY")

	// ── Datalog / notify / server / advisory ──
	setBool(&cfg.Datalog.Enabled, "POLYSNIPE_DATALOG_ENABLED")
	setStr(&cfg.Datalog.Dir, "POLYSNIPE_DATALOG_DIR")
	setStr(&cfg.Notify.TelegramToken, "POLYSNIPE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSNIPE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSNIPE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYSNIPE_NOTIFY_EVENTS")
	setBool(&cfg.Server.Enabled, "POLYSNIPE_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "POLYSNIPE_SERVER_ADDR")
	setStr(&cfg.Server.Token, "POLYSNIPE_SERVER_TOKEN")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSNIPE_SERVER_CORS_ORIGINS")
	setBool(&cfg.Advisory.Enabled, "POLYSNIPE_ADVISORY_ENABLED")
	setStr(&cfg.Advisory.URL, "POLYSNIPE_ADVISORY_URL")
}

// ---------------------------------------------------------------------------
// Typed env helpers. Unset, empty or unparsable values leave dst alone.
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
