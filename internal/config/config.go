// Package config holds the engine configuration: a TOML file layered over
// Defaults, then POLYSNIPE_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	DryRun     bool             `toml:"dry_run"`
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Markets    MarketsConfig    `toml:"markets"`
	Signal     SignalConfig     `toml:"signal"`
	Ladder     LadderConfig     `toml:"ladder"`
	Presign    PresignConfig    `toml:"presign"`
	Executor   ExecutorConfig   `toml:"executor"`
	Risk       RiskConfig       `toml:"risk"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Datalog    DatalogConfig    `toml:"datalog"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Advisory   AdvisoryConfig   `toml:"advisory"`
}

// WalletConfig holds the signing key and CLOB API credentials. Empty API
// credentials are derived from the key at startup.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	FunderAddress    string `toml:"funder_address"`
	APIKey           string `toml:"api_key"`
	APISecret        string `toml:"api_secret"`
	APIPassphrase    string `toml:"api_passphrase"`
}

// PolymarketConfig holds venue endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	FeeRateBps    int    `toml:"fee_rate_bps"`
}

// MarketsConfig selects the recurring market series.
type MarketsConfig struct {
	SlugPrefix   string   `toml:"slug_prefix"`
	Window       duration `toml:"window"`
	PollInterval duration `toml:"poll_interval"`
	// MinTimeLeft skips a market that has less than this left when found.
	MinTimeLeft duration `toml:"min_time_left"`
	// ResolutionTimeout bounds how long a session polls for the winner.
	ResolutionTimeout duration `toml:"resolution_timeout"`
}

// SignalConfig tunes spread detection.
type SignalConfig struct {
	SnipeThreshold float64 `toml:"snipe_threshold"`
}

// LadderConfig shapes the resting ladder and names the strategy.
type LadderConfig struct {
	Strategy          string         `toml:"strategy"`
	Capital           float64        `toml:"capital"`
	Levels            int            `toml:"levels"`
	Spacing           float64        `toml:"spacing"`
	Margin            float64        `toml:"margin"`
	Tolerance         float64        `toml:"tolerance"`
	MinSize           float64        `toml:"min_size"`
	OrderType         string         `toml:"order_type"`
	SweepLead         duration       `toml:"sweep_lead"`
	ReconcileInterval duration       `toml:"reconcile_interval"`
	Size              float64        `toml:"size"`
	MaxPosition       float64        `toml:"max_position"`
	TakeProfit        float64        `toml:"take_profit"`
	StopLoss          float64        `toml:"stop_loss"`
	MinEdge           float64        `toml:"min_edge"`
	MinFillProb       float64        `toml:"min_fill_prob"`
	ExitLead          duration       `toml:"exit_lead"`
	Params            map[string]any `toml:"params"`
}

// PresignConfig shapes the presigned order grid.
type PresignConfig struct {
	Enabled         bool      `toml:"enabled"`
	MinPrice        float64   `toml:"min_price"`
	MaxPrice        float64   `toml:"max_price"`
	SizeMultipliers []float64 `toml:"size_multipliers"`
	IncludeSells    bool      `toml:"include_sells"`
	TTL             duration  `toml:"ttl"`
	Workers         int       `toml:"workers"`
	BuildDeadline   duration  `toml:"build_deadline"`
}

// ExecutorConfig holds submission retry and breaker settings.
type ExecutorConfig struct {
	MaxAttempts      int      `toml:"max_attempts"`
	InitialBackoff   duration `toml:"initial_backoff"`
	MaxBackoff       duration `toml:"max_backoff"`
	CallTimeout      duration `toml:"call_timeout"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	DedupTTL         duration `toml:"dedup_ttl"`
	// SignalValidity is how long a snipe stays worth submitting.
	SignalValidity duration `toml:"signal_validity"`
}

// RiskConfig caps what the engine may put at stake.
type RiskConfig struct {
	// MaxMarketCost caps the total cost held in one market; 0 disables.
	MaxMarketCost float64 `toml:"max_market_cost"`
	// LossLimit stops new markets once cumulative P&L reaches -LossLimit.
	LossLimit float64 `toml:"loss_limit"`
	// MaxSlippageBps rejects a snipe whose leg price sits this far under
	// the current best ask; 0 disables.
	MaxSlippageBps float64 `toml:"max_slippage_bps"`
}

// PostgresConfig holds fill journal connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	Prefix     string   `toml:"prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// DatalogConfig controls the per-market JSONL record files.
type DatalogConfig struct {
	Enabled   bool   `toml:"enabled"`
	Dir       string `toml:"dir"`
	KeyPrefix string `toml:"key_prefix"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds status API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Token       string   `toml:"token"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
}

// AdvisoryConfig points at the optional fill-probability service.
type AdvisoryConfig struct {
	Enabled  bool     `toml:"enabled"`
	URL      string   `toml:"url"`
	Timeout  duration `toml:"timeout"`
	TTL      duration `toml:"ttl"`
	Interval duration `toml:"interval"`
}

// duration decodes TOML strings such as "250ms" or "15m".
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

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		DryRun:   true,
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws",
			ChainID:       137,
			SignatureType: 2,
		},
		Markets: MarketsConfig{
			SlugPrefix:        "btc-updown-15m",
			Window:            duration{15 * time.Minute},
			PollInterval:      duration{5 * time.Second},
			MinTimeLeft:       duration{2 * time.Minute},
			ResolutionTimeout: duration{10 * time.Minute},
		},
		Signal: SignalConfig{SnipeThreshold: 0.98},
		Ladder: LadderConfig{
			Strategy:          "pure_arb",
			Capital:           100,
			Levels:            5,
			Spacing:           0.01,
			Margin:            0.02,
			Tolerance:         0.2,
			MinSize:           5,
			OrderType:         "GTC",
			SweepLead:         duration{30 * time.Second},
			ReconcileInterval: duration{250 * time.Millisecond},
			Size:              10,
			MinEdge:           0.02,
			ExitLead:          duration{time.Minute},
			Params:            map[string]any{},
		},
		Presign: PresignConfig{
			Enabled:         true,
			MinPrice:        0.30,
			MaxPrice:        0.70,
			SizeMultipliers: []float64{1, 2},
			TTL:             duration{20 * time.Minute},
			Workers:         8,
			BuildDeadline:   duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			MaxAttempts:      3,
			InitialBackoff:   duration{100 * time.Millisecond},
			MaxBackoff:       duration{time.Second},
			CallTimeout:      duration{2 * time.Second},
			BreakerThreshold: 5,
			BreakerCooldown:  duration{30 * time.Second},
			RateLimit:        50,
			RateWindow:       duration{10 * time.Second},
			DedupTTL:         duration{5 * time.Second},
			SignalValidity:   duration{1500 * time.Millisecond},
		},
		Risk: RiskConfig{
			MaxMarketCost:  250,
			LossLimit:      100,
			MaxSlippageBps: 50,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polysnipe",
			User:          "postgres",
			SSLMode:       "disable",
			MaxConns:      4,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			Prefix:     "polysnipe",
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "polysnipe-datalog",
			ForcePathStyle: true,
		},
		Datalog: DatalogConfig{
			Enabled:   true,
			Dir:       "data",
			KeyPrefix: "datalog",
		},
		Notify: NotifyConfig{
			Events: []string{"pnl", "exposure", "circuit_open"},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Advisory: AdvisoryConfig{
			Timeout:  duration{100 * time.Millisecond},
			TTL:      duration{5 * time.Second},
			Interval: duration{2 * time.Second},
		},
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validOrderTypes = map[string]bool{
	"GTC": true,
	"GTD": true,
}

// NeedsWallet reports whether the configuration submits orders.
func (c *Config) NeedsWallet() bool {
	return strings.EqualFold(c.Mode, "trade")
}

// Validate returns every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: trade, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
		k, s, p := c.Wallet.APIKey != "", c.Wallet.APISecret != "", c.Wallet.APIPassphrase != ""
		if (k || s || p) && !(k && s && p) {
			add("wallet: api_key, api_secret and api_passphrase must be set together")
		}
	}

	if c.Polymarket.ClobHost == "" || c.Polymarket.GammaHost == "" || c.Polymarket.WsHost == "" {
		add("polymarket: clob_host, gamma_host and ws_host must be set")
	}
	if c.Polymarket.ChainID <= 0 {
		add("polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		add("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType)
	}

	if c.Markets.SlugPrefix == "" {
		add("markets: slug_prefix must not be empty")
	}
	if c.Markets.Window.Duration <= 0 {
		add("markets: window must be > 0")
	}
	if c.Markets.PollInterval.Duration <= 0 {
		add("markets: poll_interval must be > 0")
	}

	if c.Signal.SnipeThreshold <= 0 || c.Signal.SnipeThreshold > 1 {
		add("signal: snipe_threshold must be in (0, 1], got %v", c.Signal.SnipeThreshold)
	}

	if c.Ladder.Strategy == "" {
		add("ladder: strategy must not be empty")
	}
	if c.Ladder.Capital < 0 {
		add("ladder: capital must be >= 0")
	}
	if c.Ladder.Levels < 0 {
		add("ladder: levels must be >= 0")
	}
	if c.Ladder.Margin < 0 || c.Ladder.Margin >= 1 {
		add("ladder: margin must be in [0, 1)")
	}
	if !validOrderTypes[strings.ToUpper(c.Ladder.OrderType)] {
		add("ladder: order_type must be GTC or GTD, got %q", c.Ladder.OrderType)
	}
	if c.Ladder.SweepLead.Duration <= 0 {
		add("ladder: sweep_lead must be > 0")
	}
	if c.Ladder.SweepLead.Duration >= c.Markets.Window.Duration {
		add("ladder: sweep_lead must be shorter than markets.window")
	}

	if c.Presign.Enabled {
		if c.Presign.MinPrice <= 0 || c.Presign.MaxPrice >= 1 || c.Presign.MinPrice > c.Presign.MaxPrice {
			add("presign: need 0 < min_price <= max_price < 1")
		}
		if len(c.Presign.SizeMultipliers) == 0 {
			add("presign: size_multipliers must not be empty")
		}
	}

	if c.Executor.MaxAttempts < 1 {
		add("executor: max_attempts must be >= 1")
	}
	if c.Executor.BreakerThreshold < 1 {
		add("executor: breaker_threshold must be >= 1")
	}
	if c.Executor.SignalValidity.Duration <= 0 {
		add("executor: signal_validity must be > 0")
	}

	if c.Risk.MaxMarketCost < 0 || c.Risk.LossLimit < 0 || c.Risk.MaxSlippageBps < 0 {
		add("risk: limits must be >= 0")
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			add("postgres: host and database must be set (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}
	if c.S3.Enabled && !c.Datalog.Enabled {
		add("s3: archiving needs datalog.enabled")
	}
	if c.Datalog.Enabled && c.Datalog.Dir == "" {
		add("datalog: dir must not be empty")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}
	if c.Advisory.Enabled && c.Advisory.URL == "" {
		add("advisory: url must be set when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
