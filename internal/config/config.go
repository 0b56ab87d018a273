// Package config defines the top-level configuration for the bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// Mode values accepted by Config.Mode.
const (
	ModeTrade   = "trade"
	ModeMonitor = "monitor"
)

// minFluxInterval is the shortest poll period accepted for any flux.
const minFluxInterval = time.Second

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLUXBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Flux     FluxConfig     `toml:"flux"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Strategy StrategyConfig `toml:"strategy"`
	Risk     RiskConfig     `toml:"risk"`
	Feed     FeedConfig     `toml:"feed"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig selects the exchange driver. Only the in-memory sandbox is
// built in; balances and prices are decimal strings keyed by currency code
// and "BASE/QUOTE" pair.
type ExchangeConfig struct {
	Driver     string            `toml:"driver"`
	Account    string            `toml:"account"`
	FeeRate    float64           `toml:"fee_rate"`
	Spread     float64           `toml:"spread"`
	Volatility float64           `toml:"volatility"`
	Seed       int64             `toml:"seed"`
	Balances   map[string]string `toml:"balances"`
	Prices     map[string]string `toml:"prices"`
}

// FluxConfig holds the poll period of each flux. The order and trade fluxes
// share TradeInterval.
type FluxConfig struct {
	AccountInterval duration `toml:"account_interval"`
	TickerInterval  duration `toml:"ticker_interval"`
	TradeInterval   duration `toml:"trade_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled,
// positions live in process memory only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	KeyPrefix  string   `toml:"key_prefix"`
	TickerTTL  duration `toml:"ticker_ttl"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the export of closed positions to S3. Cron uses the
// six-field form with seconds, or a descriptor such as "@daily".
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Cron      string   `toml:"cron"`
	Retention duration `toml:"retention"`

	// MultipartThreshold is the archive size in bytes from which uploads
	// use S3 multipart; 0 disables multipart.
	MultipartThreshold int64 `toml:"multipart_threshold"`
}

// StrategyConfig holds the parameters shared by the active strategies.
type StrategyConfig struct {
	Active   []string       `toml:"active"`
	Pairs    []string       `toml:"pairs"`
	Size     float64        `toml:"size"`
	StopGain *float64       `toml:"stop_gain"`
	StopLoss *float64       `toml:"stop_loss"`
	Params   map[string]any `toml:"params"`
}

// RiskConfig bounds what strategies and the API may open. Zero disables a
// limit.
type RiskConfig struct {
	MaxOpenPositions int      `toml:"max_open_positions"`
	MaxNotional      float64  `toml:"max_notional"`
	OrderRateLimit   int      `toml:"order_rate_limit"`
	OrderRateWindow  duration `toml:"order_rate_window"`
	// OrderRateMaxWait is how long an order waits for a free slot before
	// it is rejected as rate limited.
	OrderRateMaxWait duration `toml:"order_rate_max_wait"`
}

// FeedConfig configures the optional push ticker feed.
type FeedConfig struct {
	TickerWSURL string `toml:"ticker_ws_url"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Driver:  "sandbox",
			Account: "sandbox",
			FeeRate: 0.001,
			Balances: map[string]string{
				"BTC": "1",
				"ETH": "0",
			},
			Prices: map[string]string{
				"ETH/BTC": "0.05",
			},
		},
		Flux: FluxConfig{
			AccountInterval: duration{10 * time.Second},
			TickerInterval:  duration{2 * time.Second},
			TradeInterval:   duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fluxbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "fluxbot",
			TickerTTL:  duration{time.Minute},
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fluxbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:               "0 0 3 * * *",
			Retention:          duration{30 * 24 * time.Hour},
			MultipartThreshold: 16 << 20,
		},
		Strategy: StrategyConfig{
			Active: []string{"simple"},
			Pairs:  []string{"ETH/BTC"},
			Size:   0.1,
			Params: map[string]any{},
		},
		Risk: RiskConfig{
			MaxOpenPositions: 5,
			OrderRateLimit:   10,
			OrderRateWindow:  duration{time.Second},
			OrderRateMaxWait: duration{500 * time.Millisecond},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events:    []string{"opened", "closing", "closed", "creation_failed"},
			QueueSize: 64,
		},
		Mode:     ModeTrade,
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeTrade:   true,
	ModeMonitor: true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// cronParser matches the parser the scheduler is built with.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.Driver != "sandbox" {
		errs = append(errs, fmt.Sprintf("exchange: unknown driver %q (valid: sandbox)", c.Exchange.Driver))
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate >= 1 {
		errs = append(errs, "exchange: fee_rate must be in [0, 1)")
	}
	if c.Exchange.Spread < 0 || c.Exchange.Spread >= 1 {
		errs = append(errs, "exchange: spread must be in [0, 1)")
	}
	if c.Exchange.Volatility < 0 {
		errs = append(errs, "exchange: volatility must be >= 0")
	}
	for cur, v := range c.Exchange.Balances {
		if d, err := decimal.NewFromString(v); err != nil || d.IsNegative() {
			errs = append(errs, fmt.Sprintf("exchange: balance %s must be a non-negative decimal, got %q", cur, v))
		}
	}
	for pair, v := range c.Exchange.Prices {
		if _, err := domain.ParseCurrencyPair(pair); err != nil {
			errs = append(errs, fmt.Sprintf("exchange: invalid price pair %q", pair))
		}
		if d, err := decimal.NewFromString(v); err != nil || !d.IsPositive() {
			errs = append(errs, fmt.Sprintf("exchange: price %s must be a positive decimal, got %q", pair, v))
		}
	}

	// Flux
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"account_interval", c.Flux.AccountInterval.Duration},
		{"ticker_interval", c.Flux.TickerInterval.Duration},
		{"trade_interval", c.Flux.TradeInterval.Duration},
	} {
		if iv.d < minFluxInterval {
			errs = append(errs, fmt.Sprintf("flux: %s must be >= %s, got %s", iv.name, minFluxInterval, iv.d))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be >= 1s")
		}
	}

	// S3 + archive
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if _, err := cronParser.Parse(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
		if c.Archive.MultipartThreshold < 0 {
			errs = append(errs, "archive: multipart_threshold must be >= 0")
		}
	}

	// Strategy
	if len(c.Strategy.Active) == 0 {
		errs = append(errs, "strategy: active must name at least one strategy")
	}
	for _, p := range c.Strategy.Pairs {
		if _, err := domain.ParseCurrencyPair(p); err != nil {
			errs = append(errs, fmt.Sprintf("strategy: invalid pair %q", p))
		}
	}
	if c.Strategy.Size <= 0 {
		errs = append(errs, "strategy: size must be > 0")
	}
	if c.Strategy.StopGain != nil && *c.Strategy.StopGain < 0 {
		errs = append(errs, "strategy: stop_gain must be >= 0")
	}
	if c.Strategy.StopLoss != nil && *c.Strategy.StopLoss < 0 {
		errs = append(errs, "strategy: stop_loss must be >= 0")
	}

	// Risk
	if c.Risk.MaxOpenPositions < 0 || c.Risk.MaxNotional < 0 || c.Risk.OrderRateLimit < 0 {
		errs = append(errs, "risk: limits must be >= 0")
	}
	if c.Risk.OrderRateMaxWait.Duration < 0 {
		errs = append(errs, "risk: order_rate_max_wait must be >= 0")
	}

	// Feed
	if u := c.Feed.TickerWSURL; u != "" && !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		errs = append(errs, fmt.Sprintf("feed: ticker_ws_url must use ws:// or wss://, got %q", u))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CurrencyPairs parses Strategy.Pairs. Call after Validate.
func (c *Config) CurrencyPairs() []domain.CurrencyPair {
	out := make([]domain.CurrencyPair, 0, len(c.Strategy.Pairs))
	for _, p := range c.Strategy.Pairs {
		if pair, err := domain.ParseCurrencyPair(p); err == nil {
			out = append(out, pair)
		}
	}
	return out
}
