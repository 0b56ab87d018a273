package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix prefixes every environment override.
const envPrefix = "FLUXBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLUXBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 && !onlyParams(undecoded) {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// onlyParams reports whether every undecoded key lives under
// strategy.params, whose contents are free-form.
func onlyParams(keys []toml.Key) bool {
	for _, k := range keys {
		if len(k) < 2 || k[0] != "strategy" || k[1] != "params" {
			return false
		}
	}
	return true
}

// applyEnvOverrides reads well-known FLUXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Driver, "EXCHANGE_DRIVER")
	setStr(&cfg.Exchange.Account, "EXCHANGE_ACCOUNT")
	setFloat64(&cfg.Exchange.FeeRate, "EXCHANGE_FEE_RATE")
	setFloat64(&cfg.Exchange.Spread, "EXCHANGE_SPREAD")
	setFloat64(&cfg.Exchange.Volatility, "EXCHANGE_VOLATILITY")
	setInt64(&cfg.Exchange.Seed, "EXCHANGE_SEED")

	// ── Flux ──
	setDuration(&cfg.Flux.AccountInterval, "FLUX_ACCOUNT_INTERVAL")
	setDuration(&cfg.Flux.TickerInterval, "FLUX_TICKER_INTERVAL")
	setDuration(&cfg.Flux.TradeInterval, "FLUX_TRADE_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.TickerTTL, "REDIS_TICKER_TTL")
	setDuration(&cfg.Redis.LockTTL, "REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setDuration(&cfg.Archive.Retention, "ARCHIVE_RETENTION")
	setInt64(&cfg.Archive.MultipartThreshold, "ARCHIVE_MULTIPART_THRESHOLD")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "STRATEGY_ACTIVE")
	setStringSlice(&cfg.Strategy.Pairs, "STRATEGY_PAIRS")
	setFloat64(&cfg.Strategy.Size, "STRATEGY_SIZE")
	setFloat64Ptr(&cfg.Strategy.StopGain, "STRATEGY_STOP_GAIN")
	setFloat64Ptr(&cfg.Strategy.StopLoss, "STRATEGY_STOP_LOSS")

	// ── Risk ──
	setInt(&cfg.Risk.MaxOpenPositions, "RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MaxNotional, "RISK_MAX_NOTIONAL")
	setInt(&cfg.Risk.OrderRateLimit, "RISK_ORDER_RATE_LIMIT")
	setDuration(&cfg.Risk.OrderRateWindow, "RISK_ORDER_RATE_WINDOW")
	setDuration(&cfg.Risk.OrderRateMaxWait, "RISK_ORDER_RATE_MAX_WAIT")

	// ── Feed ──
	setStr(&cfg.Feed.TickerWSURL, "FEED_TICKER_WS_URL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
	setInt(&cfg.Notify.QueueSize, "NOTIFY_QUEUE_SIZE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when FLUXBOT_<key> is
// present, non-empty and parses.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setFloat64Ptr(dst **float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = &f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
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
