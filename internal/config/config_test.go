package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fluxbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "monitor"

[flux]
ticker_interval = "5s"

[strategy]
active = ["dip_buyer", "simple"]
pairs = ["ETH/BTC", "LTC/BTC"]
size = 0.25
stop_gain = 10
stop_loss = 2.5

[strategy.params]
dip_percentage = 7.5
window_seconds = 600

[exchange.prices]
"LTC/BTC" = "0.002"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeMonitor, cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Flux.TickerInterval.Duration)
	assert.Equal(t, 10*time.Second, cfg.Flux.AccountInterval.Duration, "untouched keys keep defaults")
	assert.Equal(t, []string{"dip_buyer", "simple"}, cfg.Strategy.Active)
	require.NotNil(t, cfg.Strategy.StopGain)
	assert.Equal(t, 10.0, *cfg.Strategy.StopGain)
	assert.Equal(t, 2.5, *cfg.Strategy.StopLoss)
	assert.Equal(t, 7.5, cfg.Strategy.Params["dip_percentage"])
	assert.Equal(t, int64(600), cfg.Strategy.Params["window_seconds"])
	assert.Equal(t, "0.002", cfg.Exchange.Prices["LTC/BTC"])
	assert.Equal(t, []domain.CurrencyPair{
		domain.NewCurrencyPair("ETH", "BTC"),
		domain.NewCurrencyPair("LTC", "BTC"),
	}, cfg.CurrencyPairs())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, `
[flux]
tickr_interval = "5s"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flux.tickr_interval")
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLUXBOT_MODE", "monitor")
	t.Setenv("FLUXBOT_FLUX_TRADE_INTERVAL", "3s")
	t.Setenv("FLUXBOT_POSTGRES_ENABLED", "true")
	t.Setenv("FLUXBOT_POSTGRES_DSN", "postgres://bot:pw@db:5432/fluxbot")
	t.Setenv("FLUXBOT_STRATEGY_PAIRS", "ETH/BTC, LTC/BTC ,")
	t.Setenv("FLUXBOT_STRATEGY_STOP_LOSS", "4")
	t.Setenv("FLUXBOT_SERVER_PORT", "not-a-number")
	t.Setenv("FLUXBOT_EXCHANGE_SEED", "42")
	t.Setenv("FLUXBOT_ARCHIVE_MULTIPART_THRESHOLD", "1048576")
	t.Setenv("FLUXBOT_RISK_ORDER_RATE_MAX_WAIT", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeMonitor, cfg.Mode)
	assert.Equal(t, 3*time.Second, cfg.Flux.TradeInterval.Duration)
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, "postgres://bot:pw@db:5432/fluxbot", cfg.Postgres.DSN)
	assert.Equal(t, []string{"ETH/BTC", "LTC/BTC"}, cfg.Strategy.Pairs)
	require.NotNil(t, cfg.Strategy.StopLoss)
	assert.Equal(t, 4.0, *cfg.Strategy.StopLoss)
	assert.Equal(t, 8000, cfg.Server.Port, "unparseable values are ignored")
	assert.Equal(t, int64(42), cfg.Exchange.Seed)
	assert.Equal(t, int64(1<<20), cfg.Archive.MultipartThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Risk.OrderRateMaxWait.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Flux.TickerInterval = duration{500 * time.Millisecond}
	cfg.Exchange.Prices["BTC"] = "-1"
	cfg.Strategy.Active = nil
	cfg.Strategy.Size = 0
	cfg.Archive.Enabled = true
	cfg.Archive.Cron = "every day"
	cfg.Archive.MultipartThreshold = -1
	cfg.Risk.OrderRateMaxWait = duration{-time.Second}
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Feed.TickerWSURL = "http://feed.example.com"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "backtest"`,
		"flux: ticker_interval must be >= 1s",
		`exchange: invalid price pair "BTC"`,
		"exchange: price BTC must be a positive decimal",
		"strategy: active must name at least one strategy",
		"strategy: size must be > 0",
		"archive: requires s3.enabled",
		`archive: invalid cron "every day"`,
		"archive: multipart_threshold must be >= 0",
		"risk: order_rate_max_wait must be >= 0",
		"notify: telegram_token and telegram_chat_id must be set together",
		"feed: ticker_ws_url must use ws:// or wss://",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArchiveCronForms(t *testing.T) {
	for _, spec := range []string{"0 0 3 * * *", "@daily", "@every 1h"} {
		cfg := Defaults()
		cfg.S3.Enabled = true
		cfg.Archive.Enabled = true
		cfg.Archive.Cron = spec
		assert.NoError(t, cfg.Validate(), spec)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/1/x"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Exchange.Prices["ETH/BTC"] = "1"
	out.Strategy.Pairs[0] = "LTC/BTC"
	assert.Equal(t, "0.05", cfg.Exchange.Prices["ETH/BTC"])
	assert.Equal(t, "ETH/BTC", cfg.Strategy.Pairs[0])
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}
