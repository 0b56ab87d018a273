package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

func TestNamespacedKeys(t *testing.T) {
	assert.Equal(t, "ticker:ETH/BTC", namespaced("", "ticker", "ETH/BTC"))
	assert.Equal(t, "bot1:lock:leader", namespaced("bot1", "lock", "leader"))
}

func TestTickerFieldsRoundTrip(t *testing.T) {
	pair := domain.NewCurrencyPair("ETH", "BTC")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	in := domain.Ticker{
		Pair:      pair,
		Last:      decimal.RequireFromString("0.0512"),
		Bid:       decimal.RequireFromString("0.0511"),
		Ask:       decimal.RequireFromString("0.0513"),
		Volume:    decimal.RequireFromString("1200.5"),
		Timestamp: ts,
	}

	vals := map[string]string{}
	for k, v := range tickerFields(in) {
		switch x := v.(type) {
		case string:
			vals[k] = x
		case int64:
			vals[k] = decimal.NewFromInt(x).String()
		}
	}

	out, err := parseTicker(pair, vals)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}

func TestParseTickerErrors(t *testing.T) {
	pair := domain.NewCurrencyPair("ETH", "BTC")
	_, err := parseTicker(pair, map[string]string{"bid": "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = parseTicker(pair, map[string]string{"last": "abc"})
	assert.Error(t, err)
}

func TestSlidingWindowScriptIsEmbedded(t *testing.T) {
	assert.True(t, strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("positions*"))
	assert.False(t, hasPattern("positions"))
}
