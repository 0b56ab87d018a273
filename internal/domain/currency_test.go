package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrencyPair(t *testing.T) {
	p, err := ParseCurrencyPair("eth/btc")
	require.NoError(t, err)
	assert.Equal(t, CurrencyPair{Base: "ETH", Quote: "BTC"}, p)
	assert.Equal(t, "ETH/BTC", p.String())

	p, err = ParseCurrencyPair("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, NewCurrencyPair("BTC", "USDT"), p)

	for _, bad := range []string{"", "ETH", "ETH/", "/BTC", "A/B/C"} {
		_, err := ParseCurrencyPair(bad)
		assert.ErrorIs(t, err, ErrUnknownPair, bad)
	}
}

func TestCurrencyPairJSONMapKey(t *testing.T) {
	in := map[CurrencyPair]int{NewCurrencyPair("ETH", "BTC"): 1}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ETH/BTC":1}`, string(raw))

	var out map[CurrencyPair]int
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}
