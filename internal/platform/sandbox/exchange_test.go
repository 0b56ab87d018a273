package sandbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

var ethBTC = domain.NewCurrencyPair("ETH", "BTC")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ID%05d", n)
	}
}

func newTestExchange(opts ...Option) *Exchange {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := []Option{
		WithBalance("BTC", d("1")),
		WithPrice(ethBTC, d("0.2")),
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(sequentialIDs()),
	}
	return New(append(base, opts...)...)
}

func TestBuyFillsAndMovesBalances(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(WithFeeRate(d("0.01")))

	id, err := ex.PlaceMarketOrder(ctx, domain.OrderSideBuy, ethBTC, d("2"))
	require.NoError(t, err)
	assert.Equal(t, "ID00001", id)

	orders, err := ex.FetchOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusFilled, orders[0].Status)
	assert.True(t, orders[0].AveragePrice.Equal(d("0.2")))

	trades, err := ex.FetchTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, id, trades[0].OrderID)
	require.NotNil(t, trades[0].Fee)
	assert.True(t, trades[0].Fee.Value.Equal(d("0.004")))
	assert.Equal(t, domain.Currency("BTC"), trades[0].Fee.Currency)

	accounts, err := ex.FetchAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	btc, ok := accounts[0].Balance("BTC")
	require.True(t, ok)
	assert.True(t, btc.Total.Equal(d("0.596")), btc.Total.String())
	eth, ok := accounts[0].Balance("ETH")
	require.True(t, ok)
	assert.True(t, eth.Total.Equal(d("2")))
}

func TestSellCreditsQuoteMinusFee(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(WithBalance("ETH", d("1")), WithFeeRate(d("0.01")))

	_, err := ex.PlaceMarketOrder(ctx, domain.OrderSideSell, ethBTC, d("1"))
	require.NoError(t, err)

	accounts, _ := ex.FetchAccounts(ctx)
	btc, _ := accounts[0].Balance("BTC")
	assert.True(t, btc.Total.Equal(d("1.198")), btc.Total.String())
}

func TestPlaceMarketOrderRejections(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange()

	_, err := ex.PlaceMarketOrder(ctx, domain.OrderSideBuy, ethBTC, d("0"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = ex.PlaceMarketOrder(ctx, domain.OrderSideBuy, domain.NewCurrencyPair("XRP", "BTC"), d("1"))
	assert.ErrorIs(t, err, domain.ErrUnknownPair)

	_, err = ex.PlaceMarketOrder(ctx, domain.OrderSideBuy, ethBTC, d("100"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = ex.PlaceMarketOrder(ctx, domain.OrderSideSell, ethBTC, d("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	orders, _ := ex.FetchOrders(ctx)
	assert.Empty(t, orders)
}

func TestFetchTickersSkipsUnlistedAndTracksRange(t *testing.T) {
	ctx := context.Background()
	ex := newTestExchange(WithSpread(d("0.1")))

	tickers, err := ex.FetchTickers(ctx, []domain.CurrencyPair{ethBTC, domain.NewCurrencyPair("XRP", "BTC")})
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.True(t, tickers[0].Bid.Equal(d("0.19")))
	assert.True(t, tickers[0].Ask.Equal(d("0.21")))

	again, _ := ex.FetchTickers(ctx, []domain.CurrencyPair{ethBTC})
	assert.True(t, tickers[0].Equal(again[0]), "idle market yields identical tickers")

	require.NoError(t, ex.SetPrice(ethBTC, d("0.3")))
	require.NoError(t, ex.SetPrice(ethBTC, d("0.1")))
	tickers, _ = ex.FetchTickers(ctx, []domain.CurrencyPair{ethBTC})
	assert.True(t, tickers[0].High.Equal(d("0.3")))
	assert.True(t, tickers[0].Low.Equal(d("0.1")))

	assert.ErrorIs(t, ex.SetPrice(domain.NewCurrencyPair("XRP", "BTC"), d("1")), domain.ErrUnknownPair)
}

func TestVolatilityIsBoundedAndSeeded(t *testing.T) {
	ctx := context.Background()
	a := newTestExchange(WithVolatility(0.05, 7))
	b := newTestExchange(WithVolatility(0.05, 7))

	prev := d("0.2")
	for i := 0; i < 20; i++ {
		ta, err := a.FetchTickers(ctx, []domain.CurrencyPair{ethBTC})
		require.NoError(t, err)
		tb, _ := b.FetchTickers(ctx, []domain.CurrencyPair{ethBTC})
		assert.True(t, ta[0].Last.Equal(tb[0].Last))

		ratio, _ := ta[0].Last.Div(prev).Float64()
		assert.InDelta(t, 1.0, ratio, 0.0501)
		prev = ta[0].Last
	}
}
