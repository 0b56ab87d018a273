package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/store/memory"
)

func TestTickerServiceKeepsLatest(t *testing.T) {
	ctx := context.Background()
	svc := NewTickerService(nil, nil, testLogger())

	_, err := svc.Latest(ctx, ethBTC)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.HandleTicker(ctx, ticker(ethUSDT, "3000")))
	require.NoError(t, svc.HandleTicker(ctx, ticker(ethBTC, "0.1")))
	require.NoError(t, svc.HandleTicker(ctx, ticker(ethBTC, "0.2")))

	got, err := svc.Latest(ctx, ethBTC)
	require.NoError(t, err)
	assert.True(t, got.Last.Equal(dec("0.2")))

	all := svc.All()
	require.Len(t, all, 2)
	assert.Equal(t, ethBTC, all[0].Pair)
}

func TestRiskServiceChecks(t *testing.T) {
	ctx := context.Background()
	registry := NewPositionRegistry(memory.NewPositionStore(), testLogger())
	tickers := NewTickerService(nil, nil, testLogger())
	risk := NewRiskService(registry, tickers, RiskConfig{
		MaxOpenPositions: 1,
		MaxNotional:      decimal.NewFromInt(10),
	}, testLogger())

	assert.ErrorIs(t, risk.PreCreateCheck(ctx, ethBTC, decimal.Zero), domain.ErrInvalidAmount)

	// No ticker yet: notional cannot be checked and does not block.
	assert.NoError(t, risk.PreCreateCheck(ctx, ethBTC, dec("1000")))

	require.NoError(t, tickers.HandleTicker(ctx, ticker(ethBTC, "2")))
	assert.NoError(t, risk.PreCreateCheck(ctx, ethBTC, dec("5")))
	assert.Error(t, risk.PreCreateCheck(ctx, ethBTC, dec("6")))

	_, err := registry.Create(ctx, domain.PositionSnapshot{Pair: ethBTC, Amount: dec("1"), Status: domain.PositionOpening})
	require.NoError(t, err)
	assert.Error(t, risk.PreCreateCheck(ctx, ethBTC, dec("1")))
}

type tickerCacheStub struct {
	tickers map[domain.CurrencyPair]domain.Ticker
	batches [][]domain.CurrencyPair
}

func (c *tickerCacheStub) SetTicker(_ context.Context, t domain.Ticker) error {
	c.tickers[t.Pair] = t
	return nil
}

func (c *tickerCacheStub) GetTicker(_ context.Context, pair domain.CurrencyPair) (domain.Ticker, error) {
	t, ok := c.tickers[pair]
	if !ok {
		return domain.Ticker{}, domain.ErrNotFound
	}
	return t, nil
}

func (c *tickerCacheStub) GetTickers(_ context.Context, pairs []domain.CurrencyPair) (map[domain.CurrencyPair]domain.Ticker, error) {
	c.batches = append(c.batches, pairs)
	out := make(map[domain.CurrencyPair]domain.Ticker)
	for _, p := range pairs {
		if t, ok := c.tickers[p]; ok {
			out[p] = t
		}
	}
	return out, nil
}

func openedAt(id int64, pair domain.CurrencyPair, amount, price string) domain.Position {
	return domain.Position{
		ID: id, Pair: pair, Amount: dec(amount), Status: domain.PositionOpened,
		OpenTrades: []domain.Trade{{
			ID: "t", Pair: pair, Side: domain.OrderSideBuy,
			Amount: dec(amount), Price: dec(price), Timestamp: time.Now().UTC(),
		}},
	}
}

func TestRiskServiceExposurePricesFromTickers(t *testing.T) {
	ctx := context.Background()
	ltcBTC := domain.NewCurrencyPair("LTC", "BTC")
	cache := &tickerCacheStub{tickers: map[domain.CurrencyPair]domain.Ticker{
		ltcBTC: ticker(ltcBTC, "0.002"),
	}}
	tickers := NewTickerService(cache, nil, testLogger())
	tickers.mu.Lock()
	tickers.latest[ethBTC] = ticker(ethBTC, "0.06")
	tickers.mu.Unlock()

	registry := NewPositionRegistry(memory.NewPositionStore(), testLogger())
	require.NoError(t, registry.Insert(openedAt(1, ethBTC, "2", "0.05")))
	require.NoError(t, registry.Insert(openedAt(2, ltcBTC, "10", "0.001")))
	withTicker := openedAt(3, ethUSDT, "1", "3000")
	last := ticker(ethUSDT, "3100")
	withTicker.LastTicker = &last
	require.NoError(t, registry.Insert(withTicker))
	closed := openedAt(4, ethBTC, "100", "0.05")
	closed.Status = domain.PositionClosed
	require.NoError(t, registry.Insert(closed))

	risk := NewRiskService(registry, tickers, RiskConfig{}, testLogger())
	exposure := risk.Exposure(ctx)

	require.Len(t, exposure, 2)
	assert.True(t, exposure[ethBTC.Quote].Equal(dec("0.14")), exposure[ethBTC.Quote].String())
	assert.True(t, exposure[ethUSDT.Quote].Equal(dec("3100")), exposure[ethUSDT.Quote].String())

	// Only the pairs unknown to this process reach the cache, in one batch.
	require.Len(t, cache.batches, 1)
	assert.ElementsMatch(t, []domain.CurrencyPair{ltcBTC, ethUSDT}, cache.batches[0])
}

func TestLatestManySkipsCacheWhenAllKnown(t *testing.T) {
	ctx := context.Background()
	cache := &tickerCacheStub{tickers: map[domain.CurrencyPair]domain.Ticker{}}
	svc := NewTickerService(cache, nil, testLogger())
	require.NoError(t, svc.HandleTicker(ctx, ticker(ethBTC, "0.05")))

	got := svc.LatestMany(ctx, []domain.CurrencyPair{ethBTC})
	require.Contains(t, got, ethBTC)
	assert.Empty(t, cache.batches)

	got = svc.LatestMany(ctx, []domain.CurrencyPair{ethBTC, ethUSDT})
	assert.Len(t, got, 1)
	assert.Len(t, cache.batches, 1)
}
