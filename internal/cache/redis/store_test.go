package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: srv.Addr(), KeyPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTickerCacheGetTickersBatches(t *testing.T) {
	ctx := context.Background()
	tc := NewTickerCache(newTestClient(t), time.Minute)
	ethBTC := domain.NewCurrencyPair("ETH", "BTC")
	ltcBTC := domain.NewCurrencyPair("LTC", "BTC")
	xrpBTC := domain.NewCurrencyPair("XRP", "BTC")

	for _, tk := range []domain.Ticker{
		{Pair: ethBTC, Last: decimal.RequireFromString("0.05"), Timestamp: time.Unix(1700000000, 0).UTC()},
		{Pair: ltcBTC, Last: decimal.RequireFromString("0.002"), Timestamp: time.Unix(1700000000, 0).UTC()},
	} {
		require.NoError(t, tc.SetTicker(ctx, tk))
	}

	got, err := tc.GetTickers(ctx, []domain.CurrencyPair{ethBTC, ltcBTC, xrpBTC})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[ethBTC].Last.Equal(decimal.RequireFromString("0.05")))
	assert.True(t, got[ltcBTC].Last.Equal(decimal.RequireFromString("0.002")))
	assert.NotContains(t, got, xrpBTC)

	empty, err := tc.GetTickers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSignalBusStreamRead(t *testing.T) {
	ctx := context.Background()
	sb := NewSignalBus(newTestClient(t))
	for _, p := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, sb.StreamAppend(ctx, domain.StreamPositions, []byte(p)))
	}

	all, err := sb.StreamRead(ctx, domain.StreamPositions, "0", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, `{"n":1}`, string(all[0].Payload))

	after, err := sb.StreamRead(ctx, domain.StreamPositions, all[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, `{"n":3}`, string(after[0].Payload))

	tail, err := sb.StreamRead(ctx, domain.StreamPositions, "", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, `{"n":2}`, string(tail[0].Payload), "tail is oldest first")
	assert.Equal(t, `{"n":3}`, string(tail[1].Payload))

	none, err := sb.StreamRead(ctx, "stream:empty", "", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLockManagerAcquire(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager(newTestClient(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	unlock, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "archive", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "archive", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiterAllowAndWait(t *testing.T) {
	ctx := context.Background()
	window := 200 * time.Millisecond
	rl := NewRateLimiter(newTestClient(t), 1, window)

	ok, err := rl.Allow(ctx, "orders", 1, window)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = rl.Allow(ctx, "orders", 1, window)
	require.NoError(t, err)
	assert.False(t, ok)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(short, "orders"), context.DeadlineExceeded)

	long, cancelLong := context.WithTimeout(ctx, 2*time.Second)
	defer cancelLong()
	start := time.Now()
	require.NoError(t, rl.Wait(long, "orders"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
