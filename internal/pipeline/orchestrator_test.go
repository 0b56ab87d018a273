package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/flux"
	"github.com/alanyoungcy/fluxbot/internal/platform/sandbox"
	"github.com/alanyoungcy/fluxbot/internal/scheduler"
)

var ethBTC = domain.NewCurrencyPair("ETH", "BTC")

func newSet(t *testing.T) (*flux.Set, *sandbox.Exchange) {
	t.Helper()
	ex := sandbox.New(
		sandbox.WithBalance("BTC", decimal.NewFromInt(1)),
		sandbox.WithPrice(ethBTC, decimal.RequireFromString("0.2")),
	)
	pairs := func() []domain.CurrencyPair { return []domain.CurrencyPair{ethBTC} }
	return flux.NewSet(ex, pairs, slog.Default()), ex
}

func TestTradeJobPollsOrdersBeforeTrades(t *testing.T) {
	set, ex := newSet(t)
	_, err := ex.PlaceMarketOrder(context.Background(), domain.OrderSideBuy, ethBTC, decimal.NewFromInt(1))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	set.Orders.Subscribe("test", func(_ context.Context, o domain.Order) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "order")
		return nil
	})
	set.Trades.Subscribe("test", func(_ context.Context, tr domain.Trade) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "trade")
		return nil
	})

	o := NewOrchestrator(scheduler.New(slog.Default()), set, Intervals{}, nil, "", slog.Default())
	jobs := o.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, flux.TradeFluxName, jobs[2].Name())
	require.NoError(t, jobs[2].Run(context.Background()))

	assert.Equal(t, []string{"order", "trade"}, seen)
}

func TestRegisterRejectsMissingInterval(t *testing.T) {
	set, _ := newSet(t)
	o := NewOrchestrator(scheduler.New(slog.Default()), set, Intervals{Account: time.Second, Ticker: time.Second}, nil, "", slog.Default())
	require.Error(t, o.Register())
}

func TestRegisterAddsArchiveJob(t *testing.T) {
	set, _ := newSet(t)
	sched := scheduler.New(slog.Default())
	archiver := NewArchiver(stubArchiver{}, 24*time.Hour, slog.Default())
	o := NewOrchestrator(sched, set, Intervals{Account: time.Second, Ticker: time.Second, Trade: time.Second}, archiver, "0 0 3 * * *", slog.Default())
	require.NoError(t, o.Register())

	names := make([]string, 0)
	for _, e := range sched.Entries() {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"account", "ticker", "trade", ArchiveJobName}, names)
}

type failingFeed struct{}

func (failingFeed) Run(context.Context) error { return errors.New("socket closed") }

func TestRunStopsWhenFeedFails(t *testing.T) {
	set, _ := newSet(t)
	o := NewOrchestrator(scheduler.New(slog.Default()), set, Intervals{Account: time.Second, Ticker: time.Second, Trade: time.Second}, nil, "", slog.Default())
	require.NoError(t, o.Register())
	o.AddFeed(failingFeed{})

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket closed")
	assert.GreaterOrEqual(t, set.Tickers.Stats().Updates, int64(1))
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	set, _ := newSet(t)
	o := NewOrchestrator(scheduler.New(slog.Default()), set, Intervals{Account: time.Second, Ticker: time.Second, Trade: time.Second}, nil, "", slog.Default())
	require.NoError(t, o.Register())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.Run(ctx))
}
