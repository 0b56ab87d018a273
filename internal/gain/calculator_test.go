package gain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

var ethBTC = domain.NewCurrencyPair("ETH", "BTC")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openedPosition(entry, amount string) domain.Position {
	return domain.Position{
		ID:     1,
		Pair:   ethBTC,
		Amount: d(amount),
		Status: domain.PositionOpened,
		OpenTrades: []domain.Trade{{
			ID: "T1", OrderID: "ORDER00010", Pair: ethBTC, Side: domain.OrderSideBuy,
			Amount: d(amount), Price: d(entry), Timestamp: time.Now(),
		}},
	}
}

func TestForPositionWithoutTickerIsNotComputed(t *testing.T) {
	g := ForPosition(openedPosition("0.2", "0.0001"))
	assert.Zero(t, g.Percentage)
	assert.Nil(t, g.Amount)
	assert.Nil(t, g.Fees)

	g = ForPosition(domain.Position{Pair: ethBTC, Status: domain.PositionOpening})
	assert.Zero(t, g.Percentage)
	assert.Nil(t, g.Amount)
}

func TestForPositionFiftyPercent(t *testing.T) {
	p := openedPosition("0.2", "0.0001")
	p.LastTicker = &domain.Ticker{Pair: ethBTC, Last: d("0.3")}

	g := ForPosition(p)
	assert.Equal(t, 50.0, g.Percentage)
	require.NotNil(t, g.Amount)
	assert.True(t, g.Amount.Value.Equal(d("0.00001")), g.Amount.Value.String())
	assert.Equal(t, domain.Currency("BTC"), g.Amount.Currency)
	require.NotNil(t, g.Fees)
	assert.True(t, g.Fees.Value.IsZero())
	assert.Equal(t, domain.Currency("BTC"), g.Fees.Currency)
}

func TestForPositionLoss(t *testing.T) {
	p := openedPosition("0.2", "1")
	p.LastTicker = &domain.Ticker{Pair: ethBTC, Last: d("0.15")}

	g := ForPosition(p)
	assert.Equal(t, -25.0, g.Percentage)
	assert.True(t, g.Amount.Value.Equal(d("-0.05")))
}

func TestForClosedPositionUsesExitPrice(t *testing.T) {
	p := openedPosition("0.2", "0.0001")
	p.Status = domain.PositionClosed
	p.LastTicker = &domain.Ticker{Pair: ethBTC, Last: d("0.9")}
	p.CloseTrades = []domain.Trade{{ID: "T2", OrderID: "ORDER00011", Pair: ethBTC, Amount: d("0.0001"), Price: d("0.4")}}

	g := ForPosition(p)
	assert.Equal(t, 100.0, g.Percentage)
	assert.True(t, g.Amount.Value.Equal(d("0.00002")))
}

func TestFeesConvertsBaseCurrency(t *testing.T) {
	trades := []domain.Trade{
		{Fee: &domain.CurrencyAmount{Value: d("0.001"), Currency: "BTC"}},
		{Fee: &domain.CurrencyAmount{Value: d("0.01"), Currency: "ETH"}},
		{Fee: &domain.CurrencyAmount{Value: d("5"), Currency: "USDT"}},
		{},
	}
	fees := Fees(ethBTC, d("0.5"), trades)
	assert.True(t, fees.Value.Equal(d("0.006")), fees.Value.String())
	assert.Equal(t, domain.Currency("BTC"), fees.Currency)
}

func TestPercentageRounding(t *testing.T) {
	assert.True(t, Percentage(d("3"), d("4")).Round(0).Equal(d("33")))
	assert.True(t, Percentage(d("0"), d("4")).IsZero())
}

func TestRules(t *testing.T) {
	rules := domain.StopGainRule(100).WithStopLoss(20)

	assert.True(t, StopGainReached(rules, d("100")))
	assert.True(t, StopGainReached(rules, d("150")))
	assert.False(t, StopGainReached(rules, d("99.6")))
	assert.True(t, StopLossReached(rules, d("-20")))
	assert.False(t, StopLossReached(rules, d("-19.9")))

	assert.False(t, StopGainReached(domain.PositionRules{}, d("1000")))
	assert.False(t, StopLossReached(domain.PositionRules{}, d("-1000")))
}
