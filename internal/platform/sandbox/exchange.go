// Package sandbox is an in-memory exchange. Market orders fill immediately
// at the current price, producing one order and one trade.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

const componentName = "exchange.sandbox"

type market struct {
	last    decimal.Decimal
	high    decimal.Decimal
	low     decimal.Decimal
	volume  decimal.Decimal
	updated time.Time
}

// Exchange implements domain.Exchange in memory.
type Exchange struct {
	mu sync.Mutex

	accountID   string
	accountName string
	balances    map[domain.Currency]decimal.Decimal
	markets     map[domain.CurrencyPair]*market

	feeRate    decimal.Decimal
	spread     decimal.Decimal
	volatility float64
	seed       int64
	rng        *rand.Rand

	orders []domain.Order
	trades []domain.Trade

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

var _ domain.Exchange = (*Exchange)(nil)

// New creates a sandbox exchange.
func New(options ...Option) *Exchange {
	e := &Exchange{
		accountID:   "sandbox",
		accountName: "Sandbox",
		balances:    make(map[domain.Currency]decimal.Decimal),
		markets:     make(map[domain.CurrencyPair]*market),
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
		logger:      slog.Default(),
	}
	for _, option := range options {
		option(e)
	}
	e.rng = rand.New(rand.NewSource(e.seed))
	for _, m := range e.markets {
		m.updated = e.now()
	}
	e.logger = e.logger.With(slog.String("component", componentName))
	return e
}

// SetPrice moves a listed pair to price.
func (e *Exchange) SetPrice(pair domain.CurrencyPair, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[pair]
	if !ok {
		return fmt.Errorf("sandbox: set price %s: %w", pair, domain.ErrUnknownPair)
	}
	m.move(price, e.now())
	return nil
}

// FetchAccounts returns the single simulated account, balances sorted by
// currency.
func (e *Exchange) FetchAccounts(_ context.Context) ([]domain.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := make([]domain.Balance, 0, len(e.balances))
	for c, v := range e.balances {
		balances = append(balances, domain.Balance{Currency: c, Total: v, Available: v})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return []domain.Account{{ID: e.accountID, Name: e.accountName, Balances: balances}}, nil
}

// FetchTickers returns tickers for the requested pairs. Unlisted pairs are
// skipped. With volatility configured, each fetch moves the price first.
func (e *Exchange) FetchTickers(_ context.Context, pairs []domain.CurrencyPair) ([]domain.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Ticker, 0, len(pairs))
	for _, p := range pairs {
		m, ok := e.markets[p]
		if !ok {
			e.logger.Debug("sandbox: ticker requested for unlisted pair", slog.String("pair", p.String()))
			continue
		}
		if e.volatility > 0 {
			step := decimal.NewFromFloat(1 + e.volatility*(e.rng.Float64()*2-1))
			m.move(m.last.Mul(step).Round(8), e.now())
		}
		out = append(out, e.tickerLocked(p, m))
	}
	return out, nil
}

// FetchOrders returns every order placed so far, oldest first.
func (e *Exchange) FetchOrders(_ context.Context) ([]domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Order(nil), e.orders...), nil
}

// FetchTrades returns every fill so far, oldest first.
func (e *Exchange) FetchTrades(_ context.Context) ([]domain.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Trade, len(e.trades))
	for i, t := range e.trades {
		if t.Fee != nil {
			fee := *t.Fee
			t.Fee = &fee
		}
		out[i] = t
	}
	return out, nil
}

// PlaceMarketOrder fills amount of pair at the current price. Buys are
// funded from the quote balance, sells from the base balance; the fee is
// always charged in the quote currency.
func (e *Exchange) PlaceMarketOrder(ctx context.Context, side domain.OrderSide, pair domain.CurrencyPair, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("sandbox: %s %s %s: %w", side, amount, pair, domain.ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.markets[pair]
	if !ok {
		return "", fmt.Errorf("sandbox: %s %s: %w", side, pair, domain.ErrUnknownPair)
	}

	price := m.last
	notional := amount.Mul(price)
	fee := notional.Mul(e.feeRate)

	switch side {
	case domain.OrderSideBuy:
		cost := notional.Add(fee)
		if e.balances[pair.Quote].LessThan(cost) {
			return "", fmt.Errorf("sandbox: buy %s %s needs %s %s: %w", amount, pair, cost, pair.Quote, domain.ErrInsufficientFunds)
		}
		e.balances[pair.Quote] = e.balances[pair.Quote].Sub(cost)
		e.balances[pair.Base] = e.balances[pair.Base].Add(amount)
	case domain.OrderSideSell:
		if e.balances[pair.Base].LessThan(amount) {
			return "", fmt.Errorf("sandbox: sell %s %s: %w", amount, pair, domain.ErrInsufficientFunds)
		}
		e.balances[pair.Base] = e.balances[pair.Base].Sub(amount)
		e.balances[pair.Quote] = e.balances[pair.Quote].Add(notional.Sub(fee))
	default:
		return "", fmt.Errorf("sandbox: unknown side %q: %w", side, domain.ErrInvalidOrder)
	}

	now := e.now()
	order := domain.Order{
		ID:             e.newID(),
		Side:           side,
		Type:           domain.OrderTypeMarket,
		Pair:           pair,
		OriginalAmount: amount,
		FilledAmount:   amount,
		AveragePrice:   price,
		Status:         domain.OrderStatusFilled,
		Timestamp:      now,
	}
	e.orders = append(e.orders, order)
	e.trades = append(e.trades, domain.Trade{
		ID:        e.newID(),
		OrderID:   order.ID,
		Side:      side,
		Pair:      pair,
		Amount:    amount,
		Price:     price,
		Fee:       &domain.CurrencyAmount{Value: fee, Currency: pair.Quote},
		Timestamp: now,
	})
	m.volume = m.volume.Add(amount)
	m.updated = now

	e.logger.InfoContext(ctx, "sandbox: market order filled",
		slog.String("order_id", order.ID),
		slog.String("side", string(side)),
		slog.String("pair", pair.String()),
		slog.String("amount", amount.String()),
		slog.String("price", price.String()),
	)
	return order.ID, nil
}

// tickerLocked stamps the ticker with the market's last change, so polling
// an idle market yields identical tickers.
func (e *Exchange) tickerLocked(p domain.CurrencyPair, m *market) domain.Ticker {
	half := m.last.Mul(e.spread).Div(decimal.NewFromInt(2))
	return domain.Ticker{
		Pair:      p,
		Last:      m.last,
		Bid:       m.last.Sub(half),
		Ask:       m.last.Add(half),
		High:      m.high,
		Low:       m.low,
		Volume:    m.volume,
		Timestamp: m.updated,
	}
}

func (m *market) move(price decimal.Decimal, at time.Time) {
	m.last = price
	m.updated = at
	if price.GreaterThan(m.high) {
		m.high = price
	}
	if price.LessThan(m.low) {
		m.low = price
	}
}
