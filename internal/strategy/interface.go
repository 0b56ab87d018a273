// Package strategy hosts the trading strategies and the engine that feeds
// them flux and position events.
package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// Strategy receives every flux delta and every position event. Handlers run
// synchronously on the dispatching goroutine and must not block for long.
type Strategy interface {
	Name() string
	// RequestedCurrencyPairs lists the pairs whose tickers the strategy
	// wants polled.
	RequestedCurrencyPairs() []domain.CurrencyPair
	OnAccountUpdate(ctx context.Context, account domain.Account) error
	OnTickerUpdate(ctx context.Context, ticker domain.Ticker) error
	OnOrderUpdate(ctx context.Context, order domain.Order) error
	OnTradeUpdate(ctx context.Context, trade domain.Trade) error
	OnPositionUpdate(ctx context.Context, evt domain.PositionEvent) error
}

// PositionManager is the part of the position controller strategies use.
type PositionManager interface {
	CreatePosition(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal, rules domain.PositionRules) (domain.PositionCreationResult, error)
	GetPositions() []domain.Position
}

// RiskChecker vets a position before it is opened.
type RiskChecker interface {
	PreCreateCheck(ctx context.Context, pair domain.CurrencyPair, amount decimal.Decimal) error
}

// Config holds strategy configuration.
type Config struct {
	Name     string
	Pairs    []domain.CurrencyPair
	Size     decimal.Decimal
	StopGain *float64
	StopLoss *float64
	Params   map[string]any
}

// Rules returns the stop rules new positions are opened with.
func (c Config) Rules() domain.PositionRules {
	return domain.PositionRules{StopGainPercentage: c.StopGain, StopLossPercentage: c.StopLoss}
}

// floatParam reads a numeric parameter, accepting the integer and float
// types a TOML decoder produces.
func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return def
	}
}

// BasicStrategy implements every handler as a no-op. Embed it and override
// what the strategy cares about.
type BasicStrategy struct {
	pairs []domain.CurrencyPair
}

// NewBasicStrategy requests tickers for pairs.
func NewBasicStrategy(pairs []domain.CurrencyPair) BasicStrategy {
	return BasicStrategy{pairs: append([]domain.CurrencyPair(nil), pairs...)}
}

func (b BasicStrategy) RequestedCurrencyPairs() []domain.CurrencyPair {
	return append([]domain.CurrencyPair(nil), b.pairs...)
}

func (BasicStrategy) OnAccountUpdate(context.Context, domain.Account) error { return nil }
func (BasicStrategy) OnTickerUpdate(context.Context, domain.Ticker) error { return nil }
func (BasicStrategy) OnOrderUpdate(context.Context, domain.Order) error { return nil }
func (BasicStrategy) OnTradeUpdate(context.Context, domain.Trade) error { return nil }
func (BasicStrategy) OnPositionUpdate(context.Context, domain.PositionEvent) error { return nil }

// ReadOnlyPositions wraps pm so that CreatePosition always fails. Monitor
// mode hands this to strategies.
func ReadOnlyPositions(pm PositionManager) PositionManager {
	return readOnlyPositions{pm}
}

type readOnlyPositions struct {
	PositionManager
}

func (readOnlyPositions) CreatePosition(_ context.Context, pair domain.CurrencyPair, amount decimal.Decimal, _ domain.PositionRules) (domain.PositionCreationResult, error) {
	return domain.PositionCreationResult{
		ErrorMessage: fmt.Sprintf("monitor mode: not opening %s %s", amount, pair),
	}, nil
}
