package flux

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// Flux names.
const (
	AccountFluxName = "account"
	TickerFluxName  = "ticker"
	OrderFluxName   = "order"
	TradeFluxName   = "trade"
)

type (
	AccountFlux = Flux[string, domain.Account]
	TickerFlux  = Flux[domain.CurrencyPair, domain.Ticker]
	OrderFlux   = Flux[string, domain.Order]
	TradeFlux   = Flux[string, domain.Trade]
)

// PairsFunc returns the pairs whose tickers should be polled.
type PairsFunc func() []domain.CurrencyPair

// NewAccountFlux polls account balances.
func NewAccountFlux(src domain.AccountFetcher, logger *slog.Logger) *AccountFlux {
	return New[string, domain.Account](AccountFluxName, src.FetchAccounts, logger)
}

// NewTickerFlux polls the tickers of the pairs returned by pairs. No fetch
// happens while the pair list is empty.
func NewTickerFlux(src domain.TickerFetcher, pairs PairsFunc, logger *slog.Logger) *TickerFlux {
	fetch := func(ctx context.Context) ([]domain.Ticker, error) {
		requested := pairs()
		if len(requested) == 0 {
			return nil, nil
		}
		return src.FetchTickers(ctx, requested)
	}
	return New[domain.CurrencyPair, domain.Ticker](TickerFluxName, fetch, logger)
}

// NewOrderFlux polls the exchange orders.
func NewOrderFlux(src domain.OrderFetcher, logger *slog.Logger) *OrderFlux {
	return New[string, domain.Order](OrderFluxName, src.FetchOrders, logger)
}

// NewTradeFlux polls the exchange trades.
func NewTradeFlux(src domain.TradeFetcher, logger *slog.Logger) *TradeFlux {
	return New[string, domain.Trade](TradeFluxName, src.FetchTrades, logger)
}

// Set groups the four fluxes the runtime drives.
type Set struct {
	Accounts *AccountFlux
	Tickers  *TickerFlux
	Orders   *OrderFlux
	Trades   *TradeFlux
}

// NewSet builds the four fluxes over one exchange.
func NewSet(ex domain.Exchange, pairs PairsFunc, logger *slog.Logger) *Set {
	return &Set{
		Accounts: NewAccountFlux(ex, logger),
		Tickers:  NewTickerFlux(ex, pairs, logger),
		Orders:   NewOrderFlux(ex, logger),
		Trades:   NewTradeFlux(ex, logger),
	}
}

// Stats returns the counters of every flux keyed by name.
func (s *Set) Stats() map[string]Stats {
	return map[string]Stats{
		AccountFluxName: s.Accounts.Stats(),
		TickerFluxName:  s.Tickers.Stats(),
		OrderFluxName:   s.Orders.Stats(),
		TradeFluxName:   s.Trades.Stats(),
	}
}
