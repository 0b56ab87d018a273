package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// AccountFetcher returns the current state of every account.
type AccountFetcher interface {
	FetchAccounts(ctx context.Context) ([]Account, error)
}

// TickerFetcher returns the latest ticker of each requested pair.
type TickerFetcher interface {
	FetchTickers(ctx context.Context, pairs []CurrencyPair) ([]Ticker, error)
}

// OrderFetcher returns the orders known to the exchange.
type OrderFetcher interface {
	FetchOrders(ctx context.Context) ([]Order, error)
}

// TradeFetcher returns the trades known to the exchange.
type TradeFetcher interface {
	FetchTrades(ctx context.Context) ([]Trade, error)
}

// MarketOrderPlacer submits a market order and returns the exchange order id.
type MarketOrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, side OrderSide, pair CurrencyPair, amount decimal.Decimal) (string, error)
}

// Exchange is the full set of capabilities the runtime needs from a venue.
type Exchange interface {
	AccountFetcher
	TickerFetcher
	OrderFetcher
	TradeFetcher
	MarketOrderPlacer
}

// TradingService creates market orders on behalf of positions and strategies.
type TradingService interface {
	CreateBuyMarketOrder(ctx context.Context, pair CurrencyPair, amount decimal.Decimal) OrderCreationResult
	CreateSellMarketOrder(ctx context.Context, pair CurrencyPair, amount decimal.Decimal) OrderCreationResult
}
