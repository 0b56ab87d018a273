package sandbox

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

// Option configures an Exchange.
type Option func(*Exchange)

// WithAccount sets the identity of the single simulated account.
func WithAccount(id, name string) Option {
	return func(e *Exchange) {
		e.accountID = id
		e.accountName = name
	}
}

// WithBalance credits a starting balance.
func WithBalance(currency domain.Currency, amount decimal.Decimal) Option {
	return func(e *Exchange) {
		e.balances[currency] = amount
	}
}

// WithPrice lists a pair at a starting price.
func WithPrice(pair domain.CurrencyPair, price decimal.Decimal) Option {
	return func(e *Exchange) {
		e.markets[pair] = &market{last: price, high: price, low: price}
	}
}

// WithFeeRate sets the fee charged in the quote currency on every fill, as
// a fraction of the notional (0.001 = 0.1%).
func WithFeeRate(rate decimal.Decimal) Option {
	return func(e *Exchange) {
		e.feeRate = rate
	}
}

// WithSpread sets the relative distance between bid and ask.
func WithSpread(spread decimal.Decimal) Option {
	return func(e *Exchange) {
		e.spread = spread
	}
}

// WithVolatility makes every ticker fetch move each price by a uniform
// random fraction in [-v, v].
func WithVolatility(v float64, seed int64) Option {
	return func(e *Exchange) {
		e.volatility = v
		e.seed = seed
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		e.now = now
	}
}

// WithIDGenerator overrides the uuid order and trade identifiers.
func WithIDGenerator(next func() string) Option {
	return func(e *Exchange) {
		e.newID = next
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) {
		e.logger = logger
	}
}
