// Package gain computes the performance of a position from its fills and the
// latest market price.
package gain

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fluxbot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Percentage returns the exact percentage move from entry to current.
// A zero entry price yields zero.
func Percentage(entry, current decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	return current.Sub(entry).Div(entry).Mul(hundred)
}

// Compute builds the gain of amount units bought at entry and valued at
// current. Fees of the given trades are summed in the quote currency; fees
// charged in the base currency are converted at current.
func Compute(pair domain.CurrencyPair, entry, current, amount decimal.Decimal, trades []domain.Trade) domain.Gain {
	pct := Percentage(entry, current).Round(0)
	value := current.Sub(entry).Mul(amount)
	fees := Fees(pair, current, trades)
	return domain.Gain{
		Percentage: pct.InexactFloat64(),
		Amount:     &domain.CurrencyAmount{Value: value, Currency: pair.Quote},
		Fees:       &fees,
	}
}

// Fees sums the known trade fees in the quote currency of pair. The result is
// always provided, zero when no trade reported a fee.
func Fees(pair domain.CurrencyPair, current decimal.Decimal, trades []domain.Trade) domain.CurrencyAmount {
	total := decimal.Zero
	for _, t := range trades {
		if t.Fee == nil {
			continue
		}
		switch t.Fee.Currency {
		case pair.Quote:
			total = total.Add(t.Fee.Value)
		case pair.Base:
			total = total.Add(t.Fee.Value.Mul(current))
		}
	}
	return domain.CurrencyAmount{Value: total, Currency: pair.Quote}
}

// ForPosition computes the gain of p. A closed position is valued at its exit
// price; otherwise the last ticker is used. Without an entry price or a
// valuation price the gain is "not computed": zero percent, nil amount and
// fees.
func ForPosition(p domain.Position) domain.Gain {
	entry, ok := p.EntryPrice()
	if !ok {
		return domain.Gain{}
	}

	var current decimal.Decimal
	switch {
	case p.Status == domain.PositionClosed && len(p.CloseTrades) > 0:
		current, _ = p.ExitPrice()
	case p.LastTicker != nil:
		current = p.LastTicker.Last
	default:
		return domain.Gain{}
	}

	trades := make([]domain.Trade, 0, len(p.OpenTrades)+len(p.CloseTrades))
	trades = append(trades, p.OpenTrades...)
	trades = append(trades, p.CloseTrades...)
	return Compute(p.Pair, entry, current, p.TradedAmount(), trades)
}

// StopGainReached reports whether the exact move pct meets the stop gain rule.
func StopGainReached(rules domain.PositionRules, pct decimal.Decimal) bool {
	if rules.StopGainPercentage == nil {
		return false
	}
	return pct.GreaterThanOrEqual(decimal.NewFromFloat(*rules.StopGainPercentage))
}

// StopLossReached reports whether the exact move pct meets the stop loss rule.
func StopLossReached(rules domain.PositionRules, pct decimal.Decimal) bool {
	if rules.StopLossPercentage == nil {
		return false
	}
	return pct.LessThanOrEqual(decimal.NewFromFloat(*rules.StopLossPercentage).Neg())
}
