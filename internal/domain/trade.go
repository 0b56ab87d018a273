package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an execution (fill) of an order. Trades are immutable once
// observed.
type Trade struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Side      OrderSide       `json:"side"`
	Pair      CurrencyPair    `json:"pair"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Fee       *CurrencyAmount `json:"fee,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Key identifies the trade inside a flux snapshot.
func (t Trade) Key() string { return t.ID }

// Equal reports whether two observations of a trade are identical.
func (t Trade) Equal(o Trade) bool {
	if (t.Fee == nil) != (o.Fee == nil) {
		return false
	}
	if t.Fee != nil && !t.Fee.Equal(*o.Fee) {
		return false
	}
	return t.ID == o.ID &&
		t.OrderID == o.OrderID &&
		t.Side == o.Side &&
		t.Pair == o.Pair &&
		t.Amount.Equal(o.Amount) &&
		t.Price.Equal(o.Price) &&
		t.Timestamp.Equal(o.Timestamp)
}
