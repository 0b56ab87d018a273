package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle on the exchange.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order is an order as reported by the exchange.
type Order struct {
	ID             string          `json:"id"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Pair           CurrencyPair    `json:"pair"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	FilledAmount   decimal.Decimal `json:"filled_amount"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	Status         OrderStatus     `json:"status"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Key identifies the order inside a flux snapshot.
func (o Order) Key() string { return o.ID }

// Equal reports whether two observations of an order are identical.
func (o Order) Equal(x Order) bool {
	return o.ID == x.ID &&
		o.Side == x.Side &&
		o.Type == x.Type &&
		o.Pair == x.Pair &&
		o.OriginalAmount.Equal(x.OriginalAmount) &&
		o.FilledAmount.Equal(x.FilledAmount) &&
		o.AveragePrice.Equal(x.AveragePrice) &&
		o.Status == x.Status &&
		o.Timestamp.Equal(x.Timestamp)
}

// OrderCreationResult is the outcome of a market order request. A rejected
// order is a value, not an error: callers inspect Successful.
type OrderCreationResult struct {
	Successful   bool
	OrderID      string
	ErrorMessage string
	Err          error
}

// OrderCreated builds a successful result.
func OrderCreated(orderID string) OrderCreationResult {
	return OrderCreationResult{Successful: true, OrderID: orderID}
}

// OrderRejected builds a failed result carrying the exchange message and cause.
func OrderRejected(message string, err error) OrderCreationResult {
	return OrderCreationResult{ErrorMessage: message, Err: err}
}
