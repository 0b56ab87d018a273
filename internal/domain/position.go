package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle stage of a position.
type PositionStatus string

const (
	PositionOpening PositionStatus = "OPENING"
	PositionOpened  PositionStatus = "OPENED"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

var positionLifecycle = map[PositionStatus]PositionStatus{
	PositionOpening: PositionOpened,
	PositionOpened:  PositionClosing,
	PositionClosing: PositionClosed,
}

// CanTransitionTo reports whether next is the single successor of s.
func (s PositionStatus) CanTransitionTo(next PositionStatus) bool {
	succ, ok := positionLifecycle[s]
	return ok && succ == next
}

// Valid reports whether s is one of the four lifecycle states.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionOpening, PositionOpened, PositionClosing, PositionClosed:
		return true
	}
	return false
}

// PositionRules holds the optional exit thresholds, in whole percent.
type PositionRules struct {
	StopGainPercentage *float64 `json:"stop_gain_percentage,omitempty"`
	StopLossPercentage *float64 `json:"stop_loss_percentage,omitempty"`
}

// StopGainRule returns rules with only a stop gain set.
func StopGainRule(pct float64) PositionRules {
	return PositionRules{StopGainPercentage: &pct}
}

// StopLossRule returns rules with only a stop loss set.
func StopLossRule(pct float64) PositionRules {
	return PositionRules{StopLossPercentage: &pct}
}

// WithStopGain returns a copy of r with a stop gain set.
func (r PositionRules) WithStopGain(pct float64) PositionRules {
	r.StopGainPercentage = &pct
	return r
}

// WithStopLoss returns a copy of r with a stop loss set.
func (r PositionRules) WithStopLoss(pct float64) PositionRules {
	r.StopLossPercentage = &pct
	return r
}

func (r PositionRules) String() string {
	out := "no rules"
	if r.StopGainPercentage != nil {
		out = fmt.Sprintf("stop gain %g%%", *r.StopGainPercentage)
	}
	if r.StopLossPercentage != nil {
		if r.StopGainPercentage != nil {
			return fmt.Sprintf("%s / stop loss %g%%", out, *r.StopLossPercentage)
		}
		out = fmt.Sprintf("stop loss %g%%", *r.StopLossPercentage)
	}
	return out
}

// Gain is the latest computed performance of a position. Amount and Fees are
// nil until they can be computed.
type Gain struct {
	Percentage float64         `json:"percentage"`
	Amount     *CurrencyAmount `json:"amount,omitempty"`
	Fees       *CurrencyAmount `json:"fees,omitempty"`
}

// Position is a bought amount of a currency pair tracked until it is sold
// again by one of its rules.
type Position struct {
	ID           int64           `json:"id"`
	Pair         CurrencyPair    `json:"pair"`
	Amount       decimal.Decimal `json:"amount"`
	Rules        PositionRules   `json:"rules"`
	Status       PositionStatus  `json:"status"`
	OpenOrderID  string          `json:"open_order_id"`
	CloseOrderID string          `json:"close_order_id,omitempty"`
	OpenTrades   []Trade         `json:"open_trades,omitempty"`
	CloseTrades  []Trade         `json:"close_trades,omitempty"`
	LastTicker   *Ticker         `json:"last_ticker,omitempty"`
	Gain         Gain            `json:"gain"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to readers.
func (p Position) Clone() Position {
	out := p
	out.OpenTrades = append([]Trade(nil), p.OpenTrades...)
	out.CloseTrades = append([]Trade(nil), p.CloseTrades...)
	if p.LastTicker != nil {
		t := *p.LastTicker
		out.LastTicker = &t
	}
	if p.Rules.StopGainPercentage != nil {
		v := *p.Rules.StopGainPercentage
		out.Rules.StopGainPercentage = &v
	}
	if p.Rules.StopLossPercentage != nil {
		v := *p.Rules.StopLossPercentage
		out.Rules.StopLossPercentage = &v
	}
	if p.Gain.Amount != nil {
		a := *p.Gain.Amount
		out.Gain.Amount = &a
	}
	if p.Gain.Fees != nil {
		f := *p.Gain.Fees
		out.Gain.Fees = &f
	}
	return out
}

// HasTrade reports whether the trade id has already been applied.
func (p Position) HasTrade(tradeID string) bool {
	for _, t := range p.OpenTrades {
		if t.ID == tradeID {
			return true
		}
	}
	for _, t := range p.CloseTrades {
		if t.ID == tradeID {
			return true
		}
	}
	return false
}

// EntryPrice is the volume-weighted price of the opening fills.
func (p Position) EntryPrice() (decimal.Decimal, bool) {
	return averagePrice(p.OpenTrades)
}

// ExitPrice is the volume-weighted price of the closing fills.
func (p Position) ExitPrice() (decimal.Decimal, bool) {
	return averagePrice(p.CloseTrades)
}

// TradedAmount is the filled opening amount, or the requested amount when no
// fill carried one.
func (p Position) TradedAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range p.OpenTrades {
		sum = sum.Add(t.Amount)
	}
	if sum.IsPositive() {
		return sum
	}
	return p.Amount
}

func averagePrice(trades []Trade) (decimal.Decimal, bool) {
	if len(trades) == 0 {
		return decimal.Zero, false
	}
	notional, volume := decimal.Zero, decimal.Zero
	for _, t := range trades {
		notional = notional.Add(t.Price.Mul(t.Amount))
		volume = volume.Add(t.Amount)
	}
	if volume.IsZero() {
		return trades[len(trades)-1].Price, true
	}
	return notional.Div(volume), true
}

// Snapshot is the lossy durable form of a position.
func (p Position) Snapshot() PositionSnapshot {
	return PositionSnapshot{
		ID:           p.ID,
		Pair:         p.Pair,
		Amount:       p.Amount,
		Rules:        p.Clone().Rules,
		Status:       p.Status,
		OpenOrderID:  p.OpenOrderID,
		CloseOrderID: p.CloseOrderID,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// PositionSnapshot is what survives a restart: identity, pair, amount, rules,
// order ids and status. Trades, ticker and gain are rebuilt from the fluxes.
type PositionSnapshot struct {
	ID           int64           `json:"id"`
	Pair         CurrencyPair    `json:"pair"`
	Amount       decimal.Decimal `json:"amount"`
	Rules        PositionRules   `json:"rules"`
	Status       PositionStatus  `json:"status"`
	OpenOrderID  string          `json:"open_order_id"`
	CloseOrderID string          `json:"close_order_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Position rebuilds a position from its snapshot.
func (s PositionSnapshot) Position() Position {
	p := Position{
		ID:           s.ID,
		Pair:         s.Pair,
		Amount:       s.Amount,
		Rules:        s.Rules,
		Status:       s.Status,
		OpenOrderID:  s.OpenOrderID,
		CloseOrderID: s.CloseOrderID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	return p.Clone()
}

// PositionCreationResult is the outcome of a position creation request.
type PositionCreationResult struct {
	Successful   bool
	PositionID   int64
	OpenOrderID  string
	ErrorMessage string
	Err          error
}
