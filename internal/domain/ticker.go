package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is the last market data observed for a currency pair. A newer ticker
// for the same pair supersedes the previous one.
type Ticker struct {
	Pair      CurrencyPair    `json:"pair"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Key identifies the ticker inside a flux snapshot.
func (t Ticker) Key() CurrencyPair { return t.Pair }

// Equal reports whether two tickers carry identical market data.
func (t Ticker) Equal(o Ticker) bool {
	return t.Pair == o.Pair &&
		t.Last.Equal(o.Last) &&
		t.Bid.Equal(o.Bid) &&
		t.Ask.Equal(o.Ask) &&
		t.High.Equal(o.High) &&
		t.Low.Equal(o.Low) &&
		t.Volume.Equal(o.Volume) &&
		t.Timestamp.Equal(o.Timestamp)
}
