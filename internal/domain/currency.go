package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an upper-case currency code such as "BTC".
type Currency string

// NewCurrency normalises a currency code.
func NewCurrency(code string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(code)))
}

func (c Currency) String() string { return string(c) }

// CurrencyPair is a market identified by its base and quote currencies.
// Prices are expressed in the quote currency.
type CurrencyPair struct {
	Base  Currency
	Quote Currency
}

// NewCurrencyPair builds a pair from two codes.
func NewCurrencyPair(base, quote string) CurrencyPair {
	return CurrencyPair{Base: NewCurrency(base), Quote: NewCurrency(quote)}
}

// ParseCurrencyPair parses "ETH/BTC" (or "ETH-BTC") into a CurrencyPair.
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return CurrencyPair{}, fmt.Errorf("domain: parse currency pair %q: %w", s, ErrUnknownPair)
	}
	return NewCurrencyPair(parts[0], parts[1]), nil
}

// String returns the "BASE/QUOTE" form.
func (p CurrencyPair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// IsZero reports whether the pair is unset.
func (p CurrencyPair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// MarshalText lets pairs be used as JSON strings and map keys.
func (p CurrencyPair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *CurrencyPair) UnmarshalText(text []byte) error {
	parsed, err := ParseCurrencyPair(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// CurrencyAmount is a decimal value tagged with its currency.
type CurrencyAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

// Zero returns a zero amount in c.
func Zero(c Currency) CurrencyAmount {
	return CurrencyAmount{Value: decimal.Zero, Currency: c}
}

// Equal compares value and currency.
func (a CurrencyAmount) Equal(o CurrencyAmount) bool {
	return a.Currency == o.Currency && a.Value.Equal(o.Value)
}

func (a CurrencyAmount) String() string {
	return a.Value.String() + " " + string(a.Currency)
}
