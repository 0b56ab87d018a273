package domain

import "github.com/shopspring/decimal"

// Balance is the holding of one currency inside an account.
type Balance struct {
	Currency  Currency        `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
}

// Account is an exchange account (a wallet) with its balances.
type Account struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Balances []Balance `json:"balances"`
}

// Key identifies the account inside a flux snapshot.
func (a Account) Key() string { return a.ID }

// Equal reports whether two accounts carry the same name and balances in the
// same order.
func (a Account) Equal(o Account) bool {
	if a.ID != o.ID || a.Name != o.Name || len(a.Balances) != len(o.Balances) {
		return false
	}
	for i := range a.Balances {
		x, y := a.Balances[i], o.Balances[i]
		if x.Currency != y.Currency || !x.Total.Equal(y.Total) || !x.Available.Equal(y.Available) {
			return false
		}
	}
	return true
}

// Balance returns the balance held in c, if any.
func (a Account) Balance(c Currency) (Balance, bool) {
	for _, b := range a.Balances {
		if b.Currency == c {
			return b, true
		}
	}
	return Balance{}, false
}
