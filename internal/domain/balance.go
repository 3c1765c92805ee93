package domain

import "github.com/shopspring/decimal"

// Balance is the futures account balance in the margin coin.
type Balance struct {
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Equity    decimal.Decimal `json:"equity"`
}

// CanFund reports whether there is any margin left to back a new quote.
// A non-positive available balance is "nothing to do", not an error.
func (b Balance) CanFund() bool {
	return b.Available.IsPositive()
}
