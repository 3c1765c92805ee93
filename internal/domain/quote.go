package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus tracks how far a placement got.
type QuoteStatus string

const (
	QuoteSubmitted  QuoteStatus = "submitted"
	QuoteVerified   QuoteStatus = "verified"
	QuoteUnverified QuoteStatus = "unverified"
)

// Quote is the single resting limit order the engine believes is live.
//
// ReferencePrice is what the reorder policy measures market drift against.
// It is committed only after the order was seen resting, and equals the
// submitted limit price.
type Quote struct {
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Price          decimal.Decimal `json:"price"`
	Qty            decimal.Decimal `json:"qty"`
	ClientOID      string          `json:"client_oid"`
	OrderID        string          `json:"order_id"`
	Status         QuoteStatus     `json:"status"`
	PlacedAt       time.Time       `json:"placed_at"`
}
