package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the venue's record of net exposure for one symbol.
// Qty is signed: positive = long, negative = short.
type Position struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
}

// IsFlat reports whether the position carries no exposure.
func (p Position) IsFlat() bool {
	return p.Qty.IsZero()
}

// CloseSide returns the order side that flattens the position.
func (p Position) CloseSide() Side {
	if p.Qty.IsNegative() {
		return SideBuy
	}
	return SideSell
}

// NetQty sums the signed quantity of every position held in symbol.
func NetQty(positions []Position, symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if p.Symbol == symbol {
			total = total.Add(p.Qty)
		}
	}
	return total
}

// PositionAlert is an unsolicited position-change notification pushed by the feed.
type PositionAlert struct {
	Symbol    string     `json:"symbol"`
	Positions []Position `json:"positions"`
	At        time.Time  `json:"at"`
}

// NetQty returns the alert's net exposure for the alerted symbol.
func (a PositionAlert) NetQty() decimal.Decimal {
	return NetQty(a.Positions, a.Symbol)
}

// HasExposure reports whether the alert carries a nonzero net position.
// Alerts for other symbols never count.
func (a PositionAlert) HasExposure(symbol string) bool {
	if a.Symbol != symbol {
		return false
	}
	return !a.NetQty().IsZero()
}
