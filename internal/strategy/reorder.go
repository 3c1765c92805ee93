package strategy

import (
	"quote_keeper/internal/domain"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ShouldReorder decides whether the quote computed from ref must be replaced
// now that the market trades at price. It is pure: the result depends only on
// price/ref, side and the thresholds.
//
// The deviation is signed toward the quote: a bid rests below the market so a
// falling price is positive for the buy side; an ask rests above so a rising
// price is positive for the sell side. The quote is replaced when the price
// has run toward it by at least High, away from it by at least High, or has
// come back within Low of the reference.
func ShouldReorder(ref, price decimal.Decimal, side domain.Side, th Thresholds) Decision {
	if ref.IsZero() {
		return Decision{Reorder: true, Reason: ReasonNoQuote}
	}
	if ref.IsNegative() || !price.IsPositive() {
		return Decision{Reorder: true, Reason: ReasonInvalidPrice}
	}

	ratio := price.Div(ref)
	dev := one.Sub(ratio)
	if side == domain.SideSell {
		dev = ratio.Sub(one)
	}

	switch {
	case dev.GreaterThanOrEqual(th.High):
		return Decision{Reorder: true, Reason: ReasonAdverse, Deviation: dev}
	case dev.LessThanOrEqual(th.High.Neg()):
		return Decision{Reorder: true, Reason: ReasonStale, Deviation: dev}
	case dev.Abs().LessThanOrEqual(th.Low):
		return Decision{Reorder: true, Reason: ReasonConverged, Deviation: dev}
	default:
		return Decision{Reorder: false, Reason: ReasonHold, Deviation: dev}
	}
}

// HoldsAtPlacement reports whether a quote placed offset away from the market
// survives the next tick at an unchanged price. When it does not, every tick
// replaces the quote.
func HoldsAtPlacement(offset decimal.Decimal, side domain.Side, th Thresholds) bool {
	ref := one.Sub(offset)
	if side == domain.SideSell {
		ref = one.Add(offset)
	}
	return !ShouldReorder(ref, one, side, th).Reorder
}
