package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Reason explains a reorder decision.
type Reason int

const (
	ReasonHold         Reason = iota // inside the dead-band
	ReasonNoQuote                    // no reference price yet
	ReasonInvalidPrice               // zero or negative input
	ReasonAdverse                    // price ran toward the quote
	ReasonStale                      // price ran away, quote left behind
	ReasonConverged                  // price came back too close to the reference
)

// String returns the string representation of Reason
func (r Reason) String() string {
	switch r {
	case ReasonHold:
		return "hold"
	case ReasonNoQuote:
		return "no_quote"
	case ReasonInvalidPrice:
		return "invalid_price"
	case ReasonAdverse:
		return "adverse"
	case ReasonStale:
		return "stale"
	case ReasonConverged:
		return "converged"
	default:
		return "unknown"
	}
}

// Decision is the outcome of the reorder policy.
type Decision struct {
	Reorder   bool
	Reason    Reason
	Deviation decimal.Decimal // signed, positive = toward the quote
}

// Thresholds is the asymmetric dead-band. 0 < Low < High.
type Thresholds struct {
	Low  decimal.Decimal
	High decimal.Decimal
}

// Validate enforces 0 < Low < High.
func (t Thresholds) Validate() error {
	if !t.Low.IsPositive() {
		return fmt.Errorf("low threshold must be positive, got %s", t.Low)
	}
	if !t.High.GreaterThan(t.Low) {
		return fmt.Errorf("high threshold %s must exceed low threshold %s", t.High, t.Low)
	}
	return nil
}

// Sizing holds the constants used to turn a market price and a balance
// into a quote price and quantity.
type Sizing struct {
	Offset         decimal.Decimal // fraction away from the touch, e.g. 0.0022
	Leverage       int
	MarginSafety   decimal.Decimal // headroom for margin and fees, e.g. 0.95
	Utilization    decimal.Decimal // cap on buying power use, e.g. 0.8
	PricePrecision int32
	QtyPrecision   int32
}
