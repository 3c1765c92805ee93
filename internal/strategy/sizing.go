package strategy

import (
	"fmt"

	"quote_keeper/internal/domain"

	"github.com/shopspring/decimal"
)

// QuotePrice offsets the market price away from the touch: below the market
// for a bid, above it for an ask. The offset keeps the quote from filling;
// it is not a pricing signal.
func QuotePrice(market decimal.Decimal, side domain.Side, s Sizing) (decimal.Decimal, error) {
	if !market.IsPositive() {
		return decimal.Zero, fmt.Errorf("quote price from %s: %w", market, domain.ErrInvalidPrice)
	}

	factor := one.Sub(s.Offset)
	if side == domain.SideSell {
		factor = one.Add(s.Offset)
	}
	return market.Mul(factor).Round(s.PricePrecision), nil
}

// Quantity sizes the quote as a fraction of available × leverage.
//
// Two discounts apply in order: MarginSafety for margin and fee headroom,
// then Utilization as a deliberate cap on buying power. Each step is rounded
// to the venue lot precision.
func Quantity(available, price decimal.Decimal, s Sizing) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("quantity at %s: %w", price, domain.ErrInvalidPrice)
	}
	if !available.IsPositive() {
		return decimal.Zero, domain.ErrZeroQuantity
	}

	buyingPower := available.Mul(decimal.NewFromInt(int64(s.Leverage))).Mul(s.MarginSafety)
	maxQty := buyingPower.Div(price).Round(s.QtyPrecision)
	qty := maxQty.Mul(s.Utilization).Round(s.QtyPrecision)
	if !qty.IsPositive() {
		return decimal.Zero, domain.ErrZeroQuantity
	}
	return qty, nil
}
