package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or of the managed quote.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts buy/long and sell/short (case-insensitive).
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "buy", "long":
		return SideBuy, nil
	case "sell", "short":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", v)
	}
}

// Opposite returns the side that reduces exposure opened by s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// CodeSuccess is the venue business code for an accepted request.
const CodeSuccess = "00000"

// OrderRequest is what the engine asks the venue to place.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Type       OrderType
	Qty        decimal.Decimal
	Price      decimal.Decimal // zero for market orders
	ClientOID  string
	ReduceOnly bool
	PostOnly   bool
}

// OrderResult is the venue acknowledgement of a submission.
// A submission is accepted only when Code == CodeSuccess.
type OrderResult struct {
	Code      string
	Message   string
	OrderID   string
	ClientOID string
}

// Accepted reports whether the venue accepted the order.
func (r OrderResult) Accepted() bool {
	return r.Code == CodeSuccess
}

// OpenOrder is a resting order as reported by the venue.
type OpenOrder struct {
	ID        string
	ClientOID string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Qty       decimal.Decimal
}

// OrderIDs extracts venue ids from a list of open orders.
func OrderIDs(orders []OpenOrder) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}

// FindOrder returns the open order with venue id orderID or client id
// clientOID. Empty ids never match.
func FindOrder(orders []OpenOrder, orderID, clientOID string) (OpenOrder, bool) {
	for _, o := range orders {
		if (orderID != "" && o.ID == orderID) || (clientOID != "" && o.ClientOID == clientOID) {
			return o, true
		}
	}
	return OpenOrder{}, false
}
