package event

import (
	"time"

	"quote_keeper/internal/domain"

	"github.com/shopspring/decimal"
)

// Type identifies an inbox event.
type Type int

const (
	TypePriceTick Type = iota + 1
	TypePosition
)

// String returns the string representation of Type
func (t Type) String() string {
	switch t {
	case TypePriceTick:
		return "price_tick"
	case TypePosition:
		return "position"
	default:
		return "unknown"
	}
}

// Event is anything the feed pushes into the engine inbox.
type Event interface {
	GetType() Type
	GetTs() time.Time
}

// BaseEvent carries the receive timestamp.
type BaseEvent struct {
	Ts time.Time
}

func (b BaseEvent) GetTs() time.Time { return b.Ts }

// PriceTickEvent is a last-price update for the managed symbol.
type PriceTickEvent struct {
	BaseEvent
	Symbol string
	Price  decimal.Decimal
}

func (e *PriceTickEvent) GetType() Type { return TypePriceTick }

// PositionEvent is an unsolicited position-change notification.
type PositionEvent struct {
	BaseEvent
	Alert domain.PositionAlert
}

func (e *PositionEvent) GetType() Type { return TypePosition }
