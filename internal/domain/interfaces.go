package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Exchange is the request/response surface of the venue.
// Every call blocks until the venue answers or ctx expires.
type Exchange interface {
	QueryBalance(ctx context.Context) (Balance, error)
	QueryOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	QueryPositions(ctx context.Context, symbol string) ([]Position, error)
	CancelOrders(ctx context.Context, symbol string, ids []string) error
	NewOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	MarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal) (OrderResult, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// PriceFeed is the read-only view of the streaming feed the engine needs.
type PriceFeed interface {
	LastPrice() (decimal.Decimal, bool)
	Health() Health
}

// StateStore persists the little engine state that must survive a restart.
type StateStore interface {
	SaveLastEmergencyClose(t time.Time) error
	LoadLastEmergencyClose() (time.Time, error)
}
