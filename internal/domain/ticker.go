package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a single last-price observation from the feed.
type Ticker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// Valid reports whether the tick carries a usable price.
func (t Ticker) Valid() bool {
	return t.Symbol != "" && t.Price.IsPositive()
}

// Health is the derived connectivity state of the price feed.
type Health struct {
	Connected        bool          `json:"connected"`
	SinceLastMessage time.Duration `json:"since_last_message"`
}

// StaleRule decides when a feed must be treated as dead.
//
// The feed is dead when it is disconnected and has been silent for longer
// than Disconnected, or when it has been silent for longer than Absolute
// whatever the connection flag says.
type StaleRule struct {
	Disconnected time.Duration
	Absolute     time.Duration
}

// IsDead applies the rule to a health reading.
func (r StaleRule) IsDead(h Health) bool {
	if !h.Connected && h.SinceLastMessage > r.Disconnected {
		return true
	}
	return h.SinceLastMessage > r.Absolute
}
