package service

import (
	"sync"
	"time"

	"quote_keeper/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceService holds the last price and the liveness of the feed for one
// symbol. The feed writes; the engine and watchdog read.
type PriceService struct {
	mu          sync.RWMutex
	symbol      string
	lastPrice   decimal.Decimal
	hasPrice    bool
	lastMessage time.Time
	connected   bool
	now         func() time.Time
	listeners   []func(domain.Ticker)
}

// NewPriceService creates a tracker. Silence is measured from creation until
// the first message arrives, so a feed that never connects goes stale.
func NewPriceService(symbol string) *PriceService {
	return NewPriceServiceWithClock(symbol, time.Now)
}

// NewPriceServiceWithClock is NewPriceService with an injected time source.
func NewPriceServiceWithClock(symbol string, now func() time.Time) *PriceService {
	return &PriceService{
		symbol:      symbol,
		lastPrice:   decimal.Zero,
		lastMessage: now(),
		now:         now,
	}
}

// UpdatePrice records a tick. Ticks for other symbols or without a positive
// price are ignored and reported as false.
func (s *PriceService) UpdatePrice(t domain.Ticker) bool {
	if t.Symbol != s.symbol || !t.Price.IsPositive() {
		return false
	}

	s.mu.Lock()
	s.lastPrice = t.Price
	s.hasPrice = true
	s.touchLocked(t.At)
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return true
}

// OnPrice registers fn to run after every accepted price update, outside the lock.
func (s *PriceService) OnPrice(fn func(domain.Ticker)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners[:len(s.listeners):len(s.listeners)], fn)
}

// Touch records a heartbeat (pong, subscribe ack, position push).
func (s *PriceService) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(at)
}

// Must be called with lock held
func (s *PriceService) touchLocked(at time.Time) {
	if at.IsZero() {
		at = s.now()
	}
	if at.After(s.lastMessage) {
		s.lastMessage = at
	}
}

// SetConnected updates the connection flag.
func (s *PriceService) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// LastPrice returns the most recent price, false until the first tick.
func (s *PriceService) LastPrice() (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPrice, s.hasPrice
}

// Health derives the connection health at the current time.
func (s *PriceService) Health() domain.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	silence := s.now().Sub(s.lastMessage)
	if silence < 0 {
		silence = 0
	}
	return domain.Health{
		Connected:        s.connected,
		SinceLastMessage: silence,
	}
}
