package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/infra"
	"quote_keeper/internal/strategy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const testSymbol = "BTCUSDT"

var errVenueDown = errors.New("venue down")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExchange is an in-memory venue that records every call.
type fakeExchange struct {
	mu sync.Mutex

	balance   domain.Balance
	positions []domain.Position
	orders    []domain.OpenOrder
	calls     []string
	placed    []domain.OrderRequest
	closes    []decimal.Decimal
	nextID    int

	rejectCode    string // NewOrder answers with this code when set
	hidePlaced    bool   // accepted orders never show up as open
	hangPositions bool   // QueryPositions blocks until ctx is done
	positionsErr  error
	balanceErr    error
	openOrdersErr error
	stuck         map[string]bool // ids CancelOrders accepts but never removes
	onCancel      func()
	onNewOrder    func()
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{balance: domain.Balance{Asset: "USDT", Available: d("1000"), Equity: d("1000")}}
}

func (f *fakeExchange) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeExchange) QueryBalance(ctx context.Context) (domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("balance")
	return f.balance, f.balanceErr
}

func (f *fakeExchange) QueryOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("open_orders")
	if f.openOrdersErr != nil {
		return nil, f.openOrdersErr
	}
	return append([]domain.OpenOrder(nil), f.orders...), nil
}

func (f *fakeExchange) QueryPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("positions")
	if f.hangPositions {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return append([]domain.Position(nil), f.positions...), nil
}

func (f *fakeExchange) CancelOrders(ctx context.Context, symbol string, ids []string) error {
	f.mu.Lock()
	hook := f.onCancel
	f.record("cancel")
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.orders[:0]
	for _, o := range f.orders {
		if !drop[o.ID] || f.stuck[o.ID] {
			kept = append(kept, o)
		}
	}
	f.orders = kept
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeExchange) NewOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	hook := f.onNewOrder
	f.record("new_order")
	f.placed = append(f.placed, req)
	if f.rejectCode != "" {
		f.mu.Unlock()
		return domain.OrderResult{Code: f.rejectCode, Message: "rejected"}, nil
	}
	f.nextID++
	id := fmt.Sprintf("o-%d", f.nextID)
	if !f.hidePlaced {
		f.orders = append(f.orders, domain.OpenOrder{
			ID: id, ClientOID: req.ClientOID, Symbol: req.Symbol,
			Side: req.Side, Price: req.Price, Qty: req.Qty,
		})
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return domain.OrderResult{Code: domain.CodeSuccess, OrderID: id, ClientOID: req.ClientOID}, nil
}

func (f *fakeExchange) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("market_order")
	f.closes = append(f.closes, qty)
	signed := qty
	if side == domain.SideSell {
		signed = qty.Neg()
	}
	net := domain.NetQty(f.positions, symbol).Add(signed)
	f.positions = nil
	if !net.IsZero() {
		f.positions = []domain.Position{{Symbol: symbol, Qty: net}}
	}
	return domain.OrderResult{Code: domain.CodeSuccess, OrderID: "close"}, nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("leverage:%d", leverage))
	return nil
}

func (f *fakeExchange) setPosition(qty string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = []domain.Position{{Symbol: testSymbol, Qty: d(qty)}}
}

func (f *fakeExchange) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExchange) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeExchange) openOrders() []domain.OpenOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OpenOrder(nil), f.orders...)
}

// fakeFeed is a settable price and health source.
type fakeFeed struct {
	mu     sync.Mutex
	price  decimal.Decimal
	has    bool
	health domain.Health
}

func (f *fakeFeed) LastPrice() (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.has
}

func (f *fakeFeed) Health() domain.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeFeed) setPrice(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.has = d(p), true
}

func (f *fakeFeed) setHealth(connected bool, silence time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = domain.Health{Connected: connected, SinceLastMessage: silence}
}

// fakeClock advances only when told to, or by the amount a Sleep asks for.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ticker: &fakeTicker{ch: make(chan time.Time, 1)},
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(dur)
	c.sleeps = append(c.sleeps, dur)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	return c.ticker
}

func (c *fakeClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// fakeStore keeps the last emergency close in memory.
type fakeStore struct {
	mu    sync.Mutex
	last  time.Time
	saves int
}

func (s *fakeStore) SaveLastEmergencyClose(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = t
	s.saves++
	return nil
}

func (s *fakeStore) LoadLastEmergencyClose() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func testConfig() Config {
	return Config{
		Symbol:   testSymbol,
		Side:     domain.SideBuy,
		Leverage: 40,
		Thresholds: strategy.Thresholds{
			Low:  d("0.0012"),
			High: d("0.004"),
		},
		Sizing: strategy.Sizing{
			Offset:         d("0.0022"),
			Leverage:       40,
			MarginSafety:   d("0.95"),
			Utilization:    d("0.8"),
			PricePrecision: 1,
			QtyPrecision:   3,
		},
		Cooldown:         10 * time.Minute,
		Stale:            domain.StaleRule{Disconnected: 10 * time.Second, Absolute: 30 * time.Second},
		WatchdogInterval: 5 * time.Second,
		PositionTimeout:  5 * time.Second,
		CallTimeout:      5 * time.Second,
		SettleDelay:      2 * time.Second,
		VerifyAttempts:   3,
		VerifyDelay:      time.Second,
	}
}

type harness struct {
	engine   *Engine
	exchange *fakeExchange
	feed     *fakeFeed
	clock    *fakeClock
	store    *fakeStore
	metrics  *infra.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		exchange: newFakeExchange(),
		feed:     &fakeFeed{},
		clock:    newFakeClock(),
		store:    &fakeStore{},
		metrics:  infra.NewMetrics(prometheus.NewRegistry()),
	}
	h.feed.setPrice("50000")
	h.feed.setHealth(true, 0)
	h.engine = New(testConfig(), h.exchange, h.feed, h.store, h.metrics, h.clock)
	return h
}

// runCycle runs one cycle on the calling goroutine, the way trigger would.
func (h *harness) runCycle(trigger string) {
	h.engine.busy.Store(true)
	h.engine.runCycle(context.Background(), trigger, "test")
}

func (h *harness) quote() *domain.Quote {
	return h.engine.Snapshot().Quote
}
