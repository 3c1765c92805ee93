package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/event"
	"quote_keeper/internal/infra"
	"quote_keeper/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// ErrEnginePanic is returned by Run after it recovered from a panic.
var ErrEnginePanic = errors.New("engine panicked")

const defaultInboxSize = 1024

// Config is everything the engine needs from the loaded configuration.
type Config struct {
	Symbol     string
	Side       domain.Side
	Leverage   int
	Thresholds strategy.Thresholds
	Sizing     strategy.Sizing
	Cooldown   time.Duration
	Stale      domain.StaleRule

	WatchdogInterval time.Duration
	PositionTimeout  time.Duration
	CallTimeout      time.Duration
	SettleDelay      time.Duration
	VerifyAttempts   int
	VerifyDelay      time.Duration
	CloseOnShutdown  bool

	InboxSize int
	DumpPath  string // panic dump, empty disables it
}

// ConfigFrom maps the file configuration onto the engine.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		Symbol:   cfg.Strategy.Symbol,
		Side:     cfg.StrategySide(),
		Leverage: cfg.Strategy.Leverage,
		Thresholds: strategy.Thresholds{
			Low:  cfg.Strategy.LowThreshold,
			High: cfg.Strategy.HighThreshold,
		},
		Sizing: strategy.Sizing{
			Offset:         cfg.Strategy.Offset,
			Leverage:       cfg.Strategy.Leverage,
			MarginSafety:   cfg.Strategy.MarginSafety,
			Utilization:    cfg.Strategy.Utilization,
			PricePrecision: *cfg.Strategy.PricePrecision,
			QtyPrecision:   *cfg.Strategy.QtyPrecision,
		},
		Cooldown: cfg.Strategy.Cooldown,
		Stale: domain.StaleRule{
			Disconnected: cfg.Engine.StaleDisconnected,
			Absolute:     cfg.Engine.StaleAbsolute,
		},
		WatchdogInterval: cfg.Engine.WatchdogInterval,
		PositionTimeout:  cfg.Engine.PositionTimeout,
		CallTimeout:      cfg.Engine.CallTimeout,
		SettleDelay:      cfg.Engine.SettleDelay,
		VerifyAttempts:   cfg.Engine.VerifyAttempts,
		VerifyDelay:      cfg.Engine.VerifyDelay,
		CloseOnShutdown:  cfg.Strategy.CloseOnShutdown,
		InboxSize:        defaultInboxSize,
		DumpPath:         "panic_dump.json",
	}
}

// Engine keeps one post-only quote resting near the market and flattens any
// position the moment it appears.
//
// Run owns the inbox and the watchdog ticker. Reorder cycles run on their
// own goroutine and are admitted by a compare-and-swap on busy; triggers
// that arrive while a cycle is in flight are dropped, never queued.
type Engine struct {
	cfg      Config
	exchange domain.Exchange
	feed     domain.PriceFeed
	store    domain.StateStore
	metrics  *infra.Metrics
	clock    Clock
	logger   *slog.Logger

	inbox chan event.Event
	busy  atomic.Bool
	seq   atomic.Uint64

	mu    sync.Mutex
	state State
	quote *domain.Quote

	// Cycles run on life, not on the caller's context, so a signal does
	// not abort a placement half way. Shutdown cancels it only on timeout.
	life       context.Context
	cancelLife context.CancelFunc
	cycles     sync.WaitGroup
	stopped    chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an engine. store may be nil, in which case the cooldown does
// not survive a restart.
func New(cfg Config, exchange domain.Exchange, feed domain.PriceFeed, store domain.StateStore, metrics *infra.Metrics, clock Clock) *Engine {
	if clock == nil {
		clock = RealClock()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.VerifyAttempts < 1 {
		cfg.VerifyAttempts = 1
	}
	life, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		exchange:   exchange,
		feed:       feed,
		store:      store,
		metrics:    metrics,
		clock:      clock,
		logger:     slog.Default().With(slog.String("module", "engine"), slog.String("symbol", cfg.Symbol)),
		inbox:      make(chan event.Event, cfg.InboxSize),
		state:      NewState(cfg.Cooldown),
		life:       life,
		cancelLife: cancel,
		stopped:    make(chan struct{}),
	}
}

// Inbox returns the channel the feed pushes ticks and alerts into.
func (e *Engine) Inbox() chan<- event.Event {
	return e.inbox
}

// Prepare runs the startup sequence: leverage, persisted cooldown, leftover
// orders and one check-and-close before the first tick.
func (e *Engine) Prepare(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	err := e.exchange.SetLeverage(cctx, e.cfg.Symbol, e.cfg.Leverage)
	cancel()
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}

	if e.store != nil {
		last, err := e.store.LoadLastEmergencyClose()
		if err != nil {
			return fmt.Errorf("restore cooldown: %w", err)
		}
		if !last.IsZero() {
			e.mu.Lock()
			e.state = e.state.RecordClose(last)
			remaining := e.state.Cooldown.Remaining(e.clock.Now())
			e.mu.Unlock()
			e.logger.Info("Cooldown restored",
				slog.Time("last_close", last),
				slog.Duration("remaining", remaining))
		}
	}

	if err := e.cancelAll(ctx); err != nil {
		return fmt.Errorf("cancel leftover orders: %w", err)
	}

	closed, err := e.checkAndClose(ctx, e.logger)
	if err != nil {
		return fmt.Errorf("initial position check: %w", err)
	}
	if closed {
		e.settle(ctx, e.logger)
	}
	return nil
}

// Run consumes the inbox and drives the watchdog until ctx is done or the
// engine is shut down. A panic is recovered, dumped, and returned as
// ErrEnginePanic so the caller can still run Shutdown.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("CRITICAL: engine panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.DumpState(e.cfg.DumpPath)
			err = fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
	}()

	ticker := e.clock.NewTicker(e.cfg.WatchdogInterval)
	defer ticker.Stop()

	e.logger.Info("Engine started",
		slog.String("side", string(e.cfg.Side)),
		slog.Duration("watchdog_interval", e.cfg.WatchdogInterval))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping...")
			return nil
		case <-e.stopped:
			return nil
		case ev := <-e.inbox:
			e.dispatch(ev)
		case <-ticker.C():
			e.CheckHealth(ctx)
		}
	}
}

func (e *Engine) dispatch(ev event.Event) {
	switch ev := ev.(type) {
	case *event.PriceTickEvent:
		price := ev.Price
		symbol := ev.Symbol
		event.Release(ev)
		if symbol == e.cfg.Symbol {
			e.OnPriceTick(price)
		}
	case *event.PositionEvent:
		e.OnPositionAlert(ev.Alert)
	default:
		e.logger.Warn("Unknown event type", slog.String("type", ev.GetType().String()))
	}
}

// OnPriceTick applies the reorder policy to a fresh price and starts a cycle
// when it says so. Ticks are ignored while quoting is not allowed; the
// watchdog keeps checking for positions in the meantime.
func (e *Engine) OnPriceTick(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	if e.busy.Load() {
		e.metrics.RecordDroppedTrigger("tick")
		return
	}

	e.mu.Lock()
	canQuote := e.state.CanQuote(e.clock.Now())
	ref := decimal.Zero
	if e.quote != nil {
		ref = e.quote.ReferencePrice
	}
	e.mu.Unlock()

	if !canQuote {
		return
	}

	decision := strategy.ShouldReorder(ref, price, e.cfg.Side, e.cfg.Thresholds)
	if !decision.Reorder {
		return
	}
	e.logger.Debug("Reorder triggered",
		slog.String("reason", decision.Reason.String()),
		slog.String("price", price.String()),
		slog.String("reference", ref.String()),
		slog.String("deviation", decision.Deviation.String()))
	e.trigger("tick", decision.Reason.String())
}

// OnPositionAlert reacts to a pushed position change. Any exposure clears the
// reference and runs a cycle immediately, whatever the cooldown says.
func (e *Engine) OnPositionAlert(alert domain.PositionAlert) {
	if !alert.HasExposure(e.cfg.Symbol) {
		return
	}
	e.logger.Warn("Position alert",
		slog.String("net_qty", alert.NetQty().String()))

	e.mu.Lock()
	e.clearQuoteLocked()
	e.mu.Unlock()

	e.trigger("position", "exposure")
}

// trigger admits a cycle if none is running. It reports whether the cycle
// was started.
func (e *Engine) trigger(name, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Stopping {
		return false
	}
	if !e.busy.CompareAndSwap(false, true) {
		e.metrics.RecordDroppedTrigger(name)
		return false
	}
	e.metrics.SetBusy(true)
	e.cycles.Add(1)

	go func() {
		defer e.cycles.Done()
		e.runCycle(e.life, name, reason)
	}()
	return true
}

func (e *Engine) release() {
	e.busy.Store(false)
	e.metrics.SetBusy(false)
}

func (e *Engine) clearQuoteLocked() {
	e.quote = nil
	e.metrics.SetQuotePrice(decimal.Zero)
}

// Snapshot is a point-in-time copy of the engine state for /status.
type Snapshot struct {
	Symbol             string          `json:"symbol"`
	Side               domain.Side     `json:"side"`
	Mode               string          `json:"mode"`
	Busy               bool            `json:"busy"`
	Emergency          bool            `json:"emergency"`
	Cooldown           bool            `json:"cooldown"`
	CooldownRemaining  time.Duration   `json:"cooldown_remaining"`
	LastEmergencyClose time.Time       `json:"last_emergency_close"`
	Quote              *domain.Quote   `json:"quote,omitempty"`
	LastPrice          decimal.Decimal `json:"last_price"`
	Feed               domain.Health   `json:"feed"`

	Stats infra.MetricsSnapshot `json:"stats"`
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	now := e.clock.Now()
	busy := e.busy.Load()

	e.mu.Lock()
	s := Snapshot{
		Symbol:             e.cfg.Symbol,
		Side:               e.cfg.Side,
		Mode:               e.state.Mode(now, busy),
		Busy:               busy,
		Emergency:          e.state.Emergency,
		Cooldown:           e.state.InCooldown(now),
		CooldownRemaining:  e.state.Cooldown.Remaining(now),
		LastEmergencyClose: e.state.Cooldown.LastClose(),
	}
	if e.quote != nil {
		q := *e.quote
		s.Quote = &q
	}
	e.mu.Unlock()

	s.LastPrice, _ = e.feed.LastPrice()
	s.Feed = e.feed.Health()
	s.Stats = e.metrics.Snapshot()
	return s
}

// Shutdown stops the engine: no new cycles, watchdog off, in-flight cycle
// awaited (until ctx expires), open orders cancelled and, when configured,
// any position flattened. Later calls return the first result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.logger.Info("Engine shutting down...")

		e.mu.Lock()
		e.state = e.state.Stop()
		e.mu.Unlock()
		close(e.stopped)

		done := make(chan struct{})
		go func() {
			e.cycles.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			e.logger.Warn("In-flight cycle did not finish, aborting it")
			e.cancelLife()
			<-done
		}
		e.cancelLife()

		// Cleanup gets fresh per-call timeouts even if ctx is spent.
		cleanup := context.WithoutCancel(ctx)
		var errs error
		if err := e.cancelAll(cleanup); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel open orders: %w", err))
		}
		if e.cfg.CloseOnShutdown {
			if _, err := e.checkAndClose(cleanup, e.logger); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("close position: %w", err))
			}
		}

		e.shutdownErr = errs
		if errs != nil {
			e.logger.Error("Shutdown cleanup incomplete", slog.Any("error", errs))
			return
		}
		e.logger.Info("Engine stopped cleanly")
	})
	return e.shutdownErr
}

// DumpState writes the snapshot to filename for post-mortem.
func (e *Engine) DumpState(filename string) {
	if filename == "" {
		return
	}
	slog.Info("Dumping internal state...", slog.String("file", filename))

	b, err := json.MarshalIndent(e.Snapshot(), "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
