package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/infra"
	"quote_keeper/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// runCycle wraps one reorder cycle with the busy lock, panic recovery and
// metrics. The cycle never retries internally; the next trigger does.
func (e *Engine) runCycle(ctx context.Context, trigger, reason string) {
	start := e.clock.Now()
	logger := e.logger.With(
		slog.Uint64("cycle", e.seq.Add(1)),
		slog.String("trigger", trigger))

	result := infra.CycleFailed
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Cycle panic recovered",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
		e.release()
		elapsed := e.clock.Now().Sub(start)
		e.metrics.RecordCycle(result, elapsed)
		logger.Debug("Cycle finished",
			slog.String("result", result),
			slog.Duration("elapsed", elapsed))
	}()

	logger.Debug("Cycle started", slog.String("reason", reason))
	result = e.cycle(ctx, trigger, logger)
}

func (e *Engine) cycle(ctx context.Context, trigger string, logger *slog.Logger) string {
	closed, err := e.checkAndClose(ctx, logger)
	if err != nil {
		logger.Warn("Position check failed", slog.Bool("retriable", domain.IsRetriable(err)), slog.Any("error", err))
		return infra.CycleFailed
	}
	if closed {
		e.settle(ctx, logger)
		return infra.CycleClosed
	}

	e.mu.Lock()
	if !e.state.CanQuote(e.clock.Now()) {
		e.mu.Unlock()
		return infra.CycleSkipped
	}
	if trigger == "watchdog" && e.quote != nil {
		e.mu.Unlock()
		return infra.CycleChecked
	}
	e.clearQuoteLocked()
	e.mu.Unlock()

	if err := e.cancelAll(ctx); err != nil {
		logger.Warn("Cancel open orders failed", slog.Bool("retriable", domain.IsRetriable(err)), slog.Any("error", err))
		return infra.CycleFailed
	}

	bctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	bal, err := e.exchange.QueryBalance(bctx)
	cancel()
	if err != nil {
		logger.Warn("Balance query failed", slog.Bool("retriable", domain.IsRetriable(err)), slog.Any("error", err))
		return infra.CycleFailed
	}
	if !bal.CanFund() {
		logger.Info("No margin available, not quoting", slog.String("available", bal.Available.String()))
		return infra.CycleAborted
	}

	market, ok := e.feed.LastPrice()
	if !ok {
		logger.Info("No market price yet, not quoting")
		return infra.CycleAborted
	}
	price, err := strategy.QuotePrice(market, e.cfg.Side, e.cfg.Sizing)
	if err != nil {
		logger.Warn("Quote price rejected", slog.Any("error", err))
		return infra.CycleAborted
	}
	qty, err := strategy.Quantity(bal.Available, price, e.cfg.Sizing)
	if err != nil {
		if errors.Is(err, domain.ErrZeroQuantity) {
			logger.Info("Quote size rounds to zero, not quoting", slog.String("available", bal.Available.String()))
		} else {
			logger.Warn("Quote size rejected", slog.Any("error", err))
		}
		return infra.CycleAborted
	}

	// The watchdog may have tripped while we were talking to the venue.
	e.mu.Lock()
	canQuote := e.state.CanQuote(e.clock.Now())
	e.mu.Unlock()
	if !canQuote {
		return infra.CycleSkipped
	}

	req := domain.OrderRequest{
		Symbol:    e.cfg.Symbol,
		Side:      e.cfg.Side,
		Type:      domain.OrderTypeLimit,
		Qty:       qty,
		Price:     price,
		ClientOID: uuid.NewString(),
		PostOnly:  true,
	}
	octx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	res, err := e.exchange.NewOrder(octx, req)
	cancel()
	if err != nil {
		logger.Warn("Order submission failed", slog.Bool("retriable", domain.IsRetriable(err)), slog.Any("error", err))
		return infra.CycleFailed
	}
	if !res.Accepted() {
		logger.Warn("Order rejected",
			slog.Any("error", &domain.OrderRejectedError{Code: res.Code, Msg: res.Message}),
			slog.String("price", price.String()),
			slog.String("qty", qty.String()))
		return infra.CycleRejected
	}

	quote := &domain.Quote{
		Symbol:    e.cfg.Symbol,
		Side:      e.cfg.Side,
		Price:     price,
		Qty:       qty,
		ClientOID: req.ClientOID,
		OrderID:   res.OrderID,
		Status:    domain.QuoteSubmitted,
		PlacedAt:  e.clock.Now(),
	}
	return e.verify(ctx, quote, market, logger)
}

// verify polls open orders until the submitted quote shows up under its own
// ids. Only a seen order commits the reference price.
func (e *Engine) verify(ctx context.Context, quote *domain.Quote, market decimal.Decimal, logger *slog.Logger) string {
	for attempt := 1; attempt <= e.cfg.VerifyAttempts; attempt++ {
		if err := e.clock.Sleep(ctx, e.cfg.VerifyDelay); err != nil {
			break
		}

		qctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		orders, err := e.exchange.QueryOpenOrders(qctx, e.cfg.Symbol)
		cancel()
		if err != nil {
			logger.Warn("Verification poll failed",
				slog.Int("attempt", attempt),
				slog.Bool("retriable", domain.IsRetriable(err)),
				slog.Any("error", err))
			if !domain.IsRetriable(err) {
				break
			}
			continue
		}

		order, ok := domain.FindOrder(orders, quote.OrderID, quote.ClientOID)
		if !ok {
			continue
		}

		quote.OrderID = order.ID
		quote.ReferencePrice = quote.Price
		quote.Status = domain.QuoteVerified

		e.mu.Lock()
		if e.state.Emergency || e.state.Stopping {
			e.mu.Unlock()
			logger.Warn("Quote verified after the engine left quoting mode, cancelling it")
			if err := e.cancelIDs(ctx, []string{order.ID}); err != nil {
				logger.Warn("Cancel late quote failed", slog.Any("error", err))
			}
			return infra.CycleSkipped
		}
		e.quote = quote
		e.mu.Unlock()

		e.metrics.SetQuotePrice(quote.Price)
		logger.Info("Quote placed",
			slog.String("side", string(quote.Side)),
			slog.String("price", quote.Price.String()),
			slog.String("qty", quote.Qty.String()),
			slog.String("market", market.String()),
			slog.String("order_id", quote.OrderID))
		return infra.CycleQuoted
	}

	e.metrics.RecordUnconfirmed()
	logger.Error("Quote placement unconfirmed",
		slog.String("severity", "operator_check"),
		slog.Any("error", domain.ErrUnconfirmedPlacement),
		slog.String("price", quote.Price.String()),
		slog.String("qty", quote.Qty.String()),
		slog.String("order_id", quote.OrderID),
		slog.String("client_oid", quote.ClientOID))
	return infra.CycleUnconfirmed
}

// checkAndClose flattens any position in the symbol. It reports whether a
// close order was accepted; the caller owes the settle delay in that case.
func (e *Engine) checkAndClose(ctx context.Context, logger *slog.Logger) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PositionTimeout)
	positions, err := e.exchange.QueryPositions(pctx, e.cfg.Symbol)
	cancel()
	if err != nil {
		return false, fmt.Errorf("query positions: %w", err)
	}

	net := domain.NetQty(positions, e.cfg.Symbol)
	if net.IsZero() {
		return false, nil
	}

	pos := domain.Position{Symbol: e.cfg.Symbol, Qty: net}
	logger.Warn("Stray position detected, closing",
		slog.String("qty", net.String()),
		slog.String("close_side", string(pos.CloseSide())))

	// Orders first, so nothing rebuilds the position behind the close.
	if err := e.cancelAll(ctx); err != nil {
		logger.Warn("Cancel before close failed", slog.Any("error", err))
	}

	mctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	res, err := e.exchange.MarketOrder(mctx, e.cfg.Symbol, pos.CloseSide(), net.Abs())
	cancel()
	if err != nil {
		return false, fmt.Errorf("close position: %w", err)
	}
	if !res.Accepted() {
		return false, fmt.Errorf("close position: %w", &domain.OrderRejectedError{Code: res.Code, Msg: res.Message})
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.state = e.state.RecordClose(now)
	e.clearQuoteLocked()
	e.mu.Unlock()

	e.metrics.RecordEmergencyClose()
	e.metrics.SetCooldown(true)
	if e.store != nil {
		if err := e.store.SaveLastEmergencyClose(now); err != nil {
			logger.Error("Failed to persist emergency close", slog.Any("error", err))
		}
	}

	logger.Warn("Emergency close executed",
		slog.String("qty", net.String()),
		slog.String("order_id", res.OrderID),
		slog.Duration("cooldown", e.cfg.Cooldown))
	return true, nil
}

// settle waits for the venue to reflect a close, then sweeps any order that
// slipped in meanwhile.
func (e *Engine) settle(ctx context.Context, logger *slog.Logger) {
	if err := e.clock.Sleep(ctx, e.cfg.SettleDelay); err != nil {
		return
	}
	if err := e.cancelAll(ctx); err != nil {
		logger.Warn("Cancel after close failed", slog.Any("error", err))
	}
}

// cancelAll cancels every open order in the symbol.
func (e *Engine) cancelAll(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	orders, err := e.exchange.QueryOpenOrders(qctx, e.cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("query open orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	return e.cancelIDs(ctx, domain.OrderIDs(orders))
}

func (e *Engine) cancelIDs(ctx context.Context, ids []string) error {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.exchange.CancelOrders(cctx, e.cfg.Symbol, ids); err != nil {
		return fmt.Errorf("cancel %d orders: %w", len(ids), err)
	}
	return nil
}
