package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quote_keeper/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rejection codes of the paper venue. They never equal domain.CodeSuccess.
const (
	CodeInvalidRequest     = "PAPER_INVALID_REQUEST"
	CodeNoPrice            = "PAPER_NO_PRICE"
	CodePostOnlyWouldTake  = "PAPER_POST_ONLY_WOULD_TAKE"
	CodeInsufficientMargin = "PAPER_INSUFFICIENT_MARGIN"
	CodeReduceOnly         = "PAPER_REDUCE_ONLY_REJECTED"
)

// Fill is one simulated execution.
type Fill struct {
	OrderID string
	Symbol  string
	Side    domain.Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Maker   bool
	At      time.Time
}

// PaperExecution is an in-memory futures venue for one symbol.
// It implements domain.Exchange. Resting limit orders fill when UpdatePrice
// crosses them; market orders fill at the last price.
type PaperExecution struct {
	mu sync.Mutex

	symbol   string
	leverage int
	feeRate  decimal.Decimal

	wallet     decimal.Decimal // realized balance
	lastPrice  decimal.Decimal
	position   decimal.Decimal // signed
	entryPrice decimal.Decimal

	orders map[string]domain.OpenOrder
	nextID uint64
	fills  []Fill
	onFill func(domain.PositionAlert)
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Exchange = (*PaperExecution)(nil)

// NewPaperExecution creates a paper venue charging feeRate on every fill.
func NewPaperExecution(symbol string, feeRate decimal.Decimal) *PaperExecution {
	return &PaperExecution{
		symbol:   symbol,
		leverage: 1,
		feeRate:  feeRate,
		wallet:   decimal.Zero,
		orders:   make(map[string]domain.OpenOrder),
		now:      time.Now,
		logger:   slog.Default().With("module", "paper"),
	}
}

// Deposit credits the wallet.
func (p *PaperExecution) Deposit(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallet = p.wallet.Add(amount)
}

// OnFill registers a callback that receives the position after every fill,
// the paper counterpart of the venue's private positions push.
func (p *PaperExecution) OnFill(fn func(domain.PositionAlert)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFill = fn
}

// UpdatePrice moves the simulated market and fills crossed limit orders.
func (p *PaperExecution) UpdatePrice(symbol string, price decimal.Decimal) {
	if symbol != p.symbol || !price.IsPositive() {
		return
	}

	p.mu.Lock()
	p.lastPrice = price

	// deterministic fill order
	ids := make([]string, 0, len(p.orders))
	for id := range p.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	filled := false
	for _, id := range ids {
		o := p.orders[id]
		crossed := (o.Side == domain.SideBuy && price.LessThanOrEqual(o.Price)) ||
			(o.Side == domain.SideSell && price.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		delete(p.orders, id)
		p.applyFillLocked(o.ID, o.Side, o.Price, o.Qty, true)
		filled = true
	}
	alert, notify := p.alertLocked(filled)
	p.mu.Unlock()

	if notify != nil {
		notify(alert)
	}
}

// Fills returns a copy of all simulated executions.
func (p *PaperExecution) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// QueryBalance returns wallet plus unrealized PnL minus the margin locked by
// the position and resting orders.
func (p *PaperExecution) QueryBalance(ctx context.Context) (domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return domain.Balance{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.wallet.Add(p.unrealizedLocked())
	available := equity.Sub(p.positionMarginLocked()).Sub(p.orderMarginLocked())
	if available.IsNegative() {
		available = decimal.Zero
	}
	return domain.Balance{Asset: "USDT", Available: available, Equity: equity}, nil
}

func (p *PaperExecution) QueryOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.OpenOrder, 0, len(p.orders))
	for _, o := range p.orders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *PaperExecution) QueryPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if symbol != p.symbol || p.position.IsZero() {
		return nil, nil
	}
	return []domain.Position{{Symbol: p.symbol, Qty: p.position}}, nil
}

// CancelOrders removes the given orders; unknown ids are ignored.
func (p *PaperExecution) CancelOrders(ctx context.Context, symbol string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		if o, ok := p.orders[id]; ok && o.Symbol == symbol {
			delete(p.orders, id)
		}
	}
	return nil
}

// NewOrder places a limit order or executes a market order.
func (p *PaperExecution) NewOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	if req.ClientOID == "" {
		req.ClientOID = uuid.NewString()
	}

	p.mu.Lock()
	result, filled := p.placeLocked(req)
	alert, notify := p.alertLocked(filled)
	p.mu.Unlock()

	if notify != nil {
		notify(alert)
	}
	if !result.Accepted() {
		p.logger.Warn("Paper order rejected", slog.String("code", result.Code), slog.String("msg", result.Message))
	}
	return result, nil
}

// MarketOrder flattens (reduce-only) at the last price.
func (p *PaperExecution) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderResult, error) {
	return p.NewOrder(ctx, domain.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Qty:        qty.Abs(),
		ReduceOnly: true,
	})
}

func (p *PaperExecution) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if symbol != p.symbol {
		return fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, symbol)
	}
	if leverage <= 0 {
		return fmt.Errorf("invalid leverage %d", leverage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leverage = leverage
	return nil
}

// Must be called with lock held
func (p *PaperExecution) placeLocked(req domain.OrderRequest) (domain.OrderResult, bool) {
	reject := func(code, msg string) (domain.OrderResult, bool) {
		return domain.OrderResult{Code: code, Message: msg, ClientOID: req.ClientOID}, false
	}

	if req.Symbol != p.symbol || !req.Side.Valid() || !req.Qty.IsPositive() {
		return reject(CodeInvalidRequest, "bad symbol, side or size")
	}

	p.nextID++
	id := fmt.Sprintf("paper-%d", p.nextID)

	if req.Type == domain.OrderTypeMarket {
		if !p.lastPrice.IsPositive() {
			return reject(CodeNoPrice, "no market price yet")
		}
		qty := req.Qty
		if req.ReduceOnly {
			reducing := (req.Side == domain.SideSell && p.position.IsPositive()) ||
				(req.Side == domain.SideBuy && p.position.IsNegative())
			if !reducing {
				return reject(CodeReduceOnly, "no position to reduce")
			}
			qty = decimal.Min(qty, p.position.Abs())
		}
		p.applyFillLocked(id, req.Side, p.lastPrice, qty, false)
		return domain.OrderResult{Code: domain.CodeSuccess, Message: "success", OrderID: id, ClientOID: req.ClientOID}, true
	}

	if !req.Price.IsPositive() {
		return reject(CodeInvalidRequest, "limit price must be positive")
	}
	if p.lastPrice.IsPositive() {
		marketable := (req.Side == domain.SideBuy && req.Price.GreaterThanOrEqual(p.lastPrice)) ||
			(req.Side == domain.SideSell && req.Price.LessThanOrEqual(p.lastPrice))
		if marketable && req.PostOnly {
			return reject(CodePostOnlyWouldTake, "post-only order would take liquidity")
		}
	}

	margin := req.Price.Mul(req.Qty).Div(decimal.NewFromInt(int64(p.leverage)))
	free := p.wallet.Add(p.unrealizedLocked()).Sub(p.positionMarginLocked()).Sub(p.orderMarginLocked())
	if !req.ReduceOnly && margin.GreaterThan(free) {
		return reject(CodeInsufficientMargin, fmt.Sprintf("need %s, free %s", margin.StringFixed(2), free.StringFixed(2)))
	}

	p.orders[id] = domain.OpenOrder{
		ID:        id,
		ClientOID: req.ClientOID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Qty:       req.Qty,
	}
	return domain.OrderResult{Code: domain.CodeSuccess, Message: "success", OrderID: id, ClientOID: req.ClientOID}, false
}

// Must be called with lock held
func (p *PaperExecution) applyFillLocked(orderID string, side domain.Side, price, qty decimal.Decimal, maker bool) {
	signed := qty
	if side == domain.SideSell {
		signed = qty.Neg()
	}

	sameDirection := p.position.IsZero() || p.position.Sign() == signed.Sign()
	if sameDirection {
		// weighted average entry
		notional := p.entryPrice.Mul(p.position.Abs()).Add(price.Mul(qty))
		p.position = p.position.Add(signed)
		p.entryPrice = notional.Div(p.position.Abs())
	} else {
		closing := decimal.Min(qty, p.position.Abs())
		pnl := price.Sub(p.entryPrice).Mul(closing)
		if p.position.IsNegative() {
			pnl = pnl.Neg()
		}
		p.wallet = p.wallet.Add(pnl)
		p.position = p.position.Add(signed)
		switch {
		case p.position.IsZero():
			p.entryPrice = decimal.Zero
		case p.position.Sign() == signed.Sign():
			// flipped through zero: the remainder opened at price
			p.entryPrice = price
		}
	}

	p.wallet = p.wallet.Sub(price.Mul(qty).Mul(p.feeRate))
	p.fills = append(p.fills, Fill{
		OrderID: orderID,
		Symbol:  p.symbol,
		Side:    side,
		Price:   price,
		Qty:     qty,
		Maker:   maker,
		At:      p.now(),
	})

	p.logger.Info("Paper fill",
		slog.String("order_id", orderID),
		slog.String("side", string(side)),
		slog.String("price", price.String()),
		slog.String("qty", qty.String()),
		slog.String("position", p.position.String()),
	)
}

// Must be called with lock held
func (p *PaperExecution) alertLocked(filled bool) (domain.PositionAlert, func(domain.PositionAlert)) {
	if !filled || p.onFill == nil {
		return domain.PositionAlert{}, nil
	}
	alert := domain.PositionAlert{Symbol: p.symbol, At: p.now()}
	if !p.position.IsZero() {
		alert.Positions = []domain.Position{{Symbol: p.symbol, Qty: p.position}}
	}
	return alert, p.onFill
}

// Must be called with lock held
func (p *PaperExecution) unrealizedLocked() decimal.Decimal {
	if p.position.IsZero() || !p.lastPrice.IsPositive() {
		return decimal.Zero
	}
	return p.lastPrice.Sub(p.entryPrice).Mul(p.position)
}

// Must be called with lock held
func (p *PaperExecution) positionMarginLocked() decimal.Decimal {
	return p.entryPrice.Mul(p.position.Abs()).Div(decimal.NewFromInt(int64(p.leverage)))
}

// Must be called with lock held
func (p *PaperExecution) orderMarginLocked() decimal.Decimal {
	total := decimal.Zero
	lev := decimal.NewFromInt(int64(p.leverage))
	for _, o := range p.orders {
		total = total.Add(o.Price.Mul(o.Qty).Div(lev))
	}
	return total
}
