package execution

import (
	"context"
	"testing"

	"quote_keeper/internal/domain"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPaper(t *testing.T) *PaperExecution {
	t.Helper()
	paper := NewPaperExecution("BTCUSDT", decimal.Zero)
	paper.Deposit(d("1000"))
	if err := paper.SetLeverage(context.Background(), "BTCUSDT", 40); err != nil {
		t.Fatalf("SetLeverage failed: %v", err)
	}
	paper.UpdatePrice("BTCUSDT", d("50000"))
	return paper
}

func limitBuy(price, qty string) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Price:    d(price),
		Qty:      d(qty),
		PostOnly: true,
	}
}

func TestPaperExecution_RestingQuote(t *testing.T) {
	paper := newPaper(t)
	ctx := context.Background()

	res, err := paper.NewOrder(ctx, limitBuy("49890", "0.610"))
	if err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}
	if !res.Accepted() || res.OrderID == "" {
		t.Fatalf("Expected accepted order, got %+v", res)
	}

	orders, _ := paper.QueryOpenOrders(ctx, "BTCUSDT")
	if o, ok := domain.FindOrder(orders, res.OrderID, ""); !ok || !o.Price.Equal(d("49890")) {
		t.Fatalf("Order should rest at its limit price, got %+v (found=%v)", o, ok)
	}

	// Price moves but does not cross
	paper.UpdatePrice("BTCUSDT", d("49950"))
	if positions, _ := paper.QueryPositions(ctx, "BTCUSDT"); len(positions) != 0 {
		t.Error("Uncrossed quote must not fill")
	}

	bal, _ := paper.QueryBalance(ctx)
	// 1000 - 49890*0.61/40 locked by the order
	if !bal.Available.Equal(d("1000").Sub(d("49890").Mul(d("0.610")).Div(d("40")))) {
		t.Errorf("Unexpected available balance %s", bal.Available)
	}
}

func TestPaperExecution_FillAndFlatten(t *testing.T) {
	paper := newPaper(t)
	ctx := context.Background()

	var alerts []domain.PositionAlert
	paper.OnFill(func(a domain.PositionAlert) { alerts = append(alerts, a) })

	if _, err := paper.NewOrder(ctx, limitBuy("49890", "0.5")); err != nil {
		t.Fatalf("NewOrder failed: %v", err)
	}

	paper.UpdatePrice("BTCUSDT", d("49800"))

	positions, _ := paper.QueryPositions(ctx, "BTCUSDT")
	if len(positions) != 1 || !positions[0].Qty.Equal(d("0.5")) {
		t.Fatalf("Expected long 0.5, got %+v", positions)
	}
	if orders, _ := paper.QueryOpenOrders(ctx, "BTCUSDT"); len(orders) != 0 {
		t.Error("Filled order must leave the book")
	}
	if len(alerts) != 1 || !alerts[0].HasExposure("BTCUSDT") {
		t.Fatalf("Expected one exposure alert, got %+v", alerts)
	}

	res, err := paper.MarketOrder(ctx, "BTCUSDT", positions[0].CloseSide(), positions[0].Qty)
	if err != nil || !res.Accepted() {
		t.Fatalf("MarketOrder failed: %v %+v", err, res)
	}

	if positions, _ := paper.QueryPositions(ctx, "BTCUSDT"); len(positions) != 0 {
		t.Errorf("Position should be flat, got %+v", positions)
	}
	if len(alerts) != 2 || alerts[1].HasExposure("BTCUSDT") {
		t.Errorf("Expected a flat alert after close, got %+v", alerts)
	}

	// Bought at 49890, sold at 49800: lost 90 * 0.5 = 45
	bal, _ := paper.QueryBalance(ctx)
	if !bal.Equity.Equal(d("955")) {
		t.Errorf("Expected equity 955, got %s", bal.Equity)
	}
	if len(paper.Fills()) != 2 {
		t.Errorf("Expected 2 fills, got %d", len(paper.Fills()))
	}
}

func TestPaperExecution_ShortFill(t *testing.T) {
	paper := newPaper(t)
	ctx := context.Background()

	req := limitBuy("50110", "0.2")
	req.Side = domain.SideSell
	if res, _ := paper.NewOrder(ctx, req); !res.Accepted() {
		t.Fatalf("Sell quote rejected: %+v", res)
	}

	paper.UpdatePrice("BTCUSDT", d("50120"))

	positions, _ := paper.QueryPositions(ctx, "BTCUSDT")
	if len(positions) != 1 || !positions[0].Qty.Equal(d("-0.2")) {
		t.Fatalf("Expected short 0.2, got %+v", positions)
	}
	if positions[0].CloseSide() != domain.SideBuy {
		t.Error("Short must close with a buy")
	}
}

func TestPaperExecution_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.OrderRequest
		code string
	}{
		{
			name: "post-only would take",
			req:  limitBuy("50010", "0.1"),
			code: CodePostOnlyWouldTake,
		},
		{
			name: "insufficient margin",
			req:  limitBuy("49000", "10"),
			code: CodeInsufficientMargin,
		},
		{
			name: "zero size",
			req:  limitBuy("49000", "0"),
			code: CodeInvalidRequest,
		},
		{
			name: "reduce-only without position",
			req: domain.OrderRequest{
				Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.OrderTypeMarket,
				Qty: d("0.1"), ReduceOnly: true,
			},
			code: CodeReduceOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paper := newPaper(t)
			res, err := paper.NewOrder(ctx, tt.req)
			if err != nil {
				t.Fatalf("Rejections are results, not errors: %v", err)
			}
			if res.Accepted() || res.Code != tt.code {
				t.Errorf("Expected code %s, got %+v", tt.code, res)
			}
		})
	}
}

func TestPaperExecution_CancelIsIdempotent(t *testing.T) {
	paper := newPaper(t)
	ctx := context.Background()

	res, _ := paper.NewOrder(ctx, limitBuy("49890", "0.1"))

	for i := 0; i < 2; i++ {
		if err := paper.CancelOrders(ctx, "BTCUSDT", []string{res.OrderID, "unknown"}); err != nil {
			t.Fatalf("CancelOrders failed: %v", err)
		}
	}
	if orders, _ := paper.QueryOpenOrders(ctx, "BTCUSDT"); len(orders) != 0 {
		t.Errorf("Expected empty book, got %d", len(orders))
	}
}

func TestPaperExecution_CancelledContext(t *testing.T) {
	paper := newPaper(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := paper.QueryPositions(ctx, "BTCUSDT"); err == nil {
		t.Error("Expected context error")
	}
}

func TestPaperExecution_ImplementsInterface(t *testing.T) {
	var _ domain.Exchange = (*PaperExecution)(nil)
}
