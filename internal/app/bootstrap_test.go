package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/execution"

	"github.com/shopspring/decimal"
)

const paperConfig = `
app:
  mode: paper
  data_dir: {{dir}}/data
bitget:
  ws_public_url: ws://127.0.0.1:1/v2/ws/public
  paper_balance: "1000"
strategy:
  symbol: BTCUSDT
  side: buy
  leverage: 40
  offset: "0.0022"
  low_threshold: "0.0012"
  high_threshold: "0.004"
  price_precision: 1
  qty_precision: 3
feed:
  max_retries: 1000
  retry_delay: 10ms
logging:
  dir: {{dir}}/logs
`

func newPaperBootstrap(t *testing.T) *Bootstrap {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(paperConfig, "{{dir}}", dir)), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	b := NewBootstrap(path)
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBootstrap_PaperWiring(t *testing.T) {
	b := newPaperBootstrap(t)
	ctx := context.Background()

	if b.Paper == nil || b.Exchange != domain.Exchange(b.Paper) {
		t.Fatal("Paper mode must route orders to the paper venue")
	}

	bal, err := b.Exchange.QueryBalance(ctx)
	if err != nil || !bal.Available.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("Expected the paper balance to be deposited, got %v %v", bal, err)
	}

	// Feed prices reach the paper venue through the tracker.
	b.Prices.UpdatePrice(domain.Ticker{Symbol: "BTCUSDT", Price: decimal.NewFromInt(50000), At: time.Now()})

	res, err := b.Exchange.NewOrder(ctx, domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: decimal.NewFromInt(50010), Qty: decimal.RequireFromString("0.01"), PostOnly: true,
	})
	if err != nil || res.Code != execution.CodePostOnlyWouldTake {
		t.Errorf("Expected post-only rejection against the tracked price, got %+v %v", res, err)
	}
}

func TestBootstrap_RunStopsOnCancel(t *testing.T) {
	b := newPaperBootstrap(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run must return once ctx is done")
	}

	if orders, _ := b.Exchange.QueryOpenOrders(context.Background(), "BTCUSDT"); len(orders) != 0 {
		t.Errorf("No order may survive shutdown, got %d", len(orders))
	}
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	b := NewBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	if err := b.Initialize(); err == nil {
		t.Error("Missing config must fail")
	}
}
