package engine

import (
	"context"
	"testing"
	"time"

	"quote_keeper/internal/domain"
)

func TestWatchdog_TripCancelsBeforeEmergency(t *testing.T) {
	h := newHarness(t)
	h.runCycle("tick")
	if h.quote() == nil {
		t.Fatal("Setup: expected a resting quote")
	}

	emergencyAtCancel := true
	h.exchange.onCancel = func() {
		emergencyAtCancel = h.engine.Snapshot().Emergency
	}

	h.feed.setHealth(false, 11*time.Second)
	h.engine.CheckHealth(context.Background())

	if h.exchange.count("cancel") != 1 {
		t.Fatal("A dead feed must cancel the resting quote")
	}
	if emergencyAtCancel {
		t.Error("Orders must be cancelled before Emergency is set")
	}
	snap := h.engine.Snapshot()
	if !snap.Emergency || snap.Quote != nil {
		t.Errorf("Expected emergency without a quote, got %+v", snap)
	}
	if len(h.exchange.openOrders()) != 0 {
		t.Error("No order may rest while the feed is dead")
	}
}

func TestWatchdog_StaleRule(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		silence   time.Duration
		dead      bool
	}{
		{"healthy", true, time.Second, false},
		{"disconnected but recent", false, 5 * time.Second, false},
		{"disconnected and silent", false, 11 * time.Second, true},
		{"connected but silent for long", true, 31 * time.Second, true},
		{"connected and quiet", true, 20 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.feed.setHealth(tt.connected, tt.silence)

			h.engine.CheckHealth(context.Background())
			h.engine.cycles.Wait()

			if got := h.engine.Snapshot().Emergency; got != tt.dead {
				t.Errorf("Emergency = %v, want %v", got, tt.dead)
			}
		})
	}
}

func TestWatchdog_RecoveryClearsReference(t *testing.T) {
	h := newHarness(t)
	h.runCycle("tick")

	h.feed.setHealth(false, time.Minute)
	h.engine.CheckHealth(context.Background())

	// A stale quote sneaks back in; recovery must still drop it.
	h.engine.mu.Lock()
	h.engine.quote = &domain.Quote{Symbol: testSymbol, ReferencePrice: d("49890"), Price: d("49890")}
	h.engine.mu.Unlock()

	// No price yet after the reconnect, so the re-entry cycle cannot quote.
	h.feed.mu.Lock()
	h.feed.has = false
	h.feed.mu.Unlock()
	h.feed.setHealth(true, 0)

	h.engine.CheckHealth(context.Background())
	h.engine.cycles.Wait()

	snap := h.engine.Snapshot()
	if snap.Emergency {
		t.Error("Recovery must clear Emergency")
	}
	if snap.Quote != nil {
		t.Error("Recovery must clear the reference price")
	}
}

func TestWatchdog_NoBackstopWhileDead(t *testing.T) {
	h := newHarness(t)
	h.feed.setHealth(false, time.Minute)

	h.engine.CheckHealth(context.Background())
	before := len(h.exchange.callLog())

	h.engine.CheckHealth(context.Background())
	h.engine.cycles.Wait()

	if got := len(h.exchange.callLog()); got != before {
		t.Errorf("A dead feed must not drive venue calls, got %v", h.exchange.callLog()[before:])
	}
}

func TestWatchdog_BackstopClosesStrayPosition(t *testing.T) {
	h := newHarness(t)
	h.exchange.setPosition("0.5")

	h.engine.CheckHealth(context.Background())
	h.engine.cycles.Wait()

	if len(h.exchange.closes) != 1 {
		t.Fatalf("Missed push must still be flattened, closes = %v", h.exchange.closes)
	}
	if !h.engine.Snapshot().Cooldown {
		t.Error("Backstop close must arm the cooldown")
	}
}

func TestWatchdog_ReentersWhenNoQuote(t *testing.T) {
	h := newHarness(t)

	h.engine.CheckHealth(context.Background())
	h.engine.cycles.Wait()

	if h.quote() == nil {
		t.Fatal("Watchdog must re-enter a full cycle when no quote rests")
	}

	h.engine.CheckHealth(context.Background())
	h.engine.cycles.Wait()

	if got := h.exchange.count("new_order"); got != 1 {
		t.Errorf("A resting quote must be left alone, new_order calls = %d", got)
	}
	if got := h.exchange.count("positions"); got != 2 {
		t.Errorf("Each pass must still check the position, got %d", got)
	}
}

func TestWatchdog_SkipsWhileBusy(t *testing.T) {
	h := newHarness(t)
	h.engine.busy.Store(true)

	h.engine.CheckHealth(context.Background())
	h.engine.cycles.Wait()

	if got := len(h.exchange.callLog()); got != 0 {
		t.Errorf("Watchdog must not race an in-flight cycle, calls = %v", h.exchange.callLog())
	}
}
