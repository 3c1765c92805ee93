package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Price ticks are the only high-frequency event, so only they are pooled.
//
// Usage:
//
//	ev := AcquirePriceTickEvent()
//	ev.Symbol = "BTCUSDT"
//	// ... hand to the engine, which releases it after processing ...
//	ReleasePriceTickEvent(ev)
var priceTickPool = sync.Pool{
	New: func() interface{} {
		return &PriceTickEvent{}
	},
}

// AcquirePriceTickEvent gets a PriceTickEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceTickEvent() *PriceTickEvent {
	return priceTickPool.Get().(*PriceTickEvent)
}

// ReleasePriceTickEvent returns a PriceTickEvent to the pool.
// Callers must not keep references to the event afterwards.
func ReleasePriceTickEvent(ev *PriceTickEvent) {
	if ev == nil {
		return
	}
	ev.Ts = time.Time{}
	ev.Symbol = ""
	ev.Price = decimal.Zero

	priceTickPool.Put(ev)
}

// Release returns pooled events to their pool; other events are left to the GC.
func Release(ev Event) {
	if tick, ok := ev.(*PriceTickEvent); ok {
		ReleasePriceTickEvent(tick)
	}
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*PriceTickEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquirePriceTickEvent())
	}
	for _, ev := range evs {
		ReleasePriceTickEvent(ev)
	}
}
