package engine

import (
	"context"
	"log/slog"
)

// CheckHealth is one watchdog pass. It is called by Run on every tick of the
// watchdog ticker.
//
// A feed that just died gets its orders cancelled before the engine enters
// Emergency. A feed that came back clears Emergency and the reference, so the
// next tick re-quotes from scratch. Otherwise, when nothing else is running,
// the pass doubles as a position backstop and re-enters a full cycle if no
// quote is resting.
func (e *Engine) CheckHealth(ctx context.Context) {
	health := e.feed.Health()
	dead := e.cfg.Stale.IsDead(health)
	now := e.clock.Now()

	e.mu.Lock()
	wasDead := e.state.Emergency
	stopping := e.state.Stopping
	e.metrics.SetCooldown(e.state.InCooldown(now))
	e.mu.Unlock()

	if stopping {
		return
	}

	switch {
	case dead && !wasDead:
		e.metrics.RecordWatchdogTrip()
		e.logger.Error("Price feed dead, pulling quotes",
			slog.Bool("connected", health.Connected),
			slog.Duration("silence", health.SinceLastMessage))
		if err := e.cancelAll(ctx); err != nil {
			e.logger.Error("Cancel on feed loss failed", slog.Any("error", err))
		}
		e.mu.Lock()
		e.state = e.state.EnterEmergency()
		e.clearQuoteLocked()
		e.mu.Unlock()
		e.metrics.SetEmergency(true)
		return

	case !dead && wasDead:
		e.mu.Lock()
		e.state = e.state.ExitEmergency()
		e.clearQuoteLocked()
		e.mu.Unlock()
		e.metrics.SetEmergency(false)
		e.logger.Info("Price feed recovered, leaving emergency",
			slog.Duration("silence", health.SinceLastMessage))

	case dead:
		return
	}

	if e.busy.Load() {
		return
	}
	e.trigger("watchdog", "backstop")
}
