package engine

import (
	"time"

	"quote_keeper/internal/strategy"
)

// State is the engine's mode. Busy lives in an atomic on the Engine so that
// cycle admission is a single compare-and-swap; everything else is here and
// changes only through the transition methods below.
type State struct {
	Emergency bool
	Stopping  bool
	Cooldown  strategy.Cooldown
}

// NewState starts idle with the given cooldown window.
func NewState(window time.Duration) State {
	return State{Cooldown: strategy.NewCooldown(window)}
}

// EnterEmergency marks the feed as dead.
func (s State) EnterEmergency() State {
	s.Emergency = true
	return s
}

// ExitEmergency marks the feed as recovered.
func (s State) ExitEmergency() State {
	s.Emergency = false
	return s
}

// RecordClose arms the cooldown at t.
func (s State) RecordClose(t time.Time) State {
	s.Cooldown.Record(t)
	return s
}

// Stop blocks every later trigger.
func (s State) Stop() State {
	s.Stopping = true
	return s
}

// InCooldown reports whether the post-close pause is still running.
func (s State) InCooldown(now time.Time) bool {
	return s.Cooldown.IsActive(now)
}

// CanQuote reports whether a new quote may be placed at now.
// Check-and-close is never gated by this.
func (s State) CanQuote(now time.Time) bool {
	return !s.Stopping && !s.Emergency && !s.InCooldown(now)
}

// Mode names the dominant state for logs and /status.
func (s State) Mode(now time.Time, busy bool) string {
	switch {
	case s.Stopping:
		return "stopping"
	case s.Emergency:
		return "emergency"
	case busy:
		return "busy"
	case s.InCooldown(now):
		return "cooldown"
	default:
		return "idle"
	}
}
