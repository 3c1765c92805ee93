package strategy

import "time"

// DefaultCooldownWindow is the pause enforced after an emergency close.
const DefaultCooldownWindow = 10 * time.Minute

// Cooldown suppresses new quotes for a fixed window after an emergency close.
// The zero value has never been armed.
type Cooldown struct {
	Window time.Duration
	last   time.Time
}

// NewCooldown creates a guard with the given window.
func NewCooldown(window time.Duration) Cooldown {
	return Cooldown{Window: window}
}

// IsActive reports whether now falls inside the window of the last close.
func (c Cooldown) IsActive(now time.Time) bool {
	if c.last.IsZero() {
		return false
	}
	return now.Sub(c.last) < c.Window
}

// Remaining returns how long the guard stays active, zero when inactive.
func (c Cooldown) Remaining(now time.Time) time.Duration {
	if !c.IsActive(now) {
		return 0
	}
	return c.Window - now.Sub(c.last)
}

// Record arms the guard at t. Only a fresh close re-arms it.
func (c *Cooldown) Record(t time.Time) {
	c.last = t
}

// LastClose returns the last recorded close, zero if never.
func (c Cooldown) LastClose() time.Time {
	return c.last
}
