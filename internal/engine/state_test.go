package engine

import (
	"testing"
	"time"
)

func TestState_Transitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState(10 * time.Minute)

	if !s.CanQuote(now) {
		t.Fatal("Fresh state must allow quoting")
	}

	em := s.EnterEmergency()
	if em.CanQuote(now) || !em.Emergency {
		t.Error("Emergency must block quoting")
	}
	if s.Emergency {
		t.Error("Transitions must not mutate the receiver")
	}
	if em.ExitEmergency().Emergency {
		t.Error("ExitEmergency must clear the flag")
	}

	if s.Stop().CanQuote(now) {
		t.Error("A stopping engine must not quote")
	}
}

func TestState_CooldownIsMonotonic(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState(10 * time.Minute)

	// false -> true -> false, and nothing re-arms it except a fresh close
	if s.InCooldown(start) {
		t.Fatal("Cooldown must start inactive")
	}
	s = s.RecordClose(start)

	active := true
	for elapsed := time.Duration(0); elapsed <= 15*time.Minute; elapsed += 30 * time.Second {
		got := s.InCooldown(start.Add(elapsed))
		if got && !active {
			t.Fatalf("Cooldown re-armed itself at +%v", elapsed)
		}
		active = got
	}
	if active {
		t.Fatal("Cooldown must expire after the window")
	}

	s = s.RecordClose(start.Add(20 * time.Minute))
	if !s.InCooldown(start.Add(21 * time.Minute)) {
		t.Error("A fresh close must re-arm the cooldown")
	}
}

func TestState_Mode(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := NewState(time.Minute)

	tests := []struct {
		name  string
		state State
		busy  bool
		want  string
	}{
		{"idle", base, false, "idle"},
		{"busy", base, true, "busy"},
		{"cooldown", base.RecordClose(now), false, "cooldown"},
		{"emergency wins over busy", base.EnterEmergency(), true, "emergency"},
		{"stopping wins over everything", base.EnterEmergency().Stop(), true, "stopping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Mode(now, tt.busy); got != tt.want {
				t.Errorf("Mode() = %s, want %s", got, tt.want)
			}
		})
	}
}
