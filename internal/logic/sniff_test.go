package logic

import (
	"testing"
	"time"
)

var testTiming = SniffTiming{
	Debounce:       50 * time.Millisecond,
	RetriggerGuard: 3 * time.Second,
	Hold:           2 * time.Second,
}

// present drives the trigger with an active sensor from start to end in step increments
// and returns the actions observed.
func present(s *SniffTrigger, start time.Time, d, step time.Duration) []SniffAction {
	var actions []SniffAction
	for at := time.Duration(0); at <= d; at += step {
		if a := s.Update(true, start.Add(at)); a != SniffNone {
			actions = append(actions, a)
		}
	}
	return actions
}

func release(s *SniffTrigger, start time.Time, d, step time.Duration) []SniffAction {
	var actions []SniffAction
	for at := time.Duration(0); at <= d; at += step {
		if a := s.Update(false, start.Add(at)); a != SniffNone {
			actions = append(actions, a)
		}
	}
	return actions
}

func count(actions []SniffAction, want SniffAction) int {
	n := 0
	for _, a := range actions {
		if a == want {
			n++
		}
	}
	return n
}

func TestNewSniffTrigger(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	if s == nil {
		t.Fatal("NewSniffTrigger returned nil")
	}
	if s.Stable || s.Triggered || s.ActuatorBusy {
		t.Error("new trigger should be idle")
	}
}

func TestSniffIdleSensorNoAction(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	actions := release(s, now, time.Second, 10*time.Millisecond)
	if len(actions) != 0 {
		t.Errorf("expected no actions for inactive sensor, got %v", actions)
	}
}

func TestSniffDebounce(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Falling edge
	if a := s.Update(true, now); a != SniffNone {
		t.Fatalf("expected no action on edge, got %s", a)
	}

	// Just before debounce
	if a := s.Update(true, now.Add(49*time.Millisecond)); a != SniffNone {
		t.Errorf("should not trigger at 49ms, got %s", a)
	}

	// Exactly at debounce
	if a := s.Update(true, now.Add(50*time.Millisecond)); a != SniffOpen {
		t.Fatalf("should open at exactly 50ms, got %s", a)
	}
	if !s.Stable || !s.Triggered {
		t.Error("expected stable and triggered after promotion")
	}
	if !s.ActuatorBusy {
		t.Error("expected actuator busy after open")
	}
	if !s.LastFire.Equal(now.Add(50 * time.Millisecond)) {
		t.Errorf("unexpected LastFire: %v", s.LastFire)
	}
}

func TestSniffBounceRestartsDebounce(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Update(true, now)
	s.Update(false, now.Add(20*time.Millisecond))
	// New edge at 30ms
	s.Update(true, now.Add(30*time.Millisecond))

	if a := s.Update(true, now.Add(60*time.Millisecond)); a != SniffNone {
		t.Errorf("debounce should restart at the new edge, got %s", a)
	}
	if a := s.Update(true, now.Add(80*time.Millisecond)); a != SniffOpen {
		t.Errorf("expected open 50ms after the second edge, got %s", a)
	}
}

func TestSniffSinglePresentationFiresOnce(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Hold an object in front of the sensor for 10s
	actions := present(s, now, 10*time.Second, 10*time.Millisecond)

	if got := count(actions, SniffOpen); got != 1 {
		t.Errorf("expected 1 open for a single presentation, got %d", got)
	}
	if got := count(actions, SniffRetract); got != 1 {
		t.Errorf("expected 1 retract after hold, got %d", got)
	}
}

func TestSniffRetractAfterHold(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Update(true, now)
	if a := s.Update(true, now.Add(50*time.Millisecond)); a != SniffOpen {
		t.Fatalf("expected open, got %s", a)
	}

	// Object removed immediately; the actuator keeps its own hold timer
	s.Update(false, now.Add(100*time.Millisecond))
	if s.Stable || s.Triggered {
		t.Error("release should clear stable and triggered")
	}
	if !s.ActuatorBusy {
		t.Error("release must not retract the actuator early")
	}

	if a := s.Update(false, now.Add(2049*time.Millisecond)); a != SniffNone {
		t.Errorf("should not retract before hold, got %s", a)
	}
	if a := s.Update(false, now.Add(2050*time.Millisecond)); a != SniffRetract {
		t.Errorf("expected retract at hold, got %s", a)
	}
	if s.ActuatorBusy {
		t.Error("actuator should be idle after retract")
	}
}

func TestSniffRetriggerGuard(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var actions []SniffAction
	actions = append(actions, present(s, now, 200*time.Millisecond, 10*time.Millisecond)...)
	actions = append(actions, release(s, now.Add(300*time.Millisecond), 200*time.Millisecond, 10*time.Millisecond)...)
	// Second presentation 1s after the first, inside the 3s guard
	actions = append(actions, present(s, now.Add(time.Second), 500*time.Millisecond, 10*time.Millisecond)...)

	if got := count(actions, SniffOpen); got != 1 {
		t.Errorf("expected exactly 1 open inside the guard window, got %d", got)
	}
}

func TestSniffRepresentationAfterGuard(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var actions []SniffAction
	actions = append(actions, present(s, now, 200*time.Millisecond, 10*time.Millisecond)...)
	actions = append(actions, release(s, now.Add(300*time.Millisecond), 2*time.Second, 10*time.Millisecond)...)
	actions = append(actions, present(s, now.Add(4*time.Second), 200*time.Millisecond, 10*time.Millisecond)...)

	if got := count(actions, SniffOpen); got != 2 {
		t.Errorf("expected 2 opens for release then re-presentation after guard, got %d", got)
	}
}

func TestSniffHeldPastGuardDoesNotRefire(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Presence held well past the guard window must not re-fire without a release
	actions := present(s, now, 8*time.Second, 10*time.Millisecond)
	if got := count(actions, SniffOpen); got != 1 {
		t.Errorf("expected 1 open while held, got %d", got)
	}
}

func TestSniffTriggeredImpliesStable(t *testing.T) {
	s := NewSniffTrigger(testTiming)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	pattern := []bool{true, true, false, true, true, true, false, false, true}
	for i := 0; i < 400; i++ {
		s.Update(pattern[i%len(pattern)], now.Add(time.Duration(i)*20*time.Millisecond))
		if s.Triggered && !s.Stable {
			t.Fatalf("iteration %d: triggered without stable", i)
		}
	}
}

func TestSniffActionString(t *testing.T) {
	tests := []struct {
		a    SniffAction
		want string
	}{
		{SniffNone, "none"},
		{SniffOpen, "open"},
		{SniffRetract, "retract"},
	}
	for _, tt := range tests {
		if got := tt.a.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.a, got, tt.want)
		}
	}
}
