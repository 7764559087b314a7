package logic

import "time"

// SniffAction is the servo command produced by a SniffTrigger update.
type SniffAction int

const (
	SniffNone SniffAction = iota
	SniffOpen
	SniffRetract
)

func (a SniffAction) String() string {
	switch a {
	case SniffOpen:
		return "open"
	case SniffRetract:
		return "retract"
	default:
		return "none"
	}
}

// SniffTiming holds the debounce and hold parameters shared by all stations.
type SniffTiming struct {
	Debounce       time.Duration
	RetriggerGuard time.Duration
	Hold           time.Duration
}

// SniffTrigger tracks debounce, retrigger and hold state for one proximity sensor.
// Triggered implies Stable. ActuatorBusy implies the servo was commanded open
// and has not reached its hold timeout.
type SniffTrigger struct {
	timing SniffTiming

	PrevActive      bool
	DebounceEdge    time.Time
	Stable          bool
	Triggered       bool
	LastFire        time.Time
	ActuatorBusy    bool
	ActuatorStarted time.Time
}

// NewSniffTrigger creates a trigger with the given timing.
func NewSniffTrigger(timing SniffTiming) *SniffTrigger {
	return &SniffTrigger{timing: timing}
}

// Update takes the raw sensor level for this cycle and returns the servo command to issue.
// rawLow is true when the sensor line reads low, which means an object is present.
// Presence and actuator hold are handled independently, so at most one action is
// returned per cycle: an open takes precedence over a retract because a retract
// can only be due when the actuator was opened at least Hold ago.
func (s *SniffTrigger) Update(rawLow bool, now time.Time) SniffAction {
	active := rawLow

	if active && !s.PrevActive {
		s.DebounceEdge = now
	}
	s.PrevActive = active

	action := SniffNone

	if active {
		if !s.Stable && !s.Triggered &&
			now.Sub(s.DebounceEdge) >= s.timing.Debounce &&
			s.guardElapsed(now) {
			s.Stable = true
			s.Triggered = true
			s.LastFire = now
			s.ActuatorBusy = true
			s.ActuatorStarted = now
			return SniffOpen
		}
	} else {
		// Re-arm for the next presentation; the actuator keeps its own hold timer.
		s.Stable = false
		s.Triggered = false
	}

	if s.ActuatorBusy && now.Sub(s.ActuatorStarted) >= s.timing.Hold {
		s.ActuatorBusy = false
		action = SniffRetract
	}

	return action
}

func (s *SniffTrigger) guardElapsed(now time.Time) bool {
	if s.LastFire.IsZero() {
		return true
	}
	return now.Sub(s.LastFire) >= s.timing.RetriggerGuard
}
