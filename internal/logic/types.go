// Package logic contains pure business logic for the scent dispenser.
// This package has NO external dependencies (no GPIO, serial, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"strconv"
	"strings"
	"time"
)

// NumChannels is the number of pump channels and sniff stations.
const NumChannels = 10

// Volume limits in mL applied to every recipe entry.
const (
	VolumeMin = 0.0
	VolumeMax = 30.0
)

// CompletionToken is written on the primary interface once per completed job.
const CompletionToken = "#DONE"

// Recipe holds one volume per channel in mL, indexed by channel id 0-9.
type Recipe [NumChannels]float64

// ClampVolume limits v to [VolumeMin, VolumeMax].
func ClampVolume(v float64) float64 {
	if v < VolumeMin {
		return VolumeMin
	}
	if v > VolumeMax {
		return VolumeMax
	}
	return v
}

// Clamp returns a copy with every entry clamped to the volume limits.
func (r Recipe) Clamp() Recipe {
	for i := range r {
		r[i] = ClampVolume(r[i])
	}
	return r
}

// IsEmpty reports whether no channel has a positive volume.
func (r Recipe) IsEmpty() bool {
	for _, v := range r {
		if v > 0 {
			return false
		}
	}
	return true
}

// Total returns the sum of all volumes.
func (r Recipe) Total() float64 {
	var sum float64
	for _, v := range r {
		sum += v
	}
	return sum
}

// Format renders the recipe in the line protocol form "v0,v1,...,v9".
// Whole numbers keep one decimal ("5.0") to match what the host sends.
func (r Recipe) Format() string {
	parts := make([]string, NumChannels)
	for i, v := range r {
		if v == float64(int64(v)) {
			parts[i] = strconv.FormatFloat(v, 'f', 1, 64)
		} else {
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return strings.Join(parts, ",")
}

// TemperatureSample is the latest reading from the temperature/humidity sensor.
type TemperatureSample struct {
	Celsius  float64
	Humidity float64
	Time     time.Time
	Valid    bool
}

// ChannelConfig is the static flow model for one pump channel.
type ChannelConfig struct {
	// Nominal pump-on time per mL at or below the cold breakpoint.
	BaseRateMsPerMl float64
	// Adjustment per mL at the hot breakpoint; negative because warm liquid flows faster.
	MaxCompensationMsPerMl float64
}

// JobState is the dispense controller's job state.
type JobState string

const (
	JobIdle       JobState = "IDLE"
	JobMovingDown JobState = "MOVING_DOWN"
	JobAtBottom   JobState = "AT_BOTTOM"
	JobDispensing JobState = "DISPENSING"
	JobMovingUp   JobState = "MOVING_UP"
	JobFault      JobState = "FAULT"
)

// Busy reports whether a job owns the apparatus in this state.
func (s JobState) Busy() bool {
	return s != JobIdle
}

// EventType identifies a published controller event.
type EventType string

const (
	EventRecipeAccepted EventType = "RECIPE_ACCEPTED"
	EventRecipeRejected EventType = "RECIPE_REJECTED"
	EventJobStarted     EventType = "JOB_STARTED"
	EventChannelOn      EventType = "CHANNEL_ON"
	EventChannelOff     EventType = "CHANNEL_OFF"
	EventJobCompleted   EventType = "JOB_COMPLETED"
	EventJobFault       EventType = "JOB_FAULT"
	EventJobAborted     EventType = "JOB_ABORTED"
	EventTestDispense   EventType = "TEST_DISPENSE"
	EventSniff          EventType = "SNIFF"
	EventReset          EventType = "RESET"
)

// Event represents a controller occurrence to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	JobID     string
	// Channel is the 0-based channel id, or -1 when the event is not channel specific.
	Channel int
	Detail  string
}

// SniffCounts tracks activations per sniff station since startup.
type SniffCounts [NumChannels]int

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp     time.Time
	Uptime        time.Duration
	JobsCompleted int
	JobsFaulted   int
	Sniffs        SniffCounts
}

// Production identifies a recipe submitted over the HTTP API. Its outcome is
// reported to CallbackURL when the job ends.
type Production struct {
	ID          string
	CallbackURL string
}

// IsZero reports whether p carries no production.
func (p Production) IsZero() bool {
	return p.ID == "" && p.CallbackURL == ""
}

// Submission is a line handed to the controller by the HTTP API.
type Submission struct {
	Line       string
	Production Production
}
