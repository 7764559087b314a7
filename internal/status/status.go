// Package status provides a thread-safe status tracker for the scent-dispenser daemon.
// The controller is the only writer; HTTP handlers, the websocket feed and
// MQTT system events read snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Broker         string
	SerialPort     string
	HTTPAddr       string
	HeartbeatMs    int64
	PollMs         int64
	TempMin        float64
	TempMax        float64
	TestCommands   bool
	IngredientsMap map[string]int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	JobState      logic.JobState
	JobID         string
	Recipe        logic.Recipe
	RecipeArmed   bool
	Running       [logic.NumChannels]bool
	Sample        logic.TemperatureSample
	Sniffs        logic.SniffCounts
	JobsCompleted int
	JobsFaulted   int
	LastFault     string
	LastJobAt     time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			JobState:  logic.JobIdle,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetJob records the controller state and the active job id.
func (t *Tracker) SetJob(state logic.JobState, jobID string) {
	t.mu.Lock()
	t.snap.JobState = state
	t.snap.JobID = jobID
	t.mu.Unlock()
}

// SetRecipe records the stored recipe and whether it is armed.
func (t *Tracker) SetRecipe(r logic.Recipe, armed bool) {
	t.mu.Lock()
	t.snap.Recipe = r
	t.snap.RecipeArmed = armed
	t.mu.Unlock()
}

// SetRunning records which pump channels are flowing.
func (t *Tracker) SetRunning(running [logic.NumChannels]bool) {
	t.mu.Lock()
	t.snap.Running = running
	t.mu.Unlock()
}

// SetSample records the temperature sample used by the controller.
func (t *Tracker) SetSample(s logic.TemperatureSample) {
	t.mu.Lock()
	t.snap.Sample = s
	t.mu.Unlock()
}

// SetSniffs records the sniff activation counts.
func (t *Tracker) SetSniffs(c logic.SniffCounts) {
	t.mu.Lock()
	t.snap.Sniffs = c
	t.mu.Unlock()
}

// JobCompleted counts a finished job.
func (t *Tracker) JobCompleted(at time.Time) {
	t.mu.Lock()
	t.snap.JobsCompleted++
	t.snap.LastJobAt = at
	t.mu.Unlock()
}

// JobFaulted counts a faulted job and records the reason.
func (t *Tracker) JobFaulted(reason string, at time.Time) {
	t.mu.Lock()
	t.snap.JobsFaulted++
	t.snap.LastFault = reason
	t.snap.LastJobAt = at
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
