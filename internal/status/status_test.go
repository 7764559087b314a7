package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 10, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 10 {
		t.Errorf("Config.PollMs: got %d, want 10", snap.Config.PollMs)
	}
	if snap.JobState != logic.JobIdle {
		t.Errorf("expected IDLE initially, got %s", snap.JobState)
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestJobLifecycle(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tr.SetRecipe(logic.Recipe{5}, true)
	tr.SetJob(logic.JobDispensing, "job-1")
	tr.SetRunning([logic.NumChannels]bool{true})

	snap := tr.Snapshot()
	if snap.JobState != logic.JobDispensing || snap.JobID != "job-1" {
		t.Errorf("unexpected job: %s %s", snap.JobState, snap.JobID)
	}
	if !snap.RecipeArmed || snap.Recipe[0] != 5 {
		t.Errorf("unexpected recipe: %v armed=%v", snap.Recipe, snap.RecipeArmed)
	}
	if !snap.Running[0] {
		t.Error("expected channel 1 running")
	}

	tr.JobCompleted(at)
	tr.JobFaulted("bottom limit not reached", at.Add(time.Minute))

	snap = tr.Snapshot()
	if snap.JobsCompleted != 1 || snap.JobsFaulted != 1 {
		t.Errorf("counts: completed=%d faulted=%d", snap.JobsCompleted, snap.JobsFaulted)
	}
	if snap.LastFault != "bottom limit not reached" {
		t.Errorf("LastFault: got %q", snap.LastFault)
	}
	if !snap.LastJobAt.Equal(at.Add(time.Minute)) {
		t.Errorf("LastJobAt: got %v", snap.LastJobAt)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetRecipe(logic.Recipe{1, 2}, true)

	snap1 := tr.Snapshot()

	tr.SetRecipe(logic.Recipe{}, false)

	if snap1.Recipe[1] != 2 || !snap1.RecipeArmed {
		t.Error("snapshot should be a copy; recipe was modified")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		JobState:      logic.JobDispensing,
		JobID:         "abc",
		Recipe:        logic.Recipe{5, 0, 2.5},
		RecipeArmed:   true,
		Running:       [logic.NumChannels]bool{true, false, true},
		Sample:        logic.TemperatureSample{Celsius: 28.4, Humidity: 41, Valid: true, Time: start},
		Sniffs:        logic.SniffCounts{0, 4},
		JobsCompleted: 7,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollMs: 10, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.State != "DISPENSING" {
		t.Errorf("State: got %q, want DISPENSING", s.State)
	}
	if len(s.Recipe) != logic.NumChannels || s.Recipe[2] != 2.5 {
		t.Errorf("Recipe: got %v", s.Recipe)
	}
	if len(s.Running) != 2 || s.Running[0] != 1 || s.Running[1] != 3 {
		t.Errorf("Running: got %v, want [1 3]", s.Running)
	}
	if !s.Temperature.Valid || s.Temperature.Celsius != 28.4 {
		t.Errorf("Temperature: got %+v", s.Temperature)
	}
	if s.Sniffs[1] != 4 {
		t.Errorf("Sniffs: got %v", s.Sniffs)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if !s.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", parsed.Status.State)
	}
	if parsed.Status.Running == nil {
		t.Error("running_channels should be an empty list, not null")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		JobState:  logic.JobIdle,
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 1800 {
		t.Errorf("UptimeSeconds: got %d, want 1800", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.SetJob(logic.JobDispensing, "x")
			tr.SetSniffs(logic.SniffCounts{i})
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
