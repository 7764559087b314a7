package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	State         string          `json:"state"`
	JobID         string          `json:"job_id,omitempty"`
	Recipe        []float64       `json:"recipe"`
	RecipeArmed   bool            `json:"recipe_armed"`
	Running       []int           `json:"running_channels"`
	Temperature   TemperatureJSON `json:"temperature"`
	Sniffs        []int           `json:"sniff_counts"`
	JobsCompleted int             `json:"jobs_completed"`
	JobsFaulted   int             `json:"jobs_faulted"`
	LastFault     string          `json:"last_fault,omitempty"`
	LastJobAt     string          `json:"last_job_at,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Config        ConfigJSON      `json:"config"`
}

// TemperatureJSON is the JSON representation of the latest sample.
type TemperatureJSON struct {
	Celsius  float64 `json:"celsius"`
	Humidity float64 `json:"humidity"`
	Valid    bool    `json:"valid"`
	SampleAt string  `json:"sample_at,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs       int64          `json:"poll_ms"`
	HeartbeatMs  int64          `json:"heartbeat_ms"`
	TempMin      float64        `json:"temp_min"`
	TempMax      float64        `json:"temp_max"`
	TestCommands bool           `json:"test_commands"`
	Broker       string         `json:"broker"`
	SerialPort   string         `json:"serial_port"`
	HTTPAddr     string         `json:"http_addr"`
	Ingredients  map[string]int `json:"ingredients,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.JobState)
	if state == "" {
		state = "UNKNOWN"
	}

	running := []int{}
	for i, on := range snap.Running {
		if on {
			running = append(running, i+1)
		}
	}

	inner := StatusInner{
		State:         state,
		JobID:         snap.JobID,
		Recipe:        snap.Recipe[:],
		RecipeArmed:   snap.RecipeArmed,
		Running:       running,
		Sniffs:        snap.Sniffs[:],
		JobsCompleted: snap.JobsCompleted,
		JobsFaulted:   snap.JobsFaulted,
		LastFault:     snap.LastFault,
		Temperature: TemperatureJSON{
			Celsius:  snap.Sample.Celsius,
			Humidity: snap.Sample.Humidity,
			Valid:    snap.Sample.Valid,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollMs:       snap.Config.PollMs,
			HeartbeatMs:  snap.Config.HeartbeatMs,
			TempMin:      snap.Config.TempMin,
			TempMax:      snap.Config.TempMax,
			TestCommands: snap.Config.TestCommands,
			Broker:       snap.Config.Broker,
			SerialPort:   snap.Config.SerialPort,
			HTTPAddr:     snap.Config.HTTPAddr,
			Ingredients:  snap.Config.IngredientsMap,
		},
	}
	if !snap.Sample.Time.IsZero() {
		inner.Temperature.SampleAt = snap.Sample.Time.UTC().Format(time.RFC3339)
	}
	if !snap.LastJobAt.IsZero() {
		inner.LastJobAt = snap.LastJobAt.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
