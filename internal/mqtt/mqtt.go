// Package mqtt publishes controller and system events over MQTT.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/scent-dispenser/internal/logic"
)

// Default topics.
const (
	Topic       = "scent/dispenser/events"
	TopicSystem = "scent/dispenser/system"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish queues a controller event. It never blocks the caller on the network.
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the MQTT message payload for a controller event.
type Payload struct {
	Dispenser EventPayload `json:"dispenser"`
}

// EventPayload contains the controller event details.
// Channel is 1-based and omitted for events that concern no channel.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	JobID     string `json:"job_id,omitempty"`
	Channel   *int   `json:"channel,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event logic.Event) ([]byte, error) {
	p := EventPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:     string(event.Type),
		JobID:     event.JobID,
		Detail:    event.Detail,
	}
	if event.Channel >= 0 {
		ch := event.Channel + 1
		p.Channel = &ch
	}
	return json.Marshal(Payload{Dispenser: p})
}

// SystemPayload is the MQTT message payload for system events that
// don't carry a full status snapshot (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
