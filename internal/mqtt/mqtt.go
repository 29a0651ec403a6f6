// Package mqtt publishes presence, actuation and lifecycle events to an MQTT
// broker, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/presence"
)

// Topic is the MQTT topic for presence events.
const Topic = "home/door/greeter/events"

// TopicActuation is the MQTT topic for sequence reports.
const TopicActuation = "home/door/greeter/actuation"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/door/greeter/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a presence event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event presence.Event) error

	// PublishActuation sends a finished sequence report.
	PublishActuation(report actuation.Report) error

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
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload is the presence event message.
type Payload struct {
	Presence PresencePayload `json:"presence"`
}

// PresencePayload contains the presence event details.
type PresencePayload struct {
	Timestamp      string  `json:"timestamp"`
	Event          string  `json:"event"`
	Identity       string  `json:"identity"`
	RSSI           *int    `json:"rssi,omitempty"`
	AbsenceSeconds float64 `json:"absence_seconds,omitempty"`
}

// FormatPayload creates the JSON payload for a presence event. DEPARTED
// events carry no RSSI.
func FormatPayload(event presence.Event) ([]byte, error) {
	p := PresencePayload{
		Timestamp:      event.Timestamp.UTC().Format(time.RFC3339),
		Event:          string(event.Type),
		Identity:       string(event.Identity),
		AbsenceSeconds: event.Absence.Seconds(),
	}
	if event.Type != presence.EventDeparted {
		rssi := event.RSSI
		p.RSSI = &rssi
	}
	return json.Marshal(Payload{Presence: p})
}

// ActuationPayload is the sequence report message.
type ActuationPayload struct {
	Actuation ActuationInner `json:"actuation"`
}

// ActuationInner contains the sequence report details.
type ActuationInner struct {
	Timestamp       string  `json:"timestamp"`
	Identity        string  `json:"identity"`
	Outcome         string  `json:"outcome"`
	Reached         string  `json:"reached"`
	DurationSeconds float64 `json:"duration_seconds"`
	AbsenceSeconds  float64 `json:"absence_seconds"`
	Error           string  `json:"error,omitempty"`
}

// FormatActuationPayload creates the JSON payload for a sequence report,
// timestamped at the moment the sequence finished.
func FormatActuationPayload(r actuation.Report) ([]byte, error) {
	inner := ActuationInner{
		Timestamp:       r.Finished.UTC().Format(time.RFC3339),
		Identity:        string(r.Request.Identity),
		Outcome:         r.Outcome(),
		Reached:         string(r.Reached),
		DurationSeconds: r.Duration().Seconds(),
		AbsenceSeconds:  r.Request.Absence.Seconds(),
	}
	if r.Err != nil {
		inner.Error = r.Err.Error()
	}
	return json.Marshal(ActuationPayload{Actuation: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
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
