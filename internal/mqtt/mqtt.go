// Package mqtt provides MQTT publishing and subscriptions with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/turbulence-sensor/internal/host"
	"github.com/sweeney/turbulence-sensor/internal/logic"
)

// Topics used by the daemon.
const (
	// TopicEvents carries stabilized status transitions.
	TopicEvents = "turbulence/sensor/events"

	// TopicReadings carries periodic readings while a session runs.
	TopicReadings = "turbulence/sensor/readings"

	// TopicSystem carries lifecycle events (STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED).
	TopicSystem = "turbulence/sensor/system"

	// TopicNotification carries the retained overlay notification.
	TopicNotification = "turbulence/sensor/overlay/notification"

	// TopicCommand receives overlay commands (STOP, DISMISS, SHOW).
	TopicCommand = "turbulence/sensor/overlay/cmd"

	// TopicSamples receives raw samples from a remote IMU bridge.
	TopicSamples = "turbulence/sensor/samples"
)

// Publisher publishes daemon output to MQTT.
type Publisher interface {
	// PublishEvent sends a status transition. Errors should not crash the process.
	PublishEvent(event StatusEvent) error

	// PublishReading sends a periodic reading.
	PublishReading(r Reading) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// PublishNotification sends the overlay notification, retained.
	PublishNotification(n host.Notification) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers messages for topics and reports connection loss.
type Subscriber interface {
	Subscribe(topic string, fn func(payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
	// ConnectionLost returns a channel closed at the next connection loss.
	ConnectionLost() <-chan struct{}
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// EventType identifies a status event.
type EventType string

const (
	EventStatusChange EventType = "STATUS_CHANGE"
	EventSensorLost   EventType = "SENSOR_LOST"
)

// StatusEvent is a stabilized status transition of one engine.
type StatusEvent struct {
	Timestamp time.Time
	Host      string
	Session   string
	Type      EventType
	From      logic.Level
	To        logic.Level
	GForce    float64
}

// Reading is a periodic sample of one engine's display values.
type Reading struct {
	Timestamp   time.Time
	Host        string
	Session     string
	GForce      float64
	Status      logic.Level
	WorstRecent float64
	Min         float64
	Max         float64
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventPayload is the MQTT message payload for a status event.
type EventPayload struct {
	Turbulence EventInner `json:"turbulence"`
}

// EventInner contains the status event details.
type EventInner struct {
	Timestamp string  `json:"timestamp"`
	Host      string  `json:"host"`
	Session   string  `json:"session"`
	Event     string  `json:"event"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	GForce    float64 `json:"g_force"`
}

// FormatEventPayload creates the JSON payload for a status event.
func FormatEventPayload(event StatusEvent) ([]byte, error) {
	return json.Marshal(EventPayload{
		Turbulence: EventInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Host:      event.Host,
			Session:   event.Session,
			Event:     string(event.Type),
			From:      event.From.String(),
			To:        event.To.String(),
			GForce:    round3(event.GForce),
		},
	})
}

// ReadingPayload is the MQTT message payload for a reading.
type ReadingPayload struct {
	Reading ReadingInner `json:"reading"`
}

// ReadingInner contains the reading details.
type ReadingInner struct {
	Timestamp   string  `json:"timestamp"`
	Host        string  `json:"host"`
	Session     string  `json:"session"`
	GForce      float64 `json:"g_force"`
	Status      string  `json:"status"`
	WorstRecent float64 `json:"worst_recent"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

// FormatReadingPayload creates the JSON payload for a reading.
func FormatReadingPayload(r Reading) ([]byte, error) {
	return json.Marshal(ReadingPayload{
		Reading: ReadingInner{
			Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
			Host:        r.Host,
			Session:     r.Session,
			GForce:      round3(r.GForce),
			Status:      r.Status.String(),
			WorstRecent: round3(r.WorstRecent),
			Min:         round3(r.Min),
			Max:         round3(r.Max),
		},
	})
}

// NotificationPayload is the MQTT message payload for the overlay notification.
type NotificationPayload struct {
	Notification host.Notification `json:"notification"`
}

// FormatNotificationPayload creates the JSON payload for the overlay notification.
func FormatNotificationPayload(n host.Notification) ([]byte, error) {
	n.GForce = round3(n.GForce)
	return json.Marshal(NotificationPayload{Notification: n})
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

// Notifier adapts a Publisher to the overlay's notification sink.
type Notifier struct {
	Publisher Publisher
}

// Notify publishes n as the retained overlay notification.
func (n Notifier) Notify(note host.Notification) error {
	return n.Publisher.PublishNotification(note)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
