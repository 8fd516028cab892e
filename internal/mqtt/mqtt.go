// Package mqtt provides MQTT publishing and subscription with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/capture-scheduler/internal/logic"
)

// Topics used by the daemon.
const (
	// TopicEvents carries one message per fired capture.
	TopicEvents = "capture/scheduler/events"
	// TopicSystem carries lifecycle events (startup, shutdown, heartbeat).
	TopicSystem = "capture/scheduler/system"
	// TopicConditions is where an upstream quality gate publishes conditions.
	TopicConditions = "capture/scheduler/conditions"
	// TopicCommands accepts START, RESET and INVALIDATE.
	TopicCommands = "capture/scheduler/commands"
)

// ErrInvalidCondition is returned by ParseCondition for unrecognised payloads.
var ErrInvalidCondition = errors.New("mqtt: invalid condition payload")

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a capture event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber delivers message payloads for a topic.
type Subscriber interface {
	Subscribe(topic string, handler func(payload []byte)) error
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

// Payload represents the MQTT message payload structure.
type Payload struct {
	Capture CapturePayload `json:"capture"`
}

// CapturePayload contains the capture event details.
type CapturePayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Session   string `json:"session,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Complete  bool   `json:"complete"`
}

// FormatPayload creates the JSON payload for a capture event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Capture: CapturePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Session:   event.Session,
			Completed: event.Progress.Completed,
			Total:     event.Progress.Total,
			Complete:  event.Progress.IsCompleted(),
		},
	}
	return json.Marshal(payload)
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

// conditionJSON is the structured form of a condition message.
type conditionJSON struct {
	OK *bool `json:"ok"`
}

// ParseCondition decodes a condition message. Accepted forms are the words
// true/false, 1/0, on/off, yes/no (any case), a bare JSON boolean, or
// {"ok": <bool>}.
func ParseCondition(payload []byte) (bool, error) {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	switch s {
	case "true", "1", "on", "yes", "ok":
		return true, nil
	case "false", "0", "off", "no":
		return false, nil
	}
	if strings.HasPrefix(s, "{") {
		var c conditionJSON
		if err := json.Unmarshal(payload, &c); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
		if c.OK == nil {
			return false, fmt.Errorf("%w: missing \"ok\" field", ErrInvalidCondition)
		}
		return *c.OK, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidCondition, s)
}
