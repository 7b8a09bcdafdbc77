// Package bus provides the in-process event fan-out used by the control daemon.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a message published on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	TaskID    string                 `json:"taskId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent creates a new event with a generated id and the current timestamp.
func NewEvent(eventType, taskID string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Handler receives events delivered to a subscription.
type Handler func(event *Event)

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe()
}

// Bus is the publish/subscribe fan-out consumed by the control daemon's SSE
// handler. Subjects support NATS-style wildcards: "*" matches one token,
// ">" matches the remainder of the subject.
type Bus interface {
	Publish(subject string, event *Event)
	Subscribe(subject string, handler Handler) Subscription
	Close()
}
