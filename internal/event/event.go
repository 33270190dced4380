// Package event defines the unit of work flowing through the pipeline.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is one upstream occurrence to be rendered and dispatched.
//
// Events are read-only once created: sources build them, the pipeline
// consumes them exactly once, nothing mutates them in between.
type Event struct {
	ID         string
	Source     string
	ReceivedAt time.Time

	// Payload holds the template bindings for this event. Values may be any
	// JSON-decoded type; templates index into it by key.
	Payload map[string]any
}

// New builds an event with a fresh ID and receipt timestamp.
func New(source string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:         uuid.NewString(),
		Source:     source,
		ReceivedAt: time.Now(),
		Payload:    payload,
	}
}
