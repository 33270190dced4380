// Package source hosts the intake adapters. Each source turns an upstream
// delivery (HTTP POST, MQTT message, Kafka record, Telegram message) into an
// event and hands it to the pipeline's sink.
//
// Sources expose a blocking Run(ctx); the app runs each one under a
// supervised restart loop so transient upstream failures self-heal.
package source

import (
	"encoding/json"

	"pushbridge/internal/event"
)

// Sink accepts events into the pipeline. Satisfied by *pipeline.Service.
type Sink interface {
	Enqueue(ev event.Event) bool
}

// payloadFromBytes decodes a raw upstream body into template bindings.
// A JSON object maps through as-is; anything else lands under "text".
func payloadFromBytes(b []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"text": string(b)}
}
