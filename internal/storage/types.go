package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (JSON Lines)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // delivery records older than this are prunable
}

// EventRecord marks one event receipt. Keep it compact and schema-stable.
type EventRecord struct {
	ID     string    `json:"id"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// DeliveryRecord is the outcome of one pipeline pass over one event.
type DeliveryRecord struct {
	At         time.Time `json:"at"`
	EventID    string    `json:"event_id"`
	Outcome    string    `json:"outcome"` // sent | skipped | failed
	Status     int       `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Attachment bool      `json:"attachment,omitempty"`
	TookMS     int64     `json:"took_ms"`
}

// Delivery outcomes.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)
