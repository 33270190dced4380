package pipeline

import (
	"sync"
	"time"
)

// Health implements the liveness predicate:
//
//	healthy  <=>  at least one event was ever received
//	          AND the most recent receipt is within ReceiveWithin
//	          AND no pipeline error occurred within ErrorWindow
//
// Receipt state can be seeded from storage so a restart does not flap the
// probe; error state is in-memory only and starts clean.
type Health struct {
	mu sync.Mutex

	receiveWithin time.Duration
	errorWindow   time.Duration

	received     bool
	lastReceived time.Time

	erred     bool
	lastError time.Time
}

func NewHealth(receiveWithin, errorWindow time.Duration) *Health {
	if receiveWithin <= 0 {
		receiveWithin = 48 * time.Hour
	}
	if errorWindow <= 0 {
		errorWindow = 30 * time.Minute
	}
	return &Health{receiveWithin: receiveWithin, errorWindow: errorWindow}
}

// SetWindows applies new window sizes (hot reload). Zero keeps the default.
func (h *Health) SetWindows(receiveWithin, errorWindow time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if receiveWithin > 0 {
		h.receiveWithin = receiveWithin
	}
	if errorWindow > 0 {
		h.errorWindow = errorWindow
	}
}

// Seed installs a historical receipt (typically storage's last event) without
// overwriting a newer in-memory one.
func (h *Health) Seed(at time.Time) {
	if at.IsZero() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.received || at.After(h.lastReceived) {
		h.received = true
		h.lastReceived = at
	}
}

func (h *Health) NoteReceived(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = true
	if at.After(h.lastReceived) {
		h.lastReceived = at
	}
}

func (h *Health) NoteError(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.erred = true
	if at.After(h.lastError) {
		h.lastError = at
	}
}

func (h *Health) Healthy(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.received {
		return false
	}
	if now.Sub(h.lastReceived) > h.receiveWithin {
		return false
	}
	if h.erred && now.Sub(h.lastError) <= h.errorWindow {
		return false
	}
	return true
}

// HealthSnapshot is the /healthz response body.
type HealthSnapshot struct {
	Healthy      bool      `json:"healthy"`
	LastReceived time.Time `json:"last_received,omitempty"`
	LastError    time.Time `json:"last_error,omitempty"`
}

func (h *Health) Snapshot(now time.Time) HealthSnapshot {
	ok := h.Healthy(now)
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HealthSnapshot{Healthy: ok}
	if h.received {
		snap.LastReceived = h.lastReceived
	}
	if h.erred {
		snap.LastError = h.lastError
	}
	return snap
}
