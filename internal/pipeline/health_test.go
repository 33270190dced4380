package pipeline

import (
	"testing"
	"time"
)

func TestHealthPredicate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		setup    func(h *Health)
		healthy  bool
	}{
		{
			name:    "never received",
			setup:   func(h *Health) {},
			healthy: false,
		},
		{
			name:    "recent receipt",
			setup:   func(h *Health) { h.NoteReceived(now.Add(-time.Minute)) },
			healthy: true,
		},
		{
			name:    "stale receipt",
			setup:   func(h *Health) { h.NoteReceived(now.Add(-49 * time.Hour)) },
			healthy: false,
		},
		{
			name: "recent error",
			setup: func(h *Health) {
				h.NoteReceived(now.Add(-time.Minute))
				h.NoteError(now.Add(-5 * time.Minute))
			},
			healthy: false,
		},
		{
			name: "error aged out",
			setup: func(h *Health) {
				h.NoteReceived(now.Add(-time.Minute))
				h.NoteError(now.Add(-45 * time.Minute))
			},
			healthy: true,
		},
		{
			name:    "seeded from storage",
			setup:   func(h *Health) { h.Seed(now.Add(-time.Hour)) },
			healthy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth(48*time.Hour, 30*time.Minute)
			tt.setup(h)
			if got := h.Healthy(now); got != tt.healthy {
				t.Fatalf("Healthy = %v, want %v", got, tt.healthy)
			}
		})
	}
}

func TestHealthSeedKeepsNewerReceipt(t *testing.T) {
	now := time.Now()
	h := NewHealth(48*time.Hour, 30*time.Minute)
	h.NoteReceived(now)
	h.Seed(now.Add(-time.Hour))

	snap := h.Snapshot(now)
	if !snap.LastReceived.Equal(now) {
		t.Fatalf("Seed overwrote a newer receipt: %v", snap.LastReceived)
	}
}

func TestHealthSetWindows(t *testing.T) {
	now := time.Now()
	h := NewHealth(48*time.Hour, 30*time.Minute)
	h.NoteReceived(now.Add(-2 * time.Hour))
	if !h.Healthy(now) {
		t.Fatal("should be healthy under the 48h window")
	}
	h.SetWindows(time.Hour, 0)
	if h.Healthy(now) {
		t.Fatal("should be unhealthy after shrinking the receive window")
	}
}
