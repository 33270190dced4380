package pipeline

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"pushbridge/internal/event"
	"pushbridge/internal/pushover"
	"pushbridge/internal/storage"
	logx "pushbridge/pkg/logx"
)

// payloadResolver renders each field straight from the event payload.
type payloadResolver struct{}

func (payloadResolver) Resolve(ev event.Event, field string) string {
	v, _ := ev.Payload[field].(string)
	return v
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []url.Values
	fail  map[int]error // 0-based call index -> error to return
}

func (f *fakeDispatcher) Send(_ context.Context, params url.Values, att *pushover.Attachment) error {
	if att != nil {
		defer att.Close()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, params)
	if err := f.fail[idx]; err != nil {
		return err
	}
	return nil
}

type memStore struct {
	mu         sync.Mutex
	deliveries []storage.DeliveryRecord
}

func (m *memStore) AppendEvent(context.Context, storage.EventRecord) error { return nil }
func (m *memStore) AppendDelivery(_ context.Context, d storage.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}
func (m *memStore) LastEventAt(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (m *memStore) PruneDeliveries(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memStore) Close() error                                              { return nil }

func notif(id, msg string) event.Event {
	return event.Event{
		ID:         id,
		Source:     "test",
		ReceivedAt: time.Now(),
		Payload: map[string]any{
			"token":   "T",
			"user":    "U",
			"message": msg,
		},
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	disp := &fakeDispatcher{fail: map[int]error{1: errors.New("connection refused")}}
	store := &memStore{}
	health := NewHealth(time.Hour, time.Hour)
	health.NoteReceived(time.Now())

	d := NewDriver(DriverOptions{
		Resolver:   payloadResolver{},
		Dispatcher: disp,
		Store:      store,
		Health:     health,
		Log:        logx.Nop(),
	})

	d.ProcessBatch(context.Background(), []event.Event{
		notif("e1", "first"),
		notif("e2", "second"),
		notif("e3", "third"),
	})

	if len(disp.calls) != 3 {
		t.Fatalf("dispatch calls = %d, want 3 (failure must not stop the batch)", len(disp.calls))
	}
	if got := disp.calls[2].Get("message"); got != "third" {
		t.Fatalf("third message = %q, want %q", got, "third")
	}

	wantOutcomes := []string{storage.OutcomeSent, storage.OutcomeFailed, storage.OutcomeSent}
	if len(store.deliveries) != len(wantOutcomes) {
		t.Fatalf("delivery records = %d, want %d", len(store.deliveries), len(wantOutcomes))
	}
	for i, want := range wantOutcomes {
		if store.deliveries[i].Outcome != want {
			t.Fatalf("delivery[%d].Outcome = %q, want %q", i, store.deliveries[i].Outcome, want)
		}
	}
	if store.deliveries[1].Detail == "" {
		t.Fatal("failed delivery should carry a detail string")
	}

	// The dispatch error lands in the health tracker.
	if health.Healthy(time.Now()) {
		t.Fatal("health should report unhealthy within the error window")
	}
}

func TestProcessBatchSkipsBlankRequiredField(t *testing.T) {
	disp := &fakeDispatcher{}
	store := &memStore{}

	d := NewDriver(DriverOptions{
		Resolver:   payloadResolver{},
		Dispatcher: disp,
		Store:      store,
		Log:        logx.Nop(),
	})

	d.ProcessBatch(context.Background(), []event.Event{
		notif("e1", "   "), // message renders blank: silent skip
		notif("e2", "ok"),
	})

	if len(disp.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(disp.calls))
	}
	if store.deliveries[0].Outcome != storage.OutcomeSkipped {
		t.Fatalf("first outcome = %q, want skipped", store.deliveries[0].Outcome)
	}
	if store.deliveries[1].Outcome != storage.OutcomeSent {
		t.Fatalf("second outcome = %q, want sent", store.deliveries[1].Outcome)
	}
}

type panicResolver struct{ boomID string }

func (p panicResolver) Resolve(ev event.Event, field string) string {
	if ev.ID == p.boomID && field == "message" {
		panic("template exploded")
	}
	v, _ := ev.Payload[field].(string)
	return v
}

func TestProcessBatchRecoversPanics(t *testing.T) {
	disp := &fakeDispatcher{}
	store := &memStore{}

	d := NewDriver(DriverOptions{
		Resolver:   panicResolver{boomID: "e1"},
		Dispatcher: disp,
		Store:      store,
		Log:        logx.Nop(),
	})

	d.ProcessBatch(context.Background(), []event.Event{
		notif("e1", "boom"),
		notif("e2", "fine"),
	})

	if len(disp.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(disp.calls))
	}
	if store.deliveries[0].Outcome != storage.OutcomeFailed {
		t.Fatalf("panicked outcome = %q, want failed", store.deliveries[0].Outcome)
	}
	if store.deliveries[1].Outcome != storage.OutcomeSent {
		t.Fatalf("survivor outcome = %q, want sent", store.deliveries[1].Outcome)
	}
}
