package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "pushbridge/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestFileStoreLastEventAt(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	if _, ok, err := st.LastEventAt(ctx); err != nil || ok {
		t.Fatalf("fresh store should have no receipts (ok=%v err=%v)", ok, err)
	}

	now := time.Now().Truncate(time.Millisecond)
	if err := st.AppendEvent(ctx, EventRecord{ID: "e1", Source: "webhook", At: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendEvent(ctx, EventRecord{ID: "e2", Source: "mqtt", At: now}); err != nil {
		t.Fatalf("append: %v", err)
	}

	at, ok, err := st.LastEventAt(ctx)
	if err != nil || !ok {
		t.Fatalf("LastEventAt: ok=%v err=%v", ok, err)
	}
	if !at.Equal(now) {
		t.Fatalf("at = %v, want %v", at, now)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: the receipt survives restarts (seeds liveness).
	st2 := openTestStore(t, dir)
	defer st2.Close()
	at2, ok, err := st2.LastEventAt(ctx)
	if err != nil || !ok {
		t.Fatalf("LastEventAt after reopen: ok=%v err=%v", ok, err)
	}
	if !at2.Equal(now) {
		t.Fatalf("at after reopen = %v, want %v", at2, now)
	}
}

func TestFileStorePruneDeliveries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st := openTestStore(t, dir)
	defer st.Close()

	now := time.Now()
	old := DeliveryRecord{At: now.Add(-48 * time.Hour), EventID: "e1", Outcome: OutcomeSent}
	fresh := DeliveryRecord{At: now, EventID: "e2", Outcome: OutcomeFailed, Detail: "connection refused"}
	if err := st.AppendDelivery(ctx, old); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendDelivery(ctx, fresh); err != nil {
		t.Fatalf("append: %v", err)
	}

	removed, err := st.PruneDeliveries(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	// The log stays appendable after compaction.
	if err := st.AppendDelivery(ctx, DeliveryRecord{At: now, EventID: "e3", Outcome: OutcomeSkipped}); err != nil {
		t.Fatalf("append after prune: %v", err)
	}
}
