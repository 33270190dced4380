package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "pushbridge/pkg/logx"
)

// Store is the minimal persistence API used by the pipeline and maintenance.
type Store interface {
	AppendEvent(ctx context.Context, e EventRecord) error
	AppendDelivery(ctx context.Context, d DeliveryRecord) error
	// LastEventAt reports the most recent event receipt, seeding the
	// liveness predicate across restarts.
	LastEventAt(ctx context.Context) (at time.Time, ok bool, err error)
	// PruneDeliveries removes delivery records older than before and
	// returns how many were dropped.
	PruneDeliveries(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
