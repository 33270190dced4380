package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "pushbridge/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.events.jsonl     (append-only JSON Lines)
//   - <prefix>.deliveries.jsonl (append-only JSON Lines, pruned by rewrite)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	eventsFile     *os.File
	deliveriesPath string
	deliveriesFile *os.File

	lastEventAt time.Time
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventsPath := prefix + ".events.jsonl"
	deliveriesPath := prefix + ".deliveries.jsonl"

	last, err := scanLastEventAt(eventsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("event log scan failed; liveness starts cold", logx.Any("err", err))
	}

	ef, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	df, err := os.OpenFile(deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	return &fileStore{
		log:            log,
		eventsFile:     ef,
		deliveriesPath: deliveriesPath,
		deliveriesFile: df,
		lastEventAt:    last,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.eventsFile != nil {
		err1 = s.eventsFile.Close()
		s.eventsFile = nil
	}
	if s.deliveriesFile != nil {
		err2 = s.deliveriesFile.Close()
		s.deliveriesFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendEvent(ctx context.Context, e EventRecord) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsFile == nil {
		return errors.New("event log closed")
	}
	if err := json.NewEncoder(s.eventsFile).Encode(e); err != nil {
		return err
	}
	if e.At.After(s.lastEventAt) {
		s.lastEventAt = e.At
	}
	return nil
}

func (s *fileStore) AppendDelivery(ctx context.Context, d DeliveryRecord) error {
	_ = ctx
	if d.At.IsZero() {
		d.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveriesFile == nil {
		return errors.New("delivery log closed")
	}
	return json.NewEncoder(s.deliveriesFile).Encode(d)
}

func (s *fileStore) LastEventAt(ctx context.Context) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEventAt.IsZero() {
		return time.Time{}, false, nil
	}
	return s.lastEventAt, true, nil
}

// PruneDeliveries rewrites the delivery log keeping only records at or after
// the cutoff. Rewrite-and-rename keeps the log readable by line-oriented
// tools throughout.
func (s *fileStore) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveriesFile == nil {
		return 0, errors.New("delivery log closed")
	}

	in, err := os.Open(s.deliveriesPath)
	if err != nil {
		return 0, err
	}

	tmp := s.deliveriesPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		_ = in.Close()
		return 0, err
	}

	var removed int64
	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var d DeliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			// Drop unparseable lines during compaction.
			removed++
			continue
		}
		if d.At.Before(before) {
			removed++
			continue
		}
		if err := enc.Encode(d); err != nil {
			_ = in.Close()
			_ = out.Close()
			_ = os.Remove(tmp)
			return 0, err
		}
	}
	scanErr := sc.Err()
	_ = in.Close()
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if scanErr != nil {
		_ = os.Remove(tmp)
		return 0, scanErr
	}

	// Swap the live append handle over to the compacted file.
	_ = s.deliveriesFile.Close()
	if err := os.Rename(tmp, s.deliveriesPath); err != nil {
		s.deliveriesFile, _ = os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return 0, err
	}
	df, err := os.OpenFile(s.deliveriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.deliveriesFile = nil
		return removed, err
	}
	s.deliveriesFile = df
	return removed, nil
}

// scanLastEventAt reads the newest receipt timestamp from the event log.
func scanLastEventAt(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	var last time.Time
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e EventRecord
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.At.After(last) {
			last = e.At
		}
	}
	return last, sc.Err()
}
