// Package pipeline queues incoming events and drives them through the
// render/dispatch pass, one event at a time.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pushbridge/internal/event"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/metrics"
	"pushbridge/internal/storage"
	logx "pushbridge/pkg/logx"
)

// Bus event types published by the pipeline.
const (
	BusEventReceived = "pipeline.event_received"
	BusEventDropped  = "pipeline.event_dropped"
)

// Service owns the bounded intake queue and the single worker that drains it
// in micro-batches. Sources call Enqueue; the worker calls the driver.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Set
	health  *Health
	driver  *Driver

	queue     chan event.Event
	batchSize atomic.Int64

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopDone chan struct{}
}

type Options struct {
	Log       logx.Logger
	Bus       eventbus.Bus
	Store     storage.Store // optional
	Metrics   *metrics.Set  // optional
	Health    *Health
	Driver    *Driver
	QueueSize int // default 512
	BatchSize int // default 32
}

func New(opts Options) *Service {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	qs := opts.QueueSize
	if qs <= 0 {
		qs = 512
	}
	s := &Service{
		log:     log,
		bus:     opts.Bus,
		store:   opts.Store,
		metrics: opts.Metrics,
		health:  opts.Health,
		driver:  opts.Driver,
		queue:   make(chan event.Event, qs),
	}
	bs := opts.BatchSize
	if bs <= 0 {
		bs = 32
	}
	s.batchSize.Store(int64(bs))
	return s
}

// SetBatchSize applies a new drain cap (hot reload). Queue size is fixed at
// construction; changing it requires a restart.
func (s *Service) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize.Store(int64(n))
	}
}

// Enqueue accepts an event into the intake queue. Receipt is recorded
// (health, storage, metrics) even when the queue is full; a full queue drops
// the event and returns false.
func (s *Service) Enqueue(ev event.Event) bool {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if s.health != nil {
		s.health.NoteReceived(ev.ReceivedAt)
	}
	if s.metrics != nil {
		s.metrics.EventsReceived.WithLabelValues(ev.Source).Inc()
	}
	if s.store != nil {
		if err := s.store.AppendEvent(context.Background(), storage.EventRecord{
			ID:     ev.ID,
			Source: ev.Source,
			At:     ev.ReceivedAt,
		}); err != nil {
			s.log.Warn("event receipt not persisted",
				logx.String("event_id", ev.ID),
				logx.Err(err),
			)
		}
	}

	select {
	case s.queue <- ev:
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: BusEventReceived, Data: ev.ID})
		}
		return true
	default:
		s.log.Warn("intake queue full, event dropped",
			logx.String("event_id", ev.ID),
			logx.String("source", ev.Source),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: BusEventDropped, Data: ev.ID})
		}
		return false
	}
}

func (s *Service) Start(_ context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopDone = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.run(runCtx)
	s.log.Info("pipeline started", logx.Int("queue_size", cap(s.queue)))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	stopDone := s.stopDone
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		stopDone := s.stopDone
		s.mu.Unlock()
		if stopDone != nil {
			close(stopDone)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case first := <-s.queue:
			batch := s.drain(first)
			if s.metrics != nil {
				s.metrics.QueueDepth.Set(float64(len(s.queue)))
			}
			s.driver.ProcessBatch(ctx, batch)
		}
	}
}

// drain collects up to batchSize events without blocking.
func (s *Service) drain(first event.Event) []event.Event {
	max := int(s.batchSize.Load())
	batch := []event.Event{first}
	for len(batch) < max {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}
