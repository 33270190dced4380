package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"pushbridge/internal/event"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/metrics"
	"pushbridge/internal/pushover"
	"pushbridge/internal/storage"
	"pushbridge/internal/template"
	logx "pushbridge/pkg/logx"
)

// Dispatcher posts one notification. Satisfied by *pushover.Dispatcher;
// narrowed to an interface so driver tests can fake the wire.
type Dispatcher interface {
	Send(ctx context.Context, params url.Values, att *pushover.Attachment) error
}

// Fetcher resolves an image URL into an attachment (nil on any failure).
type Fetcher interface {
	Fetch(ctx context.Context, imageURL string) *pushover.Attachment
}

// Driver runs the per-event pass: render fields, build params, fetch the
// attachment, dispatch. Batches are strictly sequential and one event's
// failure never touches its neighbours.
type Driver struct {
	resolver   template.Resolver
	fetcher    Fetcher
	dispatcher Dispatcher
	limiter    *rate.Limiter
	store      storage.Store
	metrics    *metrics.Set
	health     *Health
	bus        eventbus.Bus
	log        logx.Logger
}

type DriverOptions struct {
	Resolver   template.Resolver
	Fetcher    Fetcher
	Dispatcher Dispatcher
	Limiter    *rate.Limiter // optional send pacing
	Store      storage.Store // optional delivery log
	Metrics    *metrics.Set  // optional
	Health     *Health       // optional
	Bus        eventbus.Bus  // optional outcome signals
	Log        logx.Logger
}

func NewDriver(opts DriverOptions) *Driver {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{
		resolver:   opts.Resolver,
		fetcher:    opts.Fetcher,
		dispatcher: opts.Dispatcher,
		limiter:    opts.Limiter,
		store:      opts.Store,
		metrics:    opts.Metrics,
		health:     opts.Health,
		bus:        opts.Bus,
		log:        log,
	}
}

// ProcessBatch handles events one at a time, in order. Each event gets its
// own panic guard, so a bad payload costs exactly one notification.
func (d *Driver) ProcessBatch(ctx context.Context, events []event.Event) {
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		rec := d.processOne(ctx, ev)
		d.record(ctx, rec)
	}
}

func (d *Driver) processOne(ctx context.Context, ev event.Event) (rec storage.DeliveryRecord) {
	start := time.Now()
	rec = storage.DeliveryRecord{At: start, EventID: ev.ID}
	defer func() {
		rec.TookMS = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			rec.Outcome = storage.OutcomeFailed
			rec.Detail = fmt.Sprintf("panic: %v", r)
			d.log.Error("event processing panicked",
				logx.String("event_id", ev.ID),
				logx.String("source", ev.Source),
				logx.Any("panic", r),
			)
			d.noteError()
		}
	}()

	params, ok := pushover.BuildParams(func(field string) string {
		return d.resolver.Resolve(ev, field)
	})
	if !ok {
		// A blank required field skips the event without noise.
		rec.Outcome = storage.OutcomeSkipped
		d.log.Debug("event skipped: required field rendered blank",
			logx.String("event_id", ev.ID),
			logx.String("source", ev.Source),
		)
		return rec
	}

	var att *pushover.Attachment
	if d.fetcher != nil {
		att = d.fetcher.Fetch(ctx, d.resolver.Resolve(ev, pushover.FieldImageURL))
	}
	rec.Attachment = att != nil

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			// Shutdown mid-batch; release the attachment ourselves since the
			// dispatcher never saw it.
			if att != nil {
				_ = att.Close()
			}
			rec.Outcome = storage.OutcomeFailed
			rec.Detail = err.Error()
			return rec
		}
	}

	if err := d.dispatcher.Send(ctx, params, att); err != nil {
		rec.Outcome = storage.OutcomeFailed
		rec.Detail = err.Error()
		d.log.Error("dispatch failed",
			logx.String("event_id", ev.ID),
			logx.String("source", ev.Source),
			logx.Err(err),
		)
		d.noteError()
		return rec
	}

	rec.Outcome = storage.OutcomeSent
	return rec
}

func (d *Driver) record(ctx context.Context, rec storage.DeliveryRecord) {
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: "pipeline." + rec.Outcome, Data: rec.EventID})
	}
	if d.metrics != nil {
		d.metrics.Dispatches.WithLabelValues(rec.Outcome).Inc()
		d.metrics.DispatchDuration.Observe(float64(rec.TookMS) / 1000)
	}
	if d.store != nil {
		if err := d.store.AppendDelivery(ctx, rec); err != nil {
			d.log.Warn("delivery record not persisted",
				logx.String("event_id", rec.EventID),
				logx.Err(err),
			)
		}
	}
}

func (d *Driver) noteError() {
	if d.health != nil {
		d.health.NoteError(time.Now())
	}
}
