// Package app wires configuration, sources, the pipeline, and the
// operational surface into one process.
package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"pushbridge/internal/eventbus"
	"pushbridge/internal/metrics"
	"pushbridge/internal/observability/ops"
	"pushbridge/internal/pipeline"
	"pushbridge/internal/pushover"
	"pushbridge/internal/services/maintenance"
	"pushbridge/internal/source"
	"pushbridge/internal/storage"
	"pushbridge/internal/template"
	logx "pushbridge/pkg/logx"
)

// sendProxy lets the pipeline keep one Dispatcher reference while hot-reload
// swaps the underlying client (endpoint/timeout changes).
type sendProxy struct {
	v atomic.Pointer[pushover.Dispatcher]
}

func (p *sendProxy) Send(ctx context.Context, params url.Values, att *pushover.Attachment) error {
	return p.v.Load().Send(ctx, params, att)
}

// fetchProxy does the same for the attachment fetcher.
type fetchProxy struct {
	v atomic.Pointer[pushover.Fetcher]
}

func (p *fetchProxy) Fetch(ctx context.Context, imageURL string) *pushover.Attachment {
	return p.v.Load().Fetch(ctx, imageURL)
}

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	met      *metrics.Set
	health   *pipeline.Health
	resolver *template.LiquidResolver

	send    *sendProxy
	fetch   *fetchProxy
	limiter *rate.Limiter

	pipe  *pipeline.Service
	ops   *ops.Service
	maint *maintenance.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	met := metrics.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	hw, err := mapHealthConfig(cfg)
	if err != nil {
		return nil, err
	}
	health := pipeline.NewHealth(hw.ReceiveWithin, hw.ErrorWindow)
	if store != nil {
		// Seed the receipt clock so a restart doesn't flap the probe.
		if at, ok, err := store.LastEventAt(context.Background()); err != nil {
			log.Warn("could not seed health from storage", logx.Err(err))
		} else if ok {
			health.Seed(at)
			log.Info("health seeded from storage", logx.Time("last_event", at))
		}
	}

	resolver, err := template.NewLiquid(cfg.Templates, log.With(logx.String("comp", "templates")))
	if err != nil {
		return nil, err
	}

	ps, err := mapPushoverConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		met:      met,
		health:   health,
		resolver: resolver,
		send:     &sendProxy{},
		fetch:    &fetchProxy{},
		limiter:  rate.NewLimiter(rate.Limit(ps.RatePerSec), ps.RatePerSec),
	}
	a.applyPushover(ps)

	driver := pipeline.NewDriver(pipeline.DriverOptions{
		Resolver:   resolver,
		Fetcher:    a.fetch,
		Dispatcher: a.send,
		Limiter:    a.limiter,
		Store:      store,
		Metrics:    met,
		Health:     health,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "driver")),
	})

	a.pipe = pipeline.New(pipeline.Options{
		Log:       log.With(logx.String("comp", "pipeline")),
		Bus:       bus,
		Store:     store,
		Metrics:   met,
		Health:    health,
		Driver:    driver,
		QueueSize: cfg.Pipeline.QueueSize,
		BatchSize: cfg.Pipeline.BatchSize,
	})

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, health, met.Handler(), a.statusSnapshot, log.With(logx.String("comp", "ops")))

	mc, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.maint = maintenance.New(mc, store, a.statsFields, log.With(logx.String("comp", "maintenance")))

	return a, nil
}

// applyPushover rebuilds the outbound clients and installs them in the
// proxies; the pipeline picks them up on the next event.
func (a *App) applyPushover(ps pushoverSettings) {
	fetcher := pushover.NewFetcher(ps.FetchTimeout, a.log.With(logx.String("comp", "attachment")))
	fetcher.OnDiscard(func(reason string) {
		a.met.AttachmentDiscards.WithLabelValues(reason).Inc()
	})
	a.fetch.v.Store(fetcher)
	a.send.v.Store(pushover.NewDispatcher(ps.Endpoint, ps.RequestTimeout, a.log.With(logx.String("comp", "pushover"))))
	a.limiter.SetLimit(rate.Limit(ps.RatePerSec))
	a.limiter.SetBurst(ps.RatePerSec)
}

func (a *App) statusSnapshot() any {
	body := map[string]any{
		"health": a.health.Snapshot(time.Now()),
	}
	if a.sup != nil {
		body["supervisor"] = a.sup.Snapshot()
	}
	return body
}

func (a *App) statsFields() []logx.Field {
	snap := a.health.Snapshot(time.Now())
	fields := []logx.Field{logx.Bool("healthy", snap.Healthy)}
	if !snap.LastReceived.IsZero() {
		fields = append(fields, logx.Time("last_received", snap.LastReceived))
	}
	if a.sup != nil {
		c := a.sup.Counters()
		fields = append(fields, logx.Int64("goroutines_active", c.Active))
	}
	return fields
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if _, err := mapPushoverConfig(cfg); err != nil {
			return err
		}
		if _, err := mapHealthConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMaintenanceConfig(cfg); err != nil {
			return err
		}
		if cfg.Pipeline.QueueSize < 0 {
			return fmt.Errorf("pipeline.queue_size must be >= 0")
		}
		if cfg.Pipeline.BatchSize < 0 {
			return fmt.Errorf("pipeline.batch_size must be >= 0")
		}
		// Reject template sets that do not compile so a bad hot-reload
		// never reaches the live resolver.
		if _, err := template.NewLiquid(cfg.Templates, logx.Nop()); err != nil {
			return err
		}
		if t := cfg.Sources.Telegram; t != nil && t.Enabled {
			if _, err := parseDurationField("sources.telegram.poll_timeout", t.PollTimeout); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.pipe.Start(a.sup.Context()); err != nil {
		return err
	}

	if err := a.startSources(a.cfgm.Get()); err != nil {
		return err
	}

	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}
	if a.maint.Enabled() {
		a.maint.Start(a.sup.Context())
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Keep the healthy gauge fresh even when no events flow.
	a.sup.Go0("health.gauge", func(c context.Context) {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			a.setHealthGauge()
			select {
			case <-c.Done():
				return
			case <-ticker.C:
			}
		}
	})

	a.notifySystemd()

	a.log.Info("app started")
	return nil
}

// startSources builds every enabled intake source from cfg and runs it under
// a supervised restart loop. Source config changes need a restart.
func (a *App) startSources(cfg *Config) error {
	started := 0

	if wc := cfg.Sources.Webhook; wc != nil && wc.Enabled {
		w := source.NewWebhook(source.WebhookConfig{
			Addr:          wc.Addr,
			Path:          wc.Path,
			Token:         wc.Token,
			AllowInsecure: wc.AllowInsecure,
		}, a.pipe, a.log.With(logx.String("comp", "source.webhook")))
		a.sup.GoRestart("source.webhook", w.Run)
		started++
	}

	if mc := cfg.Sources.MQTT; mc != nil && mc.Enabled {
		m, err := source.NewMQTT(source.MQTTConfig{
			BrokerURL: mc.BrokerURL,
			ClientID:  mc.ClientID,
			Topic:     mc.Topic,
			QoS:       byte(mc.QoS),
			Username:  mc.Username,
			Password:  mc.Password,
		}, a.pipe, a.log.With(logx.String("comp", "source.mqtt")))
		if err != nil {
			return err
		}
		a.sup.GoRestart("source.mqtt", m.Run)
		started++
	}

	if kc := cfg.Sources.Kafka; kc != nil && kc.Enabled {
		k, err := source.NewKafka(source.KafkaConfig{
			Brokers: kc.Brokers,
			GroupID: kc.GroupID,
			Topic:   kc.Topic,
		}, a.pipe, a.log.With(logx.String("comp", "source.kafka")))
		if err != nil {
			return err
		}
		a.sup.GoRestart("source.kafka", k.Run)
		started++
	}

	if tc := cfg.Sources.Telegram; tc != nil && tc.Enabled {
		pollTimeout, err := parseDurationOrDefault("sources.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		t, err := source.NewTelegram(source.TelegramConfig{
			Token:          tc.Token,
			PollTimeout:    pollTimeout,
			AllowedChatIDs: tc.AllowedChatIDs,
		}, a.pipe, a.log.With(logx.String("comp", "source.telegram")))
		if err != nil {
			return err
		}
		a.sup.GoRestart("source.telegram", t.Run)
		started++
	}

	if started == 0 {
		a.log.Warn("no intake sources enabled; only already-queued events will flow")
	}
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Debug("config change summary", fields...)
			} else {
				a.log.Debug("config reload received, but no effective changes detected")
			}
			lastApplied = newCfg

			a.applyConfig(c, sections, newCfg)

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

func (a *App) applyConfig(c context.Context, sections []string, cfg *Config) {
	for _, s := range sections {
		if s == "sources" || s == "storage" {
			a.log.Warn("config changed; restart required for changes to take effect",
				logx.String("section", s),
			)
		}
	}

	// Logging first so later apply steps log at the new level.
	a.logs.Apply(mapLoggingConfig(cfg))

	if ps, err := mapPushoverConfig(cfg); err != nil {
		a.log.Warn("invalid pushover config; keeping previous", logx.Err(err))
	} else {
		a.applyPushover(ps)
	}

	// Template errors keep the previous set active.
	if err := a.resolver.Apply(cfg.Templates); err != nil {
		a.log.Warn("invalid templates; keeping previous", logx.Err(err))
	}

	a.pipe.SetBatchSize(cfg.Pipeline.BatchSize)

	if hw, err := mapHealthConfig(cfg); err != nil {
		a.log.Warn("invalid health config; keeping previous", logx.Err(err))
	} else {
		a.health.SetWindows(hw.ReceiveWithin, hw.ErrorWindow)
	}

	if oc, err := mapOpsConfig(cfg); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(c, oc)
	}

	if mc, err := mapMaintenanceConfig(cfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.maint.Enabled()
		a.maint.Apply(mc)
		if !wasEnabled && mc.Enabled {
			a.maint.Start(c)
		}
	}
}

func (a *App) setHealthGauge() {
	if a.health.Healthy(time.Now()) {
		a.met.Healthy.Set(1)
	} else {
		a.met.Healthy.Set(0)
	}
}

// notifySystemd signals readiness and, when the unit configures WatchdogSec,
// starts a pet loop gated on the liveness predicate: a stuck or unhealthy
// process stops petting and systemd restarts it.
func (a *App) notifySystemd() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Info("systemd notified: ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				if a.health.Healthy(time.Now()) {
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		}
	})
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("pipeline", 3*time.Second, func(c context.Context) error { return a.pipe.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (sources, config watch/reload, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
