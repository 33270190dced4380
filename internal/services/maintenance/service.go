// Package maintenance runs cron-driven housekeeping: delivery-record pruning
// and an optional periodic stats summary.
package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pushbridge/internal/storage"
	logx "pushbridge/pkg/logx"
)

type Config struct {
	Enabled       bool
	PruneSchedule string // cron spec; default "0 3 * * *"
	StatsSchedule string // cron spec; empty disables the summary
	Timezone      string
	Retention     time.Duration // default 720h
}

// StatsFunc supplies the fields logged by the stats summary job.
type StatsFunc func() []logx.Field

type Service struct {
	log   logx.Logger
	store storage.Store
	stats StatsFunc

	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	parser cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, store storage.Store, stats StatsFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		store:  store,
		stats:  stats,
		cfg:    cfg,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps config; schedule or timezone changes restart the cron runner.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if !running {
		return
	}
	if !cfg.Enabled {
		s.Stop(context.Background())
		return
	}
	if prev.PruneSchedule != cfg.PruneSchedule ||
		prev.StatsSchedule != cfg.StatsSchedule ||
		strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.Stop(context.Background())
		s.Start(context.Background())
	}
}

func (s *Service) Start(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cur := s.cfg
	if !cur.Enabled {
		return
	}

	loc := time.Local
	if tz := strings.TrimSpace(cur.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("invalid maintenance timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	prune := strings.TrimSpace(cur.PruneSchedule)
	if prune == "" {
		prune = "0 3 * * *"
	}
	if s.store != nil {
		if _, err := c.AddFunc(prune, s.runPrune); err != nil {
			s.log.Error("invalid prune schedule", logx.String("spec", prune), logx.Err(err))
		}
	}
	if stats := strings.TrimSpace(cur.StatsSchedule); stats != "" && s.stats != nil {
		if _, err := c.AddFunc(stats, s.runStats); err != nil {
			s.log.Error("invalid stats schedule", logx.String("spec", stats), logx.Err(err))
		}
	}

	c.Start()
	s.c = c
	s.log.Info("maintenance started",
		logx.String("tz", loc.String()),
		logx.String("prune", prune),
		logx.String("stats", strings.TrimSpace(cur.StatsSchedule)),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("maintenance stopped")
}

func (s *Service) runPrune() {
	s.mu.Lock()
	retention := s.cfg.Retention
	s.mu.Unlock()
	if retention <= 0 {
		retention = 720 * time.Hour
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	before := time.Now().Add(-retention)
	removed, err := s.store.PruneDeliveries(ctx, before)
	if err != nil {
		s.log.Warn("delivery prune failed", logx.Err(err))
		return
	}
	s.log.Info("delivery records pruned",
		logx.Int64("removed", removed),
		logx.Time("before", before),
	)
}

func (s *Service) runStats() {
	s.log.Info("stats summary", s.stats()...)
}
