package app

import (
	"fmt"
	"strings"
	"time"

	"pushbridge/internal/observability/ops"
	"pushbridge/internal/services/maintenance"
	"pushbridge/internal/storage"
	logx "pushbridge/pkg/logx"
)

func mapLoggingConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// pushoverSettings are the parsed dispatch-client knobs.
type pushoverSettings struct {
	Endpoint       string
	RequestTimeout time.Duration
	FetchTimeout   time.Duration
	RatePerSec     int
}

func mapPushoverConfig(cfg *Config) (pushoverSettings, error) {
	reqTimeout, err := parseDurationOrDefault("pushover.request_timeout", cfg.Pushover.RequestTimeout, 15*time.Second)
	if err != nil {
		return pushoverSettings{}, err
	}
	fetchTimeout, err := parseDurationOrDefault("pushover.fetch_timeout", cfg.Pushover.FetchTimeout, 30*time.Second)
	if err != nil {
		return pushoverSettings{}, err
	}
	rps := cfg.Pushover.RatePerSec
	if rps < 0 {
		return pushoverSettings{}, fmt.Errorf("pushover.rate_per_sec must be >= 0")
	}
	if rps == 0 {
		rps = 2
	}
	return pushoverSettings{
		Endpoint:       strings.TrimSpace(cfg.Pushover.Endpoint),
		RequestTimeout: reqTimeout,
		FetchTimeout:   fetchTimeout,
		RatePerSec:     rps,
	}, nil
}

// healthWindows are the parsed liveness-predicate windows.
type healthWindows struct {
	ReceiveWithin time.Duration
	ErrorWindow   time.Duration
}

func mapHealthConfig(cfg *Config) (healthWindows, error) {
	rw, err := parseDurationOrDefault("health.expected_receive_within", cfg.Health.ExpectedReceiveWithin, 48*time.Hour)
	if err != nil {
		return healthWindows{}, err
	}
	ew, err := parseDurationOrDefault("health.error_window", cfg.Health.ErrorWindow, 30*time.Minute)
	if err != nil {
		return healthWindows{}, err
	}
	return healthWindows{ReceiveWithin: rw, ErrorWindow: ew}, nil
}

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	retention, err := parseDurationOrDefault("storage.retention", sc.Retention, 720*time.Hour)
	if err != nil {
		return storage.Config{}, false, err
	}

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path, Retention: retention}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy, Retention: retention}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapOpsConfig(cfg *Config) (ops.Config, error) {
	oc := cfg.Ops
	readTimeout, err := parseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// WriteTimeout defaults to 0 (disabled) so pprof /profile works reliably.
	writeTimeout, err := parseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 0)
	if err != nil {
		return ops.Config{}, err
	}
	idleTimeout, err := parseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		PprofPrefix:   oc.PprofPrefix,
		ReadTimeout:   readTimeout,
		WriteTimeout:  writeTimeout,
		IdleTimeout:   idleTimeout,
	}, nil
}

func mapMaintenanceConfig(cfg *Config) (maintenance.Config, error) {
	mc := maintenance.Config{Retention: 720 * time.Hour}
	if cfg.Storage != nil {
		ret, err := parseDurationOrDefault("storage.retention", cfg.Storage.Retention, 720*time.Hour)
		if err != nil {
			return maintenance.Config{}, err
		}
		mc.Retention = ret
	}
	if cfg.Maintenance == nil {
		return mc, nil
	}
	mc.Enabled = cfg.Maintenance.Enabled
	mc.PruneSchedule = cfg.Maintenance.PruneSchedule
	mc.StatsSchedule = cfg.Maintenance.StatsSchedule
	mc.Timezone = cfg.Maintenance.Timezone
	if tz := strings.TrimSpace(mc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
	}
	return mc, nil
}
