package config

import (
	"reflect"
	"strings"

	logx "pushbridge/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Pushover (endpoint override is operational; template contents stay out of logs)
	if oldCfg.Pushover != newCfg.Pushover {
		changed = append(changed, "pushover")
		attrs = append(attrs,
			logx.Bool("pushover.endpoint_overridden", strings.TrimSpace(newCfg.Pushover.Endpoint) != ""),
			logx.String("pushover.request_timeout", strings.TrimSpace(newCfg.Pushover.RequestTimeout)),
			logx.Int("pushover.rate_per_sec", newCfg.Pushover.RatePerSec),
		)
	}

	// Templates: report only which field names changed, not their contents
	// (token/user templates may embed credentials).
	if names := changedTemplateNames(oldCfg.Templates, newCfg.Templates); len(names) > 0 {
		changed = append(changed, "templates")
		attrs = append(attrs, logx.String("templates.changed", strings.Join(names, ",")))
	}

	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Int("pipeline.queue_size", newCfg.Pipeline.QueueSize),
			logx.Int("pipeline.batch_size", newCfg.Pipeline.BatchSize),
		)
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.String("health.expected_receive_within", strings.TrimSpace(newCfg.Health.ExpectedReceiveWithin)),
			logx.String("health.error_window", strings.TrimSpace(newCfg.Health.ErrorWindow)),
		)
	}

	// Sources and storage are restart-required; detect but don't expand.
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		changed = append(changed, "sources")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
	}

	return changed, attrs
}

// RequiresRestart reports which of the changed sections cannot be hot-applied.
func RequiresRestart(sections []string) []string {
	out := make([]string, 0, 2)
	for _, s := range sections {
		if s == "sources" || s == "storage" {
			out = append(out, s)
		}
	}
	return out
}

func changedTemplateNames(oldT, newT map[string]string) []string {
	names := make([]string, 0, 4)
	for k, v := range newT {
		if ov, ok := oldT[k]; !ok || ov != v {
			names = append(names, k)
		}
	}
	for k := range oldT {
		if _, ok := newT[k]; !ok {
			names = append(names, k+" (removed)")
		}
	}
	return names
}
