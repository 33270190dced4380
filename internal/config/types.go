package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Pushover controls the outbound dispatch client (fixed API endpoint,
	// timeouts, send pacing).
	Pushover PushoverConfig `json:"pushover"`

	// Templates maps notification field names to Liquid templates rendered
	// against each event's payload. Required fields: token, user, message.
	// A missing entry renders as empty (and for required fields skips the
	// event).
	Templates map[string]string `json:"templates"`

	Pipeline PipelineConfig `json:"pipeline"`
	Health   HealthConfig   `json:"health"`
	Sources  SourcesConfig  `json:"sources"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Ops         OpsConfig          `json:"ops,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PushoverConfig controls the outbound HTTP client.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type PushoverConfig struct {
	// Endpoint overrides the API URL. Leave empty for the official endpoint.
	// Intended for tests and staging only.
	Endpoint string `json:"endpoint,omitempty"`

	// RequestTimeout bounds one notification POST. Default "15s".
	RequestTimeout string `json:"request_timeout,omitempty"`

	// FetchTimeout bounds one attachment download. Default "30s".
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	// RatePerSec paces dispatches (token bucket). Default 2.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// PipelineConfig controls the intake queue and batching.
type PipelineConfig struct {
	// QueueSize bounds the intake queue. Default 512.
	QueueSize int `json:"queue_size,omitempty"`

	// BatchSize caps how many queued events one pass drains. Default 32.
	BatchSize int `json:"batch_size,omitempty"`
}

// HealthConfig controls the liveness predicate.
type HealthConfig struct {
	// ExpectedReceiveWithin: unhealthy when no event arrived within this
	// window. Go duration string, default "48h".
	ExpectedReceiveWithin string `json:"expected_receive_within,omitempty"`

	// ErrorWindow: unhealthy when a pipeline error was recorded within this
	// window. Default "30m".
	ErrorWindow string `json:"error_window,omitempty"`
}

// SourcesConfig enables intake sources. Omitted sections stay disabled.
//
// Source changes require a restart; the hot-reload loop logs a warning
// instead of live-applying them.
type SourcesConfig struct {
	Webhook  *WebhookSourceConfig  `json:"webhook,omitempty"`
	MQTT     *MQTTSourceConfig     `json:"mqtt,omitempty"`
	Kafka    *KafkaSourceConfig    `json:"kafka,omitempty"`
	Telegram *TelegramSourceConfig `json:"telegram,omitempty"`
}

type WebhookSourceConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
	Path    string `json:"path,omitempty"` // default "/events"
	Token   string `json:"token,omitempty"`
	// AllowInsecure permits a non-loopback bind without a token.
	AllowInsecure bool `json:"allow_insecure,omitempty"`
}

type MQTTSourceConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	ClientID  string `json:"client_id,omitempty"`
	Topic     string `json:"topic"`
	QoS       int    `json:"qos,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

type KafkaSourceConfig struct {
	Enabled bool   `json:"enabled"`
	Brokers string `json:"brokers"` // comma-separated
	GroupID string `json:"group_id,omitempty"`
	Topic   string `json:"topic"`
}

type TelegramSourceConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// AllowedChatIDs restricts intake to these chats. Empty accepts all.
	AllowedChatIDs []int64 `json:"allowed_chat_ids,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pushbridge_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retention bounds how long delivery records are kept. Default "720h".
	Retention string `json:"retention,omitempty"`
}

// OpsConfig controls the optional operational HTTP server
// (/healthz, /metrics, /statusz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Pprof exposes net/http/pprof under PprofPrefix when true.
	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so pprof /profile works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig controls cron-driven housekeeping.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// PruneSchedule is a cron spec for delivery-record pruning.
	// Default "0 3 * * *".
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// StatsSchedule is a cron spec for the periodic stats summary log.
	// Empty disables it.
	StatsSchedule string `json:"stats_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}
