package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) *ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return NewConfigManager(path)
}

func TestLoadYAML(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
logging:
  level: DEBUG
  console: true
pushover:
  rate_per_sec: 4
templates:
  token: "{{ token }}"
  user: "{{ user }}"
  message: "{{ text }}"
pipeline:
  queue_size: 64
sources:
  webhook:
    enabled: true
    addr: "127.0.0.1:8090"
storage:
  driver: file
  path: ./data/store
`)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Pushover.RatePerSec != 4 {
		t.Fatalf("rate_per_sec = %d", cfg.Pushover.RatePerSec)
	}
	if got := cfg.Templates["message"]; got != "{{ text }}" {
		t.Fatalf("message template = %q", got)
	}
	if cfg.Pipeline.QueueSize != 64 {
		t.Fatalf("queue_size = %d", cfg.Pipeline.QueueSize)
	}
	if cfg.Sources.Webhook == nil || !cfg.Sources.Webhook.Enabled {
		t.Fatal("webhook source should be enabled")
	}
	if cfg.Sources.MQTT != nil {
		t.Fatal("omitted source sections must stay nil")
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, "config.yaml", `
logging:
  level: INFO
  verbosity: high
`)
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field must be rejected")
	} else if !strings.Contains(err.Error(), "verbosity") {
		t.Fatalf("error should name the unknown field: %v", err)
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	m := writeConfig(t, "config.json", `{"logging":{"level":"INFO"}}{"extra":1}`)
	if _, err := m.Load(); err == nil {
		t.Fatal("trailing JSON tokens must be rejected")
	}
}

func TestSummarizeConfigChangeListsTemplateSection(t *testing.T) {
	oldCfg := &Config{Templates: map[string]string{"token": "secret-a", "message": "{{ text }}"}}
	newCfg := &Config{Templates: map[string]string{"token": "secret-b", "message": "{{ text }}"}}

	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	found := false
	for _, s := range sections {
		if s == "templates" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sections = %v, want templates listed", sections)
	}
}

func TestRequiresRestart(t *testing.T) {
	got := RequiresRestart([]string{"logging", "sources", "templates", "storage"})
	if len(got) != 2 || got[0] != "sources" || got[1] != "storage" {
		t.Fatalf("RequiresRestart = %v", got)
	}
}
