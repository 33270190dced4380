package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pushbridge/internal/pipeline"
	logx "pushbridge/pkg/logx"
)

func TestHealthzReflectsPredicate(t *testing.T) {
	health := pipeline.NewHealth(48*time.Hour, 30*time.Minute)
	svc := New(Config{Enabled: true}, health, nil, nil, logx.Nop())
	srv := httptest.NewServer(svc.buildMux(Config{Enabled: true}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before any event = %d, want 503", resp.StatusCode)
	}

	health.NoteReceived(time.Now())
	resp2, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status after receipt = %d, want 200", resp2.StatusCode)
	}
	var snap pipeline.HealthSnapshot
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Healthy {
		t.Fatal("body should report healthy")
	}
}

func TestStatuszRequiresToken(t *testing.T) {
	cfg := Config{Enabled: true, Token: "ops-token"}
	svc := New(cfg, nil, nil, func() any {
		return map[string]any{"ok": true}
	}, logx.Nop())
	srv := httptest.NewServer(svc.buildMux(cfg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/statusz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/statusz", nil)
	req.Header.Set("Authorization", "Bearer ops-token")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", resp2.StatusCode)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.0.0.5:6060", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
