package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
	full   bool
}

func (c *captureSink) Enqueue(ev event.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func newTestWebhook(sink Sink, token string) *Webhook {
	return NewWebhook(WebhookConfig{Token: token}, sink, logx.Nop())
}

func TestWebhookAcceptsJSONObject(t *testing.T) {
	sink := &captureSink{}
	srv := httptest.NewServer(newTestWebhook(sink, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "application/json",
		strings.NewReader(`{"message":"disk full","priority":"1"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}

	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Source != "webhook" {
		t.Fatalf("source = %q, want webhook", ev.Source)
	}
	if got, _ := ev.Payload["message"].(string); got != "disk full" {
		t.Fatalf("payload message = %q", got)
	}
}

func TestWebhookWrapsNonJSONBody(t *testing.T) {
	sink := &captureSink{}
	srv := httptest.NewServer(newTestWebhook(sink, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "text/plain", strings.NewReader("plain alert"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if got, _ := sink.events[0].Payload["text"].(string); got != "plain alert" {
		t.Fatalf("payload text = %q", got)
	}
}

func TestWebhookTokenAuth(t *testing.T) {
	sink := &captureSink{}
	srv := httptest.NewServer(newTestWebhook(sink, "s3cret").Handler())
	defer srv.Close()

	// No token: rejected.
	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	// Bearer token: accepted.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/events", strings.NewReader(`{"message":"m"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status with token = %d, want 202", resp.StatusCode)
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
}

func TestWebhookQueueFull(t *testing.T) {
	sink := &captureSink{full: true}
	srv := httptest.NewServer(newTestWebhook(sink, "").Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(`{"message":"m"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWebhookRefusesInsecureBind(t *testing.T) {
	w := NewWebhook(WebhookConfig{Addr: "0.0.0.0:0"}, &captureSink{}, logx.Nop())
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("non-loopback bind without token must refuse to start")
	}
}
