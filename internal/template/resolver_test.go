package template

import (
	"testing"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

func testEvent(payload map[string]any) event.Event {
	return event.Event{ID: "ev-1", Source: "test", Payload: payload}
}

func TestLiquidResolve(t *testing.T) {
	r, err := NewLiquid(map[string]string{
		"token":   "app-token",
		"message": "{{ host }}: {{ text }}",
		"title":   "{% if severity == 'high' %}ALERT{% else %}notice{% endif %}",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ev := testEvent(map[string]any{
		"host":     "web-1",
		"text":     "disk full",
		"severity": "high",
	})

	if got := r.Resolve(ev, "token"); got != "app-token" {
		t.Fatalf("token = %q", got)
	}
	if got := r.Resolve(ev, "message"); got != "web-1: disk full" {
		t.Fatalf("message = %q", got)
	}
	if got := r.Resolve(ev, "title"); got != "ALERT" {
		t.Fatalf("title = %q", got)
	}
	// Unknown field renders empty.
	if got := r.Resolve(ev, "sound"); got != "" {
		t.Fatalf("sound = %q, want empty", got)
	}
}

func TestLiquidCompileError(t *testing.T) {
	if _, err := NewLiquid(map[string]string{"message": "{% if %}"}, logx.Nop()); err == nil {
		t.Fatal("broken template must fail construction")
	}
}

func TestLiquidApplyKeepsPreviousOnError(t *testing.T) {
	r, err := NewLiquid(map[string]string{"message": "{{ text }}"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := r.Apply(map[string]string{"message": "{% broken "}); err == nil {
		t.Fatal("broken reload must return an error")
	}

	ev := testEvent(map[string]any{"text": "still works"})
	if got := r.Resolve(ev, "message"); got != "still works" {
		t.Fatalf("message after failed reload = %q", got)
	}
}

func TestLiquidApplySwapsTemplates(t *testing.T) {
	r, err := NewLiquid(map[string]string{"message": "old {{ text }}"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := r.Apply(map[string]string{"message": "new {{ text }}"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ev := testEvent(map[string]any{"text": "value"})
	if got := r.Resolve(ev, "message"); got != "new value" {
		t.Fatalf("message = %q", got)
	}
}
