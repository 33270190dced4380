// Package template renders per-field notification values for an event.
//
// The pipeline only depends on the Resolver interface; the default
// implementation compiles Liquid templates from config.
package template

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

// Resolver maps a field name to its rendered value for a given event.
// An unknown field or a failed render yields "".
//
// Implementations must be side-effect-free and always terminate.
type Resolver interface {
	Resolve(ev event.Event, field string) string
}

// LiquidResolver renders Liquid templates against the event payload.
// Safe for concurrent use; Apply() swaps the template set atomically.
type LiquidResolver struct {
	engine *liquid.Engine
	log    logx.Logger

	mu        sync.RWMutex
	templates map[string]*liquid.Template
}

func NewLiquid(templates map[string]string, log logx.Logger) (*LiquidResolver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &LiquidResolver{
		engine: liquid.NewEngine(),
		log:    log,
	}
	if err := r.Apply(templates); err != nil {
		return nil, err
	}
	return r, nil
}

// Apply compiles and installs a new template set. On error the previous set
// stays active, so a bad hot-reload cannot break rendering.
func (r *LiquidResolver) Apply(templates map[string]string) error {
	compiled := make(map[string]*liquid.Template, len(templates))
	for name, src := range templates {
		if src == "" {
			continue
		}
		t, err := r.engine.ParseString(src)
		if err != nil {
			return fmt.Errorf("templates.%s: %w", name, err)
		}
		compiled[name] = t
	}

	r.mu.Lock()
	r.templates = compiled
	r.mu.Unlock()
	return nil
}

func (r *LiquidResolver) Resolve(ev event.Event, field string) string {
	r.mu.RLock()
	t := r.templates[field]
	r.mu.RUnlock()
	if t == nil {
		return ""
	}

	out, err := t.RenderString(liquid.Bindings(ev.Payload))
	if err != nil {
		// Degrade to empty; the field rules decide whether that skips the event.
		r.log.Debug("template render failed",
			logx.String("field", field),
			logx.String("event_id", ev.ID),
			logx.Err(err),
		)
		return ""
	}
	return out
}

// Static is a fixed-value resolver used by tests.
type Static map[string]string

func (s Static) Resolve(_ event.Event, field string) string { return s[field] }
