// Package hooks fans relay lifecycle events out to operator-provided handlers.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names an exported lifecycle transition.
type EventType string

const (
	// EventUserProvisioned fires once when a verified identity first gets a user record.
	EventUserProvisioned EventType = "chatrelay.user.provisioned"
	// EventConversationCreated fires after a conversation is stored.
	EventConversationCreated EventType = "chatrelay.conversation.created"
)

// Event is what handlers receive.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	UserID     string         `json:"user_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType, userID string, metadata map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC(), UserID: userID, Metadata: metadata}
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// Dispatcher fans events out to registered handlers. The zero value is ready to use and
// a nil *Dispatcher drops every event.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// Register adds a handler. Handlers run sequentially in registration order.
func (d *Dispatcher) Register(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers event to every handler and joins their errors.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config enables the script handler.
type Config struct {
	ScriptPath string
	ScriptArgs []string
	Env        map[string]string
	Timeout    time.Duration
}

// Enabled reports whether a script is configured.
func (c Config) Enabled() bool { return c.ScriptPath != "" }

// NewScriptHandler returns a Handler that writes the JSON event to the script's stdin.
func NewScriptHandler(cfg Config) Handler {
	return func(parent context.Context, evt Event) error {
		if cfg.ScriptPath == "" {
			return errors.New("hooks: script not configured")
		}
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parent
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.ScriptPath, cfg.ScriptArgs...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, key+"="+val)
			}
			cmd.Env = env
		}
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("hooks: stdin pipe: %w", err)
		}
		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hooks: %s %s: %w", cfg.ScriptPath, evt.Type, err)
		}
		return nil
	}
}
