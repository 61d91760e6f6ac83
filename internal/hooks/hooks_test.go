package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDispatcherEmit(t *testing.T) {
	d := &Dispatcher{}
	var sequence []string
	d.Register(func(ctx context.Context, evt Event) error {
		sequence = append(sequence, "first:"+string(evt.Type))
		return nil
	})
	d.Register(func(ctx context.Context, evt Event) error {
		sequence = append(sequence, "second:"+evt.Metadata["title"].(string))
		return errors.New("second handler failed")
	})

	err := d.Emit(context.Background(), NewEvent(EventConversationCreated, "u-1", map[string]any{"title": "trip"}))
	if err == nil || !strings.Contains(err.Error(), "second handler failed") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(sequence) != 2 || sequence[0] != "first:"+string(EventConversationCreated) || sequence[1] != "second:trip" {
		t.Fatalf("unexpected sequence %v", sequence)
	}
}

func TestNilDispatcherDropsEvents(t *testing.T) {
	var d *Dispatcher
	if err := d.Emit(context.Background(), NewEvent(EventUserProvisioned, "u-1", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewEventStampsIDAndTime(t *testing.T) {
	a := NewEvent(EventUserProvisioned, "u-1", nil)
	b := NewEvent(EventUserProvisioned, "u-1", nil)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.OccurredAt.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestScriptHandlerRunsCommand(t *testing.T) {
	evt := NewEvent(EventUserProvisioned, "u-42", map[string]any{"balance": 100})
	handler := NewScriptHandler(Config{
		ScriptPath: os.Args[0],
		ScriptArgs: []string{"-test.run=TestHelperProcessScriptHandler", "--"},
		Env: map[string]string{
			"GO_WANT_HELPER_PROCESS": "1",
			"HOOK_EXPECT_ID":         evt.ID,
			"HOOK_EXPECT_TYPE":       string(evt.Type),
		},
		Timeout: 5 * time.Second,
	})
	if err := handler(context.Background(), evt); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func TestScriptHandlerRequiresPath(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatalf("empty config must be disabled")
	}
	if err := NewScriptHandler(Config{})(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error without script path")
	}
}

func TestHelperProcessScriptHandler(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	var payload Event
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		io.WriteString(os.Stderr, "decode error: "+err.Error())
		os.Exit(2)
	}
	if payload.ID != os.Getenv("HOOK_EXPECT_ID") {
		io.WriteString(os.Stderr, "unexpected id")
		os.Exit(3)
	}
	if string(payload.Type) != os.Getenv("HOOK_EXPECT_TYPE") {
		io.WriteString(os.Stderr, "unexpected type")
		os.Exit(4)
	}
	os.Exit(0)
}
