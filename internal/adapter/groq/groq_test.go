package groq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/testutil"
)

func params(content string) chat.Params {
	return chat.Params{
		Model:     "llama-3.1-8b-instant",
		MaxTokens: 64,
		Messages:  chat.Transcript{{Role: chat.RoleUser, Content: content}},
	}
}

func sseHandler(t *testing.T, chunks []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func TestCreateCompletionStream(t *testing.T) {
	server := testutil.NewIPv4Server(t, sseHandler(t, []string{
		`{"id":"c1","object":"chat.completion.chunk","model":"llama","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"llama","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"llama","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","model":"llama","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
	}))
	defer server.Close()

	a, err := New(Config{APIKey: "gsk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events, err := a.CreateCompletionStream(context.Background(), params("hi"))
	if err != nil {
		t.Fatalf("CreateCompletionStream: %v", err)
	}

	var tokens []string
	var last chat.StreamEvent
	for e := range events {
		if e.Kind == chat.EventToken {
			tokens = append(tokens, e.Token)
		}
		last = e
	}
	if strings.Join(tokens, "|") != "Hel|lo" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	if last.Kind != chat.EventCompleted {
		t.Fatalf("expected completed terminal event, got %s", last.Kind)
	}
	if last.Usage == nil || last.Usage.PromptTokens != 7 || last.Usage.CompletionTokens != 2 {
		t.Fatalf("unexpected usage %+v", last.Usage)
	}
}

func TestCreateCompletionStreamRejected(t *testing.T) {
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "bad", BaseURL: server.URL})
	if _, err := a.CreateCompletionStream(context.Background(), params("hi")); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestCreateCompletionStreamCancel(t *testing.T) {
	release := make(chan struct{})
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			fmt.Fprintf(w, "data: {\"id\":\"c\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"t%d \"}}]}\n\n", i)
			flusher.Flush()
			select {
			case <-r.Context().Done():
				close(release)
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "gsk-test", BaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	events, err := a.CreateCompletionStream(ctx, params("hi"))
	if err != nil {
		t.Fatalf("CreateCompletionStream: %v", err)
	}
	<-events
	cancel()
	for range events {
	}
	select {
	case <-release:
	case <-time.After(2 * time.Second):
		t.Fatalf("upstream connection was not torn down")
	}
}

func TestCreateCompletionAPIKeyOverride(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	server := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c2","object":"chat.completion","model":"llama-3.1-8b-instant","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "gsk-default", BaseURL: server.URL})
	p := params("ping")
	p.APIKey = "gsk-caller"
	resp, err := a.CreateCompletion(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if gotAuth != "Bearer gsk-caller" {
		t.Fatalf("expected caller key, got %q", gotAuth)
	}
	if gotBody["model"] != "llama-3.1-8b-instant" || gotBody["max_tokens"] != float64(64) {
		t.Fatalf("unexpected request body %v", gotBody)
	}
	if resp.Text != "pong" || resp.Usage.Total() != 4 {
		t.Fatalf("unexpected completion %+v", resp)
	}
}

func TestCreateCompletionRequiresKey(t *testing.T) {
	a, err := New(Config{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.CreateCompletion(context.Background(), params("hi")); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://example"}); err == nil {
		t.Fatalf("expected error for bad base url")
	}
}
