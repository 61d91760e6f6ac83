// Package groq talks to Groq's OpenAI compatible chat completions API.
package groq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/chat"
)

// DefaultBaseURL is Groq's OpenAI compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

var _ adapter.ChatAdapter = (*GroqAdapter)(nil)

// Config configures the Groq adapter.
type Config struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// GroqAdapter sends chat requests to Groq.
type GroqAdapter struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	client     *openai.Client
}

// New creates a Groq adapter. A request may still carry its own API key, so an empty
// configured key is accepted.
func New(cfg Config) (*GroqAdapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("groq: invalid base url %q", cfg.BaseURL)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// streams are bounded by the request context, not a client timeout
		httpClient = &http.Client{}
	}
	a := &GroqAdapter{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: httpClient,
	}
	a.client = a.newClient(a.apiKey)
	return a, nil
}

func (a *GroqAdapter) newClient(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = a.baseURL
	cfg.HTTPClient = a.httpClient
	return openai.NewClientWithConfig(cfg)
}

// clientFor honours a per-request API key override.
func (a *GroqAdapter) clientFor(params chat.Params) (*openai.Client, error) {
	key := strings.TrimSpace(params.APIKey)
	if key == "" || key == a.apiKey {
		if a.apiKey == "" {
			return nil, errors.New("groq: api key required")
		}
		return a.client, nil
	}
	return a.newClient(key), nil
}

func buildRequest(params chat.Params, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:     params.Model,
		Messages:  msgs,
		MaxTokens: params.MaxTokens,
		Stream:    stream,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// CreateCompletion performs a single-shot chat completion.
func (a *GroqAdapter) CreateCompletion(ctx context.Context, params chat.Params) (adapter.Completion, error) {
	if len(params.Messages) == 0 {
		return adapter.Completion{}, errors.New("groq: no messages provided")
	}
	client, err := a.clientFor(params)
	if err != nil {
		return adapter.Completion{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(ctx, buildRequest(params, false))
	if err != nil {
		return adapter.Completion{}, fmt.Errorf("groq: create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return adapter.Completion{}, errors.New("groq: response contained no choices")
	}
	model := resp.Model
	if model == "" {
		model = params.Model
	}
	return adapter.Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// CreateCompletionStream opens a streaming completion. It returns once Groq has accepted
// the request; tokens are pushed by a single producer goroutine.
func (a *GroqAdapter) CreateCompletionStream(ctx context.Context, params chat.Params) (<-chan chat.StreamEvent, error) {
	if len(params.Messages) == 0 {
		return nil, errors.New("groq: no messages provided")
	}
	client, err := a.clientFor(params)
	if err != nil {
		return nil, err
	}
	stream, err := client.CreateChatCompletionStream(ctx, buildRequest(params, true))
	if err != nil {
		return nil, fmt.Errorf("groq: open stream: %w", err)
	}

	out := make(chan chat.StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(e chat.StreamEvent) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *chat.Usage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(chat.Completed(usage))
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(chat.Failed(fmt.Errorf("groq: stream: %w", err)))
				return
			}
			if resp.Usage != nil {
				usage = &chat.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
				}
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(chat.Token(choice.Delta.Content)) {
					return
				}
			}
		}
	}()
	return out, nil
}
