package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/chat"
)

// Ensure LoopbackAdapter implements ChatAdapter.
var _ adapter.ChatAdapter = (*LoopbackAdapter)(nil)

// Prefix is prepended to every echoed reply.
const Prefix = "[loopback] "

// LoopbackAdapter echoes the last user message back to the caller.
type LoopbackAdapter struct {
	// Delay is slept between streamed words.
	Delay time.Duration
}

// New creates a LoopbackAdapter instance.
func New() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

func reply(params chat.Params) (string, error) {
	if len(params.Messages) == 0 {
		return "", errors.New("no messages provided")
	}
	// find last user message; default to final message if none
	message := params.Messages[len(params.Messages)-1]
	for i := len(params.Messages) - 1; i >= 0; i-- {
		if params.Messages[i].Role == chat.RoleUser {
			message = params.Messages[i]
			break
		}
	}
	return Prefix + strings.TrimSpace(message.Content), nil
}

// CreateCompletion fabricates a deterministic completion for testing the relay pipeline.
func (a *LoopbackAdapter) CreateCompletion(ctx context.Context, params chat.Params) (adapter.Completion, error) {
	text, err := reply(params)
	if err != nil {
		return adapter.Completion{}, err
	}
	return adapter.Completion{
		Text:  text,
		Model: params.Model,
		Usage: chat.Usage{
			PromptTokens:     len(params.Messages) * 10,
			CompletionTokens: len(text) / 4,
		},
	}, nil
}

// CreateCompletionStream streams the echoed reply word by word.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, params chat.Params) (<-chan chat.StreamEvent, error) {
	text, err := reply(params)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(text, " ")
	out := make(chan chat.StreamEvent)
	go func() {
		defer close(out)
		for _, w := range words {
			if w == "" {
				continue
			}
			if a.Delay > 0 {
				select {
				case <-time.After(a.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- chat.Token(w):
			case <-ctx.Done():
				return
			}
		}
		usage := chat.Usage{PromptTokens: len(params.Messages) * 10, CompletionTokens: len(text) / 4}
		select {
		case out <- chat.Completed(&usage):
		case <-ctx.Done():
		}
	}()
	return out, nil
}
