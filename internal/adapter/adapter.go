package adapter

import (
	"context"

	"github.com/tokligence/chatrelay/internal/chat"
)

// Completion is a provider's single-shot answer.
type Completion struct {
	Text  string
	Model string
	Usage chat.Usage
}

// ChatAdapter sends composed chat parameters to a model provider.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, params chat.Params) (Completion, error)
	// CreateCompletionStream returns a channel that yields token events followed by exactly
	// one terminal event. The channel is closed once the terminal event is delivered or ctx
	// is done; cancelling ctx tears the provider connection down.
	CreateCompletionStream(ctx context.Context, params chat.Params) (<-chan chat.StreamEvent, error)
}
