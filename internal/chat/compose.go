package chat

import "strings"

// streamKeySuffix distinguishes streaming entries from single-shot ones in the dedup memo.
const streamKeySuffix = "_stream"

// Parent carries the values supplied by the enclosing chat field.
type Parent struct {
	Messages  Transcript
	MaxTokens int
}

// Args carries the per-field GroqArgs.
type Args struct {
	Messages  Transcript
	APIKey    string
	Model     string
	MaxTokens int
}

// Defaults are applied when neither the parent nor the arguments set a value.
type Defaults struct {
	Model     string
	MaxTokens int
}

// Compose merges the parent history with the appended messages and resolves the
// effective parameters. Only the trailing MaxHistoryTurns turns are kept.
func Compose(parent Parent, args Args, defaults Defaults) Params {
	merged := make(Transcript, 0, len(parent.Messages)+len(args.Messages))
	merged = append(merged, parent.Messages...)
	merged = append(merged, args.Messages...)

	maxTokens := args.MaxTokens
	if maxTokens <= 0 {
		maxTokens = parent.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaults.MaxTokens
	}
	model := strings.TrimSpace(args.Model)
	if model == "" {
		model = defaults.Model
	}
	return Params{
		Messages:  merged.LastTurns(MaxHistoryTurns),
		APIKey:    strings.TrimSpace(args.APIKey),
		Model:     model,
		MaxTokens: maxTokens,
	}
}

// DeriveKey returns the dedup key for a single-shot request: the content of the final
// message. An empty key means there is nothing to answer.
func DeriveKey(p Params) string {
	last, ok := p.Messages.Last()
	if !ok {
		return ""
	}
	return last.Content
}

// StreamKey is DeriveKey for the streaming variant. It stays empty when DeriveKey is empty.
func StreamKey(p Params) string {
	key := DeriveKey(p)
	if key == "" {
		return ""
	}
	return key + streamKeySuffix
}
