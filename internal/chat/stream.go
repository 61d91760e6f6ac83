package chat

import (
	"context"
	"strings"
)

// StreamSentinel marks the end of a relayed stream. Clients treat any fragment
// containing it as terminal and never render it.
const StreamSentinel = "__{{streamCompleted}}__"

// EventKind tags a StreamEvent.
type EventKind int

const (
	EventToken EventKind = iota
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Usage reports token accounting for a finished completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// StreamEvent is one element of an upstream token stream. Exactly one terminal event
// (EventCompleted or EventFailed) ends every stream.
type StreamEvent struct {
	Kind  EventKind
	Token string
	Err   error
	// Usage is set on EventCompleted when the provider reports it.
	Usage *Usage
}

// Token builds a token event.
func Token(s string) StreamEvent { return StreamEvent{Kind: EventToken, Token: s} }

// Completed builds a successful terminal event.
func Completed(usage *Usage) StreamEvent { return StreamEvent{Kind: EventCompleted, Usage: usage} }

// Failed builds a failure terminal event.
func Failed(err error) StreamEvent { return StreamEvent{Kind: EventFailed, Err: err} }

// IsError reports whether the event terminates the stream with a failure.
func (e StreamEvent) IsError() bool { return e.Kind == EventFailed }

// IsTerminal reports whether no further events follow.
func (e StreamEvent) IsTerminal() bool { return e.Kind != EventToken }

// IsSentinel reports whether a relayed fragment marks stream completion.
func IsSentinel(fragment string) bool {
	return strings.Contains(fragment, StreamSentinel)
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateUsage approximates usage for providers that do not report it.
func EstimateUsage(messages Transcript, completion string) Usage {
	prompt := 0
	for _, m := range messages {
		prompt += EstimateTokens(m.Content)
	}
	return Usage{PromptTokens: prompt, CompletionTokens: EstimateTokens(completion)}
}

// Closed returns a channel that yields the given events and is then closed.
func Closed(events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

// Observe forwards every event from in to the returned channel, calling fn first.
// Forwarding stops when ctx is done, after a terminal event, or when in is closed.
func Observe(ctx context.Context, in <-chan StreamEvent, fn func(StreamEvent)) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-in:
				if !ok {
					return
				}
				if fn != nil {
					fn(e)
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if e.IsTerminal() {
					return
				}
			}
		}
	}()
	return out
}
