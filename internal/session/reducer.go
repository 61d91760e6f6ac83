// Package session holds client-side conversation state and the reducer that folds relayed
// fragments into it.
package session

import (
	"strings"
	"sync"

	"github.com/tokligence/chatrelay/internal/chat"
)

// Scroller is notified whenever the transcript grows and the view should follow it.
type Scroller func()

// Reducer owns a transcript and the request flags. It is safe for concurrent use, but
// fragments must be applied in the order they were relayed.
type Reducer struct {
	mu                 sync.Mutex
	transcript         chat.Transcript
	isFetching         bool
	waitingForResponse bool
	lastErr            error
	scroll             Scroller
}

// NewReducer starts a reducer from an existing transcript.
func NewReducer(history chat.Transcript, scroll Scroller) *Reducer {
	return &Reducer{transcript: history.Clone(), scroll: scroll}
}

// Submit appends a user turn, raises both flags and returns the messages to send: the last
// turns of the transcript including the new one.
func (r *Reducer) Submit(text string) chat.Transcript {
	r.mu.Lock()
	r.transcript = append(r.transcript, chat.Turn{Role: chat.RoleUser, Content: text})
	r.isFetching = true
	r.waitingForResponse = true
	r.lastErr = nil
	out := r.transcript.LastTurns(chat.MaxHistoryTurns)
	r.mu.Unlock()

	r.notify()
	return out
}

// Apply folds one relayed fragment into the transcript. The completion sentinel clears
// both flags and is never rendered.
func (r *Reducer) Apply(fragment string) {
	r.mu.Lock()
	if chat.IsSentinel(fragment) {
		r.isFetching = false
		r.waitingForResponse = false
		r.mu.Unlock()
		return
	}
	r.waitingForResponse = false
	n := len(r.transcript)
	if n > 0 && r.transcript[n-1].Role == chat.RoleAssistant {
		r.transcript[n-1].Content += fragment
	} else {
		r.transcript = append(r.transcript, chat.Turn{Role: chat.RoleAssistant, Content: fragment})
	}
	r.mu.Unlock()

	r.notify()
}

// Fail ends the in-flight request with err so the flags never stay raised.
func (r *Reducer) Fail(err error) {
	r.mu.Lock()
	r.isFetching = false
	r.waitingForResponse = false
	r.lastErr = err
	r.mu.Unlock()
}

// Reset replaces the transcript and clears all request state.
func (r *Reducer) Reset(history chat.Transcript) {
	r.mu.Lock()
	r.transcript = history.Clone()
	r.isFetching = false
	r.waitingForResponse = false
	r.lastErr = nil
	r.mu.Unlock()

	r.notify()
}

func (r *Reducer) notify() {
	if r.scroll != nil {
		r.scroll()
	}
}

// Transcript returns a copy of the current transcript.
func (r *Reducer) Transcript() chat.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript.Clone()
}

// IsFetching reports whether a request is in flight.
func (r *Reducer) IsFetching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isFetching
}

// WaitingForResponse reports whether no fragment has arrived yet for the current request.
func (r *Reducer) WaitingForResponse() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitingForResponse
}

// LastError returns the error recorded by the most recent Fail.
func (r *Reducer) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// LastAssistant returns the content of the trailing assistant turn, if any.
func (r *Reducer) LastAssistant() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.transcript.Last(); ok && last.Role == chat.RoleAssistant {
		return strings.TrimSpace(last.Content)
	}
	return ""
}
