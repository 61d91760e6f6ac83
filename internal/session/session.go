package session

import (
	"context"
	"errors"
	"strings"

	"github.com/tokligence/chatrelay/internal/chat"
)

// Streamer relays a chat request and yields fragments in order. GraphQL clients satisfy it.
type Streamer interface {
	Stream(ctx context.Context, req Request, onFragment func(string)) error
}

// Request is what a session sends for one user message.
type Request struct {
	Messages       chat.Transcript
	Model          string
	MaxTokens      int
	APIKey         string
	ConversationID string
}

// HistoryLoader fetches the stored transcript of a conversation.
type HistoryLoader interface {
	History(ctx context.Context, conversationID string) (chat.Transcript, error)
}

// Session is created at session start and holds the active conversation and reducer.
type Session struct {
	ConversationID string
	Model          string
	MaxTokens      int
	APIKey         string

	reducer *Reducer
}

// New starts a session on conversationID with an empty transcript.
func New(conversationID string, scroll Scroller) *Session {
	return &Session{ConversationID: conversationID, reducer: NewReducer(nil, scroll)}
}

// Reducer exposes the session's reducer.
func (s *Session) Reducer() *Reducer { return s.reducer }

// Send submits text and relays the response through streamer, applying every fragment
// as it arrives. Transport failures are recorded with Fail and returned.
func (s *Session) Send(ctx context.Context, streamer Streamer, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("session: empty message")
	}
	if s.reducer.IsFetching() {
		return errors.New("session: request already in flight")
	}
	messages := s.reducer.Submit(text)
	err := streamer.Stream(ctx, Request{
		Messages:       messages,
		Model:          s.Model,
		MaxTokens:      s.MaxTokens,
		APIKey:         s.APIKey,
		ConversationID: s.ConversationID,
	}, s.reducer.Apply)
	if err != nil {
		s.reducer.Fail(err)
		return err
	}
	if s.reducer.IsFetching() {
		// the stream ended without the sentinel
		err = errors.New("session: stream ended before completion")
		s.reducer.Fail(err)
		return err
	}
	return nil
}

// Switch moves the session to another conversation, clearing request state and loading
// its stored history.
func (s *Session) Switch(ctx context.Context, loader HistoryLoader, conversationID string) error {
	var history chat.Transcript
	if conversationID != "" && loader != nil {
		h, err := loader.History(ctx, conversationID)
		if err != nil {
			return err
		}
		history = h
	}
	s.ConversationID = conversationID
	s.reducer.Reset(history)
	return nil
}
