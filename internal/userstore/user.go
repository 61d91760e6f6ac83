// Package userstore persists relay users and their conversation history.
package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tokligence/chatrelay/internal/chat"
)

// DefaultBalance is granted to every newly provisioned user.
const DefaultBalance int64 = 100

// ErrNotFound is returned when a user or conversation does not exist or is not visible
// to the caller.
var ErrNotFound = errors.New("userstore: not found")

// User represents an identity known to the relay. ID is the identity provider's subject.
type User struct {
	ID        string
	UserName  string
	Email     string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one persisted transcript entry.
type Turn struct {
	Role      chat.Role
	Content   string
	CreatedAt time.Time
}

// Conversation is a titled, user-owned transcript.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Turns     []Turn
}

// Transcript returns the conversation turns as chat turns.
func (c *Conversation) Transcript() chat.Transcript {
	out := make(chat.Transcript, 0, len(c.Turns))
	for _, t := range c.Turns {
		out = append(out, chat.Turn{Role: t.Role, Content: t.Content})
	}
	return out
}

// Store persists users and conversations across SQLite/Postgres backends.
type Store interface {
	// EnsureUser inserts the user with the given balance unless it already exists and
	// returns the stored record. created reports whether this call inserted it.
	EnsureUser(ctx context.Context, u User, balance int64) (user *User, created bool, err error)
	GetUser(ctx context.Context, id string) (*User, error)

	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)
	// ListConversations returns the user's conversations, newest first, without turns.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (*Conversation, error)
	AppendTurns(ctx context.Context, userID, conversationID string, turns []chat.Turn) (*Conversation, error)

	Close() error
}

// DefaultTitle is used when a conversation is created without one.
const DefaultTitle = "New conversation"

// NormalizeTitle trims a title and applies the default.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	if len(title) > 200 {
		title = title[:200]
	}
	return title
}

// ValidateTurns rejects turns that cannot be stored.
func ValidateTurns(turns []chat.Turn) error {
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem:
		default:
			return fmt.Errorf("userstore: invalid role %q", t.Role)
		}
	}
	return nil
}
