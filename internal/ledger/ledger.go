package ledger

import (
	"context"
	"fmt"
	"time"
)

// Mode records how a completion was delivered.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeStream Mode = "stream"
)

// Entry represents a single usage record written to the ledger.
type Entry struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"user_id"`
	Model            string    `json:"model"`
	Mode             Mode      `json:"mode"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	Memo             string    `json:"memo"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates token usage for a user.
type Summary struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userID string) (Summary, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Entry, error)
	Close() error
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("ledger record requires user id")
	}
	if e.Mode != ModeSingle && e.Mode != ModeStream {
		return fmt.Errorf("invalid mode %q", e.Mode)
	}
	if e.PromptTokens < 0 || e.CompletionTokens < 0 {
		return fmt.Errorf("negative token counts")
	}
	return nil
}
