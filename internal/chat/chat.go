// Package chat holds the transcript, request and stream types shared by the relay,
// the upstream adapters and the client reducer.
package chat

import (
	"strings"
)

// Role identifies the author of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MaxHistoryTurns caps the number of turns sent upstream per request.
const MaxHistoryTurns = 5

// Turn is a single role-tagged chat message.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an ordered list of turns.
type Transcript []Turn

// Last returns the final turn and whether one exists.
func (t Transcript) Last() (Turn, bool) {
	if len(t) == 0 {
		return Turn{}, false
	}
	return t[len(t)-1], true
}

// LastTurns returns a copy of the trailing n turns.
func (t Transcript) LastTurns(n int) Transcript {
	if n <= 0 {
		return Transcript{}
	}
	start := 0
	if len(t) > n {
		start = len(t) - n
	}
	out := make(Transcript, len(t)-start)
	copy(out, t[start:])
	return out
}

// Clone returns an independent copy of the transcript.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// ParseRole normalizes a role string; unknown values map to user.
func ParseRole(v string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(v))) {
	case RoleAssistant:
		return RoleAssistant
	case RoleSystem:
		return RoleSystem
	default:
		return RoleUser
	}
}

// Params is a composed request ready for the upstream adapter.
type Params struct {
	Messages  Transcript
	APIKey    string
	Model     string
	MaxTokens int
}
