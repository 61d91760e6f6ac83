package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turns(contents ...string) Transcript {
	out := make(Transcript, 0, len(contents))
	for i, c := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out = append(out, Turn{Role: role, Content: c})
	}
	return out
}

func TestComposeKeepsLastFiveTurns(t *testing.T) {
	history := turns("a", "b", "c", "d", "e", "f")
	p := Compose(Parent{Messages: history}, Args{Messages: Transcript{{Role: RoleUser, Content: "g"}}}, Defaults{})

	require.Len(t, p.Messages, MaxHistoryTurns)
	assert.Equal(t, "c", p.Messages[0].Content)
	assert.Equal(t, Turn{Role: RoleUser, Content: "g"}, p.Messages[4])
}

func TestComposeShortHistoryUnchanged(t *testing.T) {
	p := Compose(Parent{Messages: turns("hi")}, Args{Messages: Transcript{{Role: RoleUser, Content: "there"}}}, Defaults{})
	assert.Equal(t, Transcript{{Role: RoleUser, Content: "hi"}, {Role: RoleUser, Content: "there"}}, p.Messages)
}

func TestComposeMaxTokensPrecedence(t *testing.T) {
	defaults := Defaults{Model: "llama3-8b-8192", MaxTokens: 1024}

	p := Compose(Parent{MaxTokens: 200}, Args{MaxTokens: 50}, defaults)
	assert.Equal(t, 50, p.MaxTokens)

	p = Compose(Parent{MaxTokens: 200}, Args{}, defaults)
	assert.Equal(t, 200, p.MaxTokens)

	p = Compose(Parent{}, Args{}, defaults)
	assert.Equal(t, 1024, p.MaxTokens)
	assert.Equal(t, "llama3-8b-8192", p.Model)

	p = Compose(Parent{}, Args{Model: " mixtral-8x7b-32768 ", APIKey: " gsk_x "}, defaults)
	assert.Equal(t, "mixtral-8x7b-32768", p.Model)
	assert.Equal(t, "gsk_x", p.APIKey)
}

func TestComposeDoesNotAliasParent(t *testing.T) {
	parent := turns("a")
	p := Compose(Parent{Messages: parent}, Args{}, Defaults{})
	p.Messages[0].Content = "changed"
	assert.Equal(t, "a", parent[0].Content)
}

func TestDeriveKey(t *testing.T) {
	assert.Equal(t, "", DeriveKey(Params{}))
	assert.Equal(t, "", StreamKey(Params{}))

	empty := Params{Messages: Transcript{{Role: RoleUser, Content: ""}}}
	assert.Equal(t, "", DeriveKey(empty))
	assert.Equal(t, "", StreamKey(empty))

	p := Params{Messages: turns("hi", "hello", "how are you")}
	assert.Equal(t, "how are you", DeriveKey(p))
	assert.Equal(t, "how are you_stream", StreamKey(p))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAssistant, ParseRole("Assistant"))
	assert.Equal(t, RoleSystem, ParseRole("system"))
	assert.Equal(t, RoleUser, ParseRole("bogus"))
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel(StreamSentinel))
	assert.True(t, IsSentinel("tail"+StreamSentinel))
	assert.False(t, IsSentinel("__{{stream"))
}

func TestEstimateUsage(t *testing.T) {
	u := EstimateUsage(Transcript{{Role: RoleUser, Content: "12345678"}}, "abc")
	assert.Equal(t, 2, u.PromptTokens)
	assert.Equal(t, 1, u.CompletionTokens)
	assert.Equal(t, 3, u.Total())
}
