package graphql

import (
	"context"
	"time"

	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/userstore"
)

type messageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqArgs struct {
	Messages       []messageInput `json:"messages"`
	APIKey         string         `json:"apiKey"`
	Model          string         `json:"model"`
	MaxTokens      *int           `json:"maxTokens"`
	ConversationID string         `json:"conversationId"`
}

type paramsArgs struct {
	Params groqArgs `json:"params"`
}

type chatArgs struct {
	Messages  []messageInput `json:"messages"`
	MaxTokens *int           `json:"maxTokens"`
}

func toTranscript(in []messageInput) chat.Transcript {
	out := make(chat.Transcript, 0, len(in))
	for _, m := range in {
		out = append(out, chat.Turn{Role: chat.ParseRole(m.Role), Content: m.Content})
	}
	return out
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func chatResultObject(text string) *object {
	return &object{typeName: "ChatResult", fields: map[string]fieldFunc{
		"text": value(text),
	}}
}

func viewerObject(v auth.Viewer, usage ledger.Summary, recent fieldFunc) *object {
	var userID any
	if !v.Anonymous() {
		userID = v.UserID
	}
	return &object{typeName: "Viewer", fields: map[string]fieldFunc{
		"userId":   value(userID),
		"userName": value(v.UserName),
		"email":    value(v.Email),
		"balance":  value(v.Balance),
		"usage": value(&object{typeName: "Usage", fields: map[string]fieldFunc{
			"promptTokens":     value(usage.PromptTokens),
			"completionTokens": value(usage.CompletionTokens),
			"totalTokens":      value(usage.TotalTokens),
			"recent":           recent,
		}}),
	}}
}

func usageEntryObject(e ledger.Entry) *object {
	return &object{typeName: "UsageEntry", fields: map[string]fieldFunc{
		"model":            value(e.Model),
		"mode":             value(string(e.Mode)),
		"promptTokens":     value(e.PromptTokens),
		"completionTokens": value(e.CompletionTokens),
		"createdAt":        value(formatTime(e.CreatedAt)),
	}}
}

func modelObject(m config.Model) *object {
	return &object{typeName: "Model", fields: map[string]fieldFunc{
		"id":        value(m.ID),
		"maxTokens": value(m.MaxTokens),
		"default":   value(m.Default),
	}}
}

func turnObject(t userstore.Turn) *object {
	return &object{typeName: "Turn", fields: map[string]fieldFunc{
		"role":      value(string(t.Role)),
		"content":   value(t.Content),
		"createdAt": value(formatTime(t.CreatedAt)),
	}}
}

// conversationObject loads turns lazily for conversations listed without them.
func (r *Resolver) conversationObject(c *userstore.Conversation) *object {
	return &object{typeName: "Conversation", fields: map[string]fieldFunc{
		"id":        value(c.ID),
		"title":     value(c.Title),
		"createdAt": value(formatTime(c.CreatedAt)),
		"turns": func(ctx context.Context, _ *execContext, _ fieldContext) (any, error) {
			turns := c.Turns
			if turns == nil {
				full, err := r.Users.GetConversation(ctx, c.UserID, c.ID)
				if err != nil {
					return nil, err
				}
				turns = full.Turns
			}
			out := make([]*object, 0, len(turns))
			for _, t := range turns {
				out = append(out, turnObject(t))
			}
			return out, nil
		},
	}}
}
