package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/session"
)

var (
	_ session.Streamer      = (*Client)(nil)
	_ session.HistoryLoader = (*Client)(nil)
)

const graphqlPath = "/graphql"

// GraphQLError is one entry of a response's errors list.
type GraphQLError struct {
	Message string
	Path    []any
}

// GraphQLErrors is returned when a response carries errors.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Message)
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

func parseErrors(res gjson.Result) error {
	errs := res.Get("errors")
	if !errs.Exists() || len(errs.Array()) == 0 {
		return nil
	}
	var out GraphQLErrors
	for _, e := range errs.Array() {
		ge := GraphQLError{Message: e.Get("message").String()}
		for _, p := range e.Get("path").Array() {
			ge.Path = append(ge.Path, p.Value())
		}
		out = append(out, ge)
	}
	return out
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Query runs a single-response operation and returns its data.
func (c *Client) Query(ctx context.Context, query string, vars map[string]any) (gjson.Result, error) {
	body, err := jsonBody(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, graphqlPath, "application/json", body)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(data)
	if err := parseErrors(res); err != nil {
		return res.Get("data"), err
	}
	return res.Get("data"), nil
}

const streamQuery = `query Stream($params: GroqArgs) { chat { GroqStream(params: $params) } }`

const askQuery = `query Ask($params: GroqArgs) { chat { Groq(params: $params) { text } } }`

func paramsVars(req session.Request) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	params := map[string]any{"messages": messages}
	if req.Model != "" {
		params["model"] = req.Model
	}
	if req.MaxTokens > 0 {
		params["maxTokens"] = req.MaxTokens
	}
	if req.APIKey != "" {
		params["apiKey"] = req.APIKey
	}
	if req.ConversationID != "" {
		params["conversationId"] = req.ConversationID
	}
	return map[string]any{"params": params}
}

// Ask returns the single-shot completion for req.
func (c *Client) Ask(ctx context.Context, req session.Request) (string, error) {
	data, err := c.Query(ctx, askQuery, paramsVars(req))
	if err != nil {
		return "", err
	}
	return data.Get("chat.Groq.text").String(), nil
}

// Stream relays req over SSE and calls onFragment for every fragment in push order,
// including the completion sentinel.
func (c *Client) Stream(ctx context.Context, req session.Request, onFragment func(string)) error {
	body, err := jsonBody(graphqlRequest{Query: streamQuery, Variables: paramsVars(req)})
	if err != nil {
		return err
	}
	hreq, err := c.newRequest(ctx, http.MethodPost, graphqlPath, "application/json", body)
	if err != nil {
		return err
	}
	hreq.Header.Set("Accept", "text/event-stream")
	resp, err := c.do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return readEvents(resp.Body, func(payload gjson.Result) error {
		if err := parseErrors(payload); err != nil {
			return err
		}
		if payload.Get("path").Exists() {
			for _, frag := range payload.Get("data").Array() {
				onFragment(frag.String())
			}
			return nil
		}
		// initial payload, or the whole list from a single-response server
		for _, frag := range payload.Get("data.chat.GroqStream").Array() {
			onFragment(frag.String())
		}
		return nil
	})
}

var errStreamDone = errors.New("stream done")

// readEvents parses a text/event-stream body and hands each "next" payload to fn.
func readEvents(r io.Reader, fn func(gjson.Result) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	event := ""
	var data strings.Builder
	flush := func() error {
		defer func() {
			event = ""
			data.Reset()
		}()
		if event == "complete" {
			return errStreamDone
		}
		if data.Len() == 0 {
			return nil
		}
		if !gjson.Valid(data.String()) {
			return fmt.Errorf("invalid event payload %q", data.String())
		}
		return fn(gjson.Parse(data.String()))
	}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if errors.Is(err, errStreamDone) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil && !errors.Is(err, errStreamDone) {
		return err
	}
	return nil
}

// Turn is a stored transcript entry.
type Turn struct {
	Role      chat.Role
	Content   string
	CreatedAt string
}

// Conversation is a stored conversation summary.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt string
	Turns     []Turn
}

func parseConversation(v gjson.Result) Conversation {
	c := Conversation{ID: v.Get("id").String(), Title: v.Get("title").String(), CreatedAt: v.Get("createdAt").String()}
	for _, t := range v.Get("turns").Array() {
		c.Turns = append(c.Turns, Turn{
			Role:      chat.ParseRole(t.Get("role").String()),
			Content:   t.Get("content").String(),
			CreatedAt: t.Get("createdAt").String(),
		})
	}
	return c
}

// History implements session.HistoryLoader.
func (c *Client) History(ctx context.Context, conversationID string) (chat.Transcript, error) {
	data, err := c.Query(ctx, `query($id: ID!) { conversation(id: $id) { turns { role content } } }`, map[string]any{"id": conversationID})
	if err != nil {
		return nil, err
	}
	conv := data.Get("conversation")
	if conv.Type == gjson.Null || !conv.Exists() {
		return nil, fmt.Errorf("conversation %s not found", conversationID)
	}
	out := chat.Transcript{}
	for _, t := range parseConversation(conv).Turns {
		out = append(out, chat.Turn{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

// Conversations lists the caller's conversations.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	data, err := c.Query(ctx, `{ conversations { id title createdAt } }`, nil)
	if err != nil {
		return nil, err
	}
	var out []Conversation
	for _, v := range data.Get("conversations").Array() {
		out = append(out, parseConversation(v))
	}
	return out, nil
}

// CreateConversation starts a new conversation.
func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	data, err := c.Query(ctx, `mutation($title: String) { createConversation(title: $title) { id title createdAt } }`, map[string]any{"title": title})
	if err != nil {
		return Conversation{}, err
	}
	return parseConversation(data.Get("createConversation")), nil
}

// Viewer describes the authenticated caller.
type Viewer struct {
	UserID           string
	UserName         string
	Email            string
	Balance          int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Recent           []UsageEntry
}

// UsageEntry is one ledger record of the caller's recent usage.
type UsageEntry struct {
	Model            string
	Mode             string
	PromptTokens     int64
	CompletionTokens int64
	CreatedAt        string
}

const viewerQuery = `query Viewer($recent: Int) {
	viewer {
		userId userName email balance
		usage {
			promptTokens completionTokens totalTokens
			recent(limit: $recent) { model mode promptTokens completionTokens createdAt }
		}
	}
}`

// Viewer fetches the caller's identity, balance and usage with up to recent ledger entries.
func (c *Client) Viewer(ctx context.Context, recent int) (Viewer, error) {
	data, err := c.Query(ctx, viewerQuery, map[string]any{"recent": recent})
	if err != nil {
		return Viewer{}, err
	}
	v := data.Get("viewer")
	var entries []UsageEntry
	for _, e := range v.Get("usage.recent").Array() {
		entries = append(entries, UsageEntry{
			Model:            e.Get("model").String(),
			Mode:             e.Get("mode").String(),
			PromptTokens:     e.Get("promptTokens").Int(),
			CompletionTokens: e.Get("completionTokens").Int(),
			CreatedAt:        e.Get("createdAt").String(),
		})
	}
	return Viewer{
		Recent:           entries,
		UserID:           v.Get("userId").String(),
		UserName:         v.Get("userName").String(),
		Email:            v.Get("email").String(),
		Balance:          v.Get("balance").Int(),
		PromptTokens:     v.Get("usage.promptTokens").Int(),
		CompletionTokens: v.Get("usage.completionTokens").Int(),
		TotalTokens:      v.Get("usage.totalTokens").Int(),
	}, nil
}

// Model is one entry of the server's model catalog.
type Model struct {
	ID        string
	MaxTokens int
	Default   bool
}

// Models lists the server's model catalog.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	data, err := c.Query(ctx, `{ models { id maxTokens default } }`, nil)
	if err != nil {
		return nil, err
	}
	var out []Model
	for _, m := range data.Get("models").Array() {
		out = append(out, Model{ID: m.Get("id").String(), MaxTokens: int(m.Get("maxTokens").Int()), Default: m.Get("default").Bool()})
	}
	return out, nil
}
