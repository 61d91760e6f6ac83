package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/tokligence/chatrelay/internal/adapter/loopback"
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/graphql"
	"github.com/tokligence/chatrelay/internal/session"
	"github.com/tokligence/chatrelay/internal/upstream"
)

func newRelay(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(graphql.NewHandler(&graphql.Resolver{
		Upstream: upstream.New(loopback.New()),
		Defaults: chat.Defaults{Model: "loopback", MaxTokens: 64},
	}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, nil)
	require.NoError(t, err)
	return c
}

func TestSessionSendStreamsThroughRelay(t *testing.T) {
	c := newRelay(t)
	s := session.New("", nil)
	require.NoError(t, s.Send(context.Background(), c, "hello there"))

	r := s.Reducer()
	assert.False(t, r.IsFetching())
	assert.False(t, r.WaitingForResponse())
	transcript := r.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, chat.RoleAssistant, transcript[1].Role)
	assert.Equal(t, loopback.Prefix+"hello there", transcript[1].Content)
}

func TestAskAndPing(t *testing.T) {
	c := newRelay(t)
	text, err := c.Ask(context.Background(), session.Request{Messages: chat.Transcript{{Role: chat.RoleUser, Content: "ping"}}})
	require.NoError(t, err)
	assert.Equal(t, loopback.Prefix+"ping", text)

	data, err := c.Query(context.Background(), `{ ping }`, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", data.Get("ping").String())
}

func TestQueryReportsGraphQLErrors(t *testing.T) {
	c := newRelay(t)
	_, err := c.CreateConversation(context.Background(), "x")
	require.Error(t, err)
	var gqlErrs GraphQLErrors
	require.ErrorAs(t, err, &gqlErrs)
	assert.Equal(t, "createConversation", gqlErrs[0].Path[0])
}

func TestReadEventsHandlesMultilineAndComplete(t *testing.T) {
	body := ":\n\nevent: next\ndata: {\"data\":\ndata: [\"a\"],\"path\":[\"chat\",\"GroqStream\",0]}\n\nevent: complete\n\nevent: next\ndata: {\"data\":[\"ignored\"]}\n\n"
	var got []string
	err := readEvents(strings.NewReader(body), func(p gjson.Result) error {
		got = append(got, p.Get("data.0").String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}
