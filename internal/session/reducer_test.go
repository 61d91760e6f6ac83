package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/chat"
)

func TestSubmitAppendsAndRaisesFlags(t *testing.T) {
	scrolls := 0
	r := NewReducer(chat.Transcript{{Role: chat.RoleUser, Content: "hi"}}, func() { scrolls++ })

	out := r.Submit("there")
	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleUser, Content: "there"},
	}, out)
	assert.True(t, r.IsFetching())
	assert.True(t, r.WaitingForResponse())
	assert.Equal(t, 1, scrolls)

	r.Apply("ok")
	assert.False(t, r.WaitingForResponse())
	assert.True(t, r.IsFetching())
}

func TestSubmitSendsLastFiveTurns(t *testing.T) {
	var history chat.Transcript
	for i := 0; i < 7; i++ {
		history = append(history, chat.Turn{Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	r := NewReducer(history, nil)
	out := r.Submit("new")
	require.Len(t, out, chat.MaxHistoryTurns)
	assert.Equal(t, "m3", out[0].Content)
	assert.Equal(t, "new", out[4].Content)
	assert.Len(t, r.Transcript(), 8)
}

func TestFragmentsAssembleOneAssistantTurn(t *testing.T) {
	r := NewReducer(nil, nil)
	r.Submit("hi")
	for _, frag := range []string{"Hel", "lo", chat.StreamSentinel} {
		r.Apply(frag)
	}
	tr := r.Transcript()
	require.Len(t, tr, 2)
	assert.Equal(t, chat.Turn{Role: chat.RoleAssistant, Content: "Hello"}, tr[1])
	assert.False(t, r.IsFetching())
	assert.False(t, r.WaitingForResponse())
	assert.Equal(t, "Hello", r.LastAssistant())
}

func TestSentinelOnlyStreamRendersNothing(t *testing.T) {
	r := NewReducer(nil, nil)
	r.Submit("hi")
	r.Apply("prefix" + chat.StreamSentinel)
	assert.Len(t, r.Transcript(), 1)
	assert.False(t, r.IsFetching())
}

func TestNewAssistantTurnPerResponse(t *testing.T) {
	r := NewReducer(nil, nil)
	r.Submit("one")
	r.Apply("first")
	r.Apply(chat.StreamSentinel)
	r.Submit("two")
	r.Apply("second")
	r.Apply(chat.StreamSentinel)

	tr := r.Transcript()
	require.Len(t, tr, 4)
	assert.Equal(t, "first", tr[1].Content)
	assert.Equal(t, "second", tr[3].Content)
}

func TestFailClearsFlags(t *testing.T) {
	r := NewReducer(nil, nil)
	r.Submit("hi")
	boom := errors.New("connection reset")
	r.Fail(boom)
	assert.False(t, r.IsFetching())
	assert.False(t, r.WaitingForResponse())
	assert.ErrorIs(t, r.LastError(), boom)
}

func TestResetReplacesTranscript(t *testing.T) {
	r := NewReducer(nil, nil)
	r.Submit("hi")
	r.Reset(chat.Transcript{{Role: chat.RoleAssistant, Content: "stored"}})
	assert.False(t, r.IsFetching())
	assert.Equal(t, "stored", r.LastAssistant())
}

type fakeStreamer struct {
	fragments []string
	err       error
	got       Request
}

func (f *fakeStreamer) Stream(_ context.Context, req Request, onFragment func(string)) error {
	f.got = req
	for _, frag := range f.fragments {
		onFragment(frag)
	}
	return f.err
}

func TestSessionSend(t *testing.T) {
	s := New("conv-1", nil)
	s.Model = "llama"
	streamer := &fakeStreamer{fragments: []string{"Hel", "lo", chat.StreamSentinel}}
	require.NoError(t, s.Send(context.Background(), streamer, " hi "))

	assert.Equal(t, "conv-1", streamer.got.ConversationID)
	assert.Equal(t, "llama", streamer.got.Model)
	assert.Equal(t, chat.Transcript{{Role: chat.RoleUser, Content: "hi"}}, streamer.got.Messages)
	assert.Equal(t, "Hello", s.Reducer().LastAssistant())
	assert.False(t, s.Reducer().IsFetching())
}

func TestSessionSendFailureClearsFlags(t *testing.T) {
	s := New("", nil)
	boom := errors.New("upstream 500")
	err := s.Send(context.Background(), &fakeStreamer{fragments: []string{"par"}, err: boom}, "hi")
	assert.ErrorIs(t, err, boom)
	assert.False(t, s.Reducer().IsFetching())

	err = s.Send(context.Background(), &fakeStreamer{fragments: []string{"no sentinel"}}, "again")
	assert.Error(t, err)
	assert.False(t, s.Reducer().IsFetching())

	assert.Error(t, s.Send(context.Background(), &fakeStreamer{}, "   "))
}

type fakeHistory map[string]chat.Transcript

func (f fakeHistory) History(_ context.Context, id string) (chat.Transcript, error) {
	h, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return h, nil
}

func TestSessionSwitch(t *testing.T) {
	s := New("a", nil)
	s.Reducer().Submit("pending")
	loader := fakeHistory{"b": {{Role: chat.RoleUser, Content: "old"}}}

	require.NoError(t, s.Switch(context.Background(), loader, "b"))
	assert.Equal(t, "b", s.ConversationID)
	assert.False(t, s.Reducer().IsFetching())
	assert.Equal(t, chat.Transcript{{Role: chat.RoleUser, Content: "old"}}, s.Reducer().Transcript())

	assert.Error(t, s.Switch(context.Background(), loader, "missing"))
	assert.Equal(t, "b", s.ConversationID)
}
