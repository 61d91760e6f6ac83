package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/chat"
)

func TestLoadEmptyKeyBypassesFetch(t *testing.T) {
	l := New()
	var calls int32
	v, err := l.Load(context.Background(), "", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "x", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "", v)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestLoadConcurrentIdenticalKeysFetchOnce(t *testing.T) {
	l := New()
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "answer", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := l.Load(context.Background(), "hello", fetch)
		assert.NoError(t, err)
		results[0] = v
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := l.Load(context.Background(), "hello", fetch)
		assert.NoError(t, err)
		results[1] = v
	}()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"answer", "answer"}, results)

	v, err := l.Load(context.Background(), "hello", fetch)
	require.NoError(t, err)
	assert.Equal(t, "answer", v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoadFailureNotMemoized(t *testing.T) {
	l := New()
	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}
	_, err := l.Load(context.Background(), "k", fetch)
	require.Error(t, err)
	v, err := l.Load(context.Background(), "k", fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLoadersAreIndependent(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	_, _ = New().Load(context.Background(), "k", fetch)
	_, _ = New().Load(context.Background(), "k", fetch)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func drain(t *testing.T, ch <-chan chat.StreamEvent) []chat.StreamEvent {
	t.Helper()
	var out []chat.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("stream did not finish, got %d events", len(out))
		}
	}
}

func TestLoadStreamEmptyKeyCompletes(t *testing.T) {
	l := New()
	var calls int32
	ch, err := l.LoadStream(context.Background(), "", func(ctx context.Context) (<-chan chat.StreamEvent, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, chat.EventCompleted, events[0].Kind)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestLoadStreamSharedBetweenSubscribers(t *testing.T) {
	l := New()
	var calls int32
	upstream := make(chan chat.StreamEvent)
	open := func(ctx context.Context) (<-chan chat.StreamEvent, error) {
		atomic.AddInt32(&calls, 1)
		return upstream, nil
	}
	ctx := context.Background()

	first, err := l.LoadStream(ctx, "hi_stream", open)
	require.NoError(t, err)

	go func() {
		upstream <- chat.Token("Hel")
		upstream <- chat.Token("lo")
		upstream <- chat.Completed(nil)
		close(upstream)
	}()

	a := drain(t, first)
	// a late subscriber replays from the start
	second, err := l.LoadStream(ctx, "hi_stream", open)
	require.NoError(t, err)
	b := drain(t, second)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Len(t, a, 3)
	assert.Equal(t, a, b)
	assert.Equal(t, "Hel", a[0].Token)
	assert.Equal(t, chat.EventCompleted, a[2].Kind)
}

func TestLoadStreamOpenErrorPropagates(t *testing.T) {
	l := New()
	_, err := l.LoadStream(context.Background(), "k_stream", func(ctx context.Context) (<-chan chat.StreamEvent, error) {
		return nil, errors.New("dial failed")
	})
	require.EqualError(t, err, "dial failed")
}

func TestLoadStreamSubscriberStopsOnCancel(t *testing.T) {
	l := New()
	upstream := make(chan chat.StreamEvent)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.LoadStream(ctx, "k_stream", func(context.Context) (<-chan chat.StreamEvent, error) {
		return upstream, nil
	})
	require.NoError(t, err)
	cancel()
	drain(t, ch)
}

func TestFromContext(t *testing.T) {
	l := New()
	ctx := NewContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
