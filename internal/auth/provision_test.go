package auth

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/hooks"
	"github.com/tokligence/chatrelay/internal/userstore"
	"github.com/tokligence/chatrelay/internal/userstore/sqlite"
)

// countingStore records how often EnsureUser reaches the database.
type countingStore struct {
	userstore.Store
	mu      sync.Mutex
	ensures int
}

func (c *countingStore) EnsureUser(ctx context.Context, u userstore.User, balance int64) (*userstore.User, bool, error) {
	c.mu.Lock()
	c.ensures++
	c.mu.Unlock()
	return c.Store.EnsureUser(ctx, u, balance)
}

func newCountingStore(t *testing.T) *countingStore {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &countingStore{Store: s}
}

func TestProvisionCreatesUserWithDefaultBalance(t *testing.T) {
	store := newCountingStore(t)
	p := NewProvisioner(store, 0, nil)

	v, err := p.Provision(context.Background(), Identity{UserID: "user_1", UserName: "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), v.Balance)
	assert.Equal(t, "ada", v.UserName)

	u, err := store.GetUser(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)
}

func TestProvisionAtMostOncePerProcess(t *testing.T) {
	store := newCountingStore(t)
	p := NewProvisioner(store, 100, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Provision(context.Background(), Identity{UserID: "user_2"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := p.Provision(context.Background(), Identity{UserID: "user_2"})
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.LessOrEqual(t, store.ensures, 16)
	assert.GreaterOrEqual(t, store.ensures, 1)

	convs, err := store.ListConversations(context.Background(), "user_2")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestProvisionSkipsAfterFirstSight(t *testing.T) {
	store := newCountingStore(t)
	p := NewProvisioner(store, 100, nil)
	for i := 0; i < 3; i++ {
		_, err := p.Provision(context.Background(), Identity{UserID: "user_3"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.ensures)
}

func TestProvisionIdempotentAcrossProcesses(t *testing.T) {
	store := newCountingStore(t)
	ctx := context.Background()
	_, err := NewProvisioner(store, 100, nil).Provision(ctx, Identity{UserID: "user_4"})
	require.NoError(t, err)
	_, err = store.AppendTurns(ctx, "user_4", "missing", []chat.Turn{{Role: chat.RoleUser, Content: "x"}})
	require.ErrorIs(t, err, userstore.ErrNotFound)

	// a second process starts with an empty in-memory set and a different default
	v, err := NewProvisioner(store, 5, nil).Provision(ctx, Identity{UserID: "user_4"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), v.Balance)
}

func TestProvisionEmitsHookOnlyOnCreate(t *testing.T) {
	store := newCountingStore(t)
	d := &hooks.Dispatcher{}
	var events []hooks.Event
	d.Register(func(_ context.Context, evt hooks.Event) error {
		events = append(events, evt)
		return nil
	})
	p := NewProvisioner(store, 50, nil)
	p.SetHooks(d)

	id := Identity{UserID: "u-hook", Email: "hook@example.com"}
	_, err := p.Provision(context.Background(), id)
	require.NoError(t, err)
	_, err = NewProvisioner(store, 50, nil).Provision(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, hooks.EventUserProvisioned, events[0].Type)
	assert.Equal(t, "u-hook", events[0].UserID)
	assert.Equal(t, "hook@example.com", events[0].Metadata["email"])
}

func TestProvisionAnonymous(t *testing.T) {
	store := newCountingStore(t)
	v, err := NewProvisioner(store, 100, nil).Provision(context.Background(), Identity{})
	require.NoError(t, err)
	assert.True(t, v.Anonymous())
	assert.Equal(t, AnonymousID, v.Subject())
	assert.Equal(t, 0, store.ensures)
}

func TestViewerContext(t *testing.T) {
	ctx := WithViewer(context.Background(), Viewer{Identity: Identity{UserID: "u"}, Balance: 7})
	assert.Equal(t, int64(7), ViewerFrom(ctx).Balance)
	assert.True(t, ViewerFrom(context.Background()).Anonymous())
}
