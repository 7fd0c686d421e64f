package chatclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	msgs  []chatstore.Message
	err   error
}

func (f *scriptedFetcher) FetchMessages(context.Context, string) ([]chatstore.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]chatstore.Message{}, f.msgs...), nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testMessages() []chatstore.Message {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []chatstore.Message{
		{ID: "u1", Role: chatstore.RoleUser, Content: "hello", CreatedAt: now},
		{ID: "m1", Role: chatstore.RoleAssistant, Content: "Hi there", CreatedAt: now.Add(2 * time.Second)},
	}
}

func TestReconcilerReplacesViewWholesale(t *testing.T) {
	ctx := context.Background()
	store := chatstore.NewMemoryStore()
	require.NoError(t, store.Replace(ctx, "c1", []chatstore.Message{
		{ID: "stale", Role: chatstore.RoleAssistant, Content: "old draft remnant"},
	}))

	fetcher := &scriptedFetcher{msgs: testMessages()}
	rec := NewReconciler(fetcher, store)

	conv, err := rec.Reconcile(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", conv.ID)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "m1", conv.LastKnownMessageID)

	cached, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, conv.Messages, cached)
}

func TestReconcilerNeverMemoizes(t *testing.T) {
	fetcher := &scriptedFetcher{msgs: testMessages()}
	rec := NewReconciler(fetcher, chatstore.NewMemoryStore())

	for i := 1; i <= 3; i++ {
		_, err := rec.Reconcile(context.Background(), "c1")
		require.NoError(t, err)
		require.Equal(t, i, fetcher.callCount())
	}
}

func TestReconcilerCachedSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	store := chatstore.NewMemoryStore()
	require.NoError(t, store.Replace(ctx, "c1", testMessages()))

	fetcher := &scriptedFetcher{}
	rec := NewReconciler(fetcher, store)

	conv, err := rec.Cached(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	require.Zero(t, fetcher.callCount())
}

func TestReconcilerFetchErrorLeavesCacheIntact(t *testing.T) {
	ctx := context.Background()
	store := chatstore.NewMemoryStore()
	require.NoError(t, store.Replace(ctx, "c1", testMessages()))

	fetcher := &scriptedFetcher{err: errors.New("api down")}
	rec := NewReconciler(fetcher, store)

	_, err := rec.Reconcile(ctx, "c1")
	require.Error(t, err)

	cached, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, cached, 2)
}
