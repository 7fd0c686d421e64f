package chatstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleMessages() []Message {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []Message{
		{ID: "u1", Role: RoleUser, Content: "hello", CreatedAt: now},
		{ID: "m1", Role: RoleAssistant, Content: "Hi there", CreatedAt: now.Add(time.Second)},
		{ID: "u2", Role: RoleUser, Content: "thanks", CreatedAt: now.Add(2 * time.Second)},
	}
}

func runTranscriptStoreTests(t *testing.T, store TranscriptStore) {
	ctx := context.Background()

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, loaded)

	require.NoError(t, store.Replace(ctx, "c1", sampleMessages()))
	loaded, err = store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, want := range sampleMessages() {
		require.Equal(t, want.ID, loaded[i].ID)
		require.Equal(t, want.Role, loaded[i].Role)
		require.Equal(t, want.Content, loaded[i].Content)
		require.True(t, want.CreatedAt.Equal(loaded[i].CreatedAt))
	}

	// Replace is wholesale: shrinking the transcript drops the old tail.
	require.NoError(t, store.Replace(ctx, "c1", sampleMessages()[:1]))
	loaded, err = store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "u1", loaded[0].ID)

	// Conversations are isolated.
	require.NoError(t, store.Replace(ctx, "c2", sampleMessages()[2:]))
	loaded, err = store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer func() { _ = store.Close() }()
	runTranscriptStoreTests(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	runTranscriptStoreTests(t, store)
}

func TestSQLiteStoreRejectsEmptyDSN(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	require.Error(t, err)
}

func TestMemoryStoreCopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	msgs := sampleMessages()
	require.NoError(t, store.Replace(ctx, "c1", msgs))
	msgs[0].Content = "mutated"

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "hello", loaded[0].Content)
}
