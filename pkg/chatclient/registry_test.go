package chatclient

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

func newTestRegistry(fetcher MessageFetcher) *Registry {
	return NewRegistry("ws://example", &fakeCreds{token: "tok", ok: true}, fetcher, chatstore.NewMemoryStore(),
		WithChannelOptions(
			WithPingInterval(0),
			WithDialFunc(func(context.Context, string) (Conn, error) {
				return nil, errors.New("no network in tests")
			}),
		))
}

func TestRegistryOneHandlePerConversation(t *testing.T) {
	r := newTestRegistry(&scriptedFetcher{})

	h1 := r.Get("c1")
	require.Same(t, h1, r.Get("c1"))
	require.NotSame(t, h1, r.Get("c2"))

	// Each conversation gets its own bus, so events never cross over.
	require.NotSame(t, h1.Bus, r.Get("c2").Bus)
}

func TestRegistrySwitchReconciles(t *testing.T) {
	fetcher := &scriptedFetcher{msgs: testMessages()}
	r := newTestRegistry(fetcher)

	conv, err := r.Switch(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", r.Active())
	require.Len(t, conv.Messages, 2)
	require.Equal(t, 1, fetcher.callCount())

	// Revisiting runs a fresh reconciliation; the stale draft of an
	// abandoned visit never survives it.
	_, err = r.Switch(context.Background(), "c2")
	require.NoError(t, err)
	_, err = r.Switch(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, 3, fetcher.callCount())
}

func TestRegistryReleaseDisposesConversation(t *testing.T) {
	r := newTestRegistry(&scriptedFetcher{})

	h := r.Get("c1")
	require.Positive(t, h.Bus.SubscriberCount())

	r.Release("c1")
	require.Equal(t, 0, h.Bus.SubscriberCount())
	require.Equal(t, "", r.Active())

	// A later Get builds a fresh handle.
	require.NotSame(t, h, r.Get("c1"))
}
