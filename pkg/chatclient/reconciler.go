package chatclient

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

// Conversation is the local read-through view of one conversation. The
// durable copy is owned by the server; this view is replaced wholesale on
// every reconciliation trigger.
type Conversation struct {
	ID                 string
	Messages           []chatstore.Message
	LastKnownMessageID string
}

// MessageFetcher fetches the durable ordered message list for a conversation.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, convID string) ([]chatstore.Message, error)
}

// Reconciler replaces the local transcript view with a fresh durable read.
// There is no incremental diffing: conversations are small and a full refresh
// removes every merge hazard between the live draft and the persisted record.
type Reconciler struct {
	fetcher MessageFetcher
	store   chatstore.TranscriptStore
}

// NewReconciler builds a reconciler over the collaborator fetcher and the
// local cache.
func NewReconciler(fetcher MessageFetcher, store chatstore.TranscriptStore) *Reconciler {
	return &Reconciler{fetcher: fetcher, store: store}
}

// Reconcile fetches the durable transcript and replaces the cached view.
// Each call issues a fresh fetch; results are never memoized, so the view is
// always at least as fresh as the event that triggered the call.
func (r *Reconciler) Reconcile(ctx context.Context, convID string) (*Conversation, error) {
	msgs, err := r.fetcher.FetchMessages(ctx, convID)
	if err != nil {
		return nil, errors.Wrapf(err, "reconciling conversation %s", convID)
	}
	if r.store != nil {
		if err := r.store.Replace(ctx, convID, msgs); err != nil {
			// The fetched view is still authoritative; a cache write failure
			// only costs the next cold start.
			log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", convID).Msg("transcript cache write failed")
		}
	}
	return conversationFromMessages(convID, msgs), nil
}

// Cached returns the last persisted view without touching the network, for
// rendering while a fresh Reconcile is in flight.
func (r *Reconciler) Cached(ctx context.Context, convID string) (*Conversation, error) {
	if r.store == nil {
		return conversationFromMessages(convID, nil), nil
	}
	msgs, err := r.store.Load(ctx, convID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading cached transcript for %s", convID)
	}
	return conversationFromMessages(convID, msgs), nil
}

func conversationFromMessages(convID string, msgs []chatstore.Message) *Conversation {
	conv := &Conversation{ID: convID, Messages: msgs}
	if len(msgs) > 0 {
		conv.LastKnownMessageID = msgs[len(msgs)-1].ID
	}
	return conv
}
