package chatclient

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

// ConversationHandle bundles the per-conversation pieces: one bus, one
// supervised channel, one session, one reconciler. Nothing here is shared
// across conversations, so events for one conversation never stall another.
type ConversationHandle struct {
	Bus        *Bus
	Supervisor *Supervisor
	Session    *Session
	Reconciler *Reconciler
}

// Registry holds the active conversations keyed by id. It replaces the old
// module-level connection global: every channel is an explicitly owned
// resource created here and released here.
//
// Switching conversations is a soft cancellation: the abandoned session keeps
// consuming its stream unobserved, and its draft is discarded by the
// reconciliation that runs when the conversation is revisited. Channels are
// closed only when a conversation is released and nothing subscribes to its
// bus anymore.
type Registry struct {
	endpoint string
	creds    CredentialSource
	fetcher  MessageFetcher
	store    chatstore.TranscriptStore

	supOpts  []SupervisorOption
	chOpts   []ChannelOption
	sessOpts []SessionOption

	mu     sync.Mutex
	active string
	convs  map[string]*ConversationHandle
}

// RegistryOption customizes every conversation the registry creates.
type RegistryOption func(*Registry)

// WithSupervisorOptions forwards options to each conversation's supervisor.
func WithSupervisorOptions(opts ...SupervisorOption) RegistryOption {
	return func(r *Registry) { r.supOpts = append(r.supOpts, opts...) }
}

// WithChannelOptions forwards options to each conversation's channel.
func WithChannelOptions(opts ...ChannelOption) RegistryOption {
	return func(r *Registry) { r.chOpts = append(r.chOpts, opts...) }
}

// WithSessionOptions forwards options to each conversation's session.
func WithSessionOptions(opts ...SessionOption) RegistryOption {
	return func(r *Registry) { r.sessOpts = append(r.sessOpts, opts...) }
}

// NewRegistry builds an empty registry. endpoint is the websocket base URL.
func NewRegistry(endpoint string, creds CredentialSource, fetcher MessageFetcher, store chatstore.TranscriptStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		endpoint: endpoint,
		creds:    creds,
		fetcher:  fetcher,
		store:    store,
		convs:    map[string]*ConversationHandle{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the handle for convID, creating it on first use.
func (r *Registry) Get(convID string) *ConversationHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(convID)
}

func (r *Registry) getLocked(convID string) *ConversationHandle {
	if h, ok := r.convs[convID]; ok {
		return h
	}
	bus := NewBus()
	sup := NewSupervisor(r.endpoint, convID, bus, r.creds, r.supOpts, r.chOpts...)
	rec := NewReconciler(r.fetcher, r.store)
	sess := NewSession(convID, sup, bus, rec, r.sessOpts...)
	h := &ConversationHandle{Bus: bus, Supervisor: sup, Session: sess, Reconciler: rec}
	r.convs[convID] = h
	log.Debug().Str("component", "chatclient").Str("conv_id", convID).Msg("conversation registered")
	return h
}

// Active reports the currently observed conversation.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Switch makes convID the observed conversation and reconciles it so any
// stale draft from an earlier visit is replaced by the durable view. The
// previously active conversation is left running unobserved.
func (r *Registry) Switch(ctx context.Context, convID string) (*Conversation, error) {
	r.mu.Lock()
	r.active = convID
	h := r.getLocked(convID)
	r.mu.Unlock()

	return h.Reconciler.Reconcile(ctx, convID)
}

// Release disposes the session for convID and closes its channel once no
// subscribers remain on the bus.
func (r *Registry) Release(convID string) {
	r.mu.Lock()
	h, ok := r.convs[convID]
	if ok {
		delete(r.convs, convID)
	}
	if r.active == convID {
		r.active = ""
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	h.Session.Close()
	if !h.Supervisor.ReleaseIfUnobserved() {
		// Outside subscribers still observe this conversation; keep the
		// channel up but force-close is their call now.
		log.Debug().Str("component", "chatclient").Str("conv_id", convID).Msg("conversation released with live subscribers")
	}
}

// CloseAll releases every conversation, for client shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.convs))
	for id := range r.convs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Release(id)
	}
}
