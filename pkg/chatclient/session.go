package chatclient

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Transport is what the session needs from the reconnect layer: ensure the
// channel is open, push frames, and record the resume watermark.
type Transport interface {
	Connect(ctx context.Context) error
	Send(frame any) bool
	SetLastMessageID(id string)
}

// TranscriptReconciler refreshes the local view from durable storage.
type TranscriptReconciler interface {
	Reconcile(ctx context.Context, convID string) (*Conversation, error)
}

// ErrSessionActive rejects a submit while a previous turn is still in
// flight. Turns are never queued; the caller retries once the session is
// idle again.
var ErrSessionActive = errors.New("a message is already in flight for this conversation")

// ErrEmptyMessage rejects blank submissions before any network activity.
var ErrEmptyMessage = errors.New("message text is empty")

// ErrSendFailed reports that the outbound frame never left the client; the
// matching failure event has already been published.
var ErrSendFailed = errors.New("message could not be sent")

// genericBlockedNotice is shown when the server blocks a turn without
// supplying its own safe response.
const genericBlockedNotice = "This message can't be answered by the assistant. Please rephrase, or contact your care team directly."

// genericFailureNotice is shown when a failure event carries no message.
const genericFailureNotice = "streaming error"

// Session drives the per-conversation protocol state machine: it decides when
// a send is legal, aggregates streamed fragments into a draft reply, and
// requests a transcript reconciliation whenever a turn reaches a terminal
// outcome (finalized, blocked, or failed) or the server acknowledges that the
// user's own message was persisted.
//
// A session owns at most one in-flight turn. The first terminal event for a
// turn wins; later events carrying the same correlation id are dropped.
type Session struct {
	conversationID string
	transport      Transport
	bus            *Bus
	reconciler     TranscriptReconciler
	onTranscript   func(*Conversation)

	mu              sync.Mutex
	state           SessionState
	clientMessageID string
	streamMessageID string
	draft           strings.Builder
	outcome         Outcome

	disposeOnce sync.Once
	disposers   []func()
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithTranscriptFunc registers a callback invoked with every freshly
// reconciled view, typically a render hook.
func WithTranscriptFunc(fn func(*Conversation)) SessionOption {
	return func(s *Session) { s.onTranscript = fn }
}

// NewSession builds the orchestrator for one conversation and subscribes it
// to the bus. Subscriptions are installed here, before any send could produce
// a reply, which is why the bus needs no replay buffer.
func NewSession(conversationID string, transport Transport, bus *Bus, reconciler TranscriptReconciler, opts ...SessionOption) *Session {
	s := &Session{
		conversationID: conversationID,
		transport:      transport,
		bus:            bus,
		reconciler:     reconciler,
		state:          SessionIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.disposers = []func(){
		bus.SubscribeFragment(s.onFragment),
		bus.SubscribeCompletion(s.onCompletion),
		bus.SubscribeFailure(s.onFailure),
		bus.SubscribeControl(s.onControl),
	}
	return s
}

// ConversationID reports the conversation this session is scoped to.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// State reports the orchestrator state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentDraft returns the fragments accumulated so far for the in-flight
// reply.
func (s *Session) CurrentDraft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.String()
}

// LastOutcome reports how the most recent turn ended, with its user-visible
// notice for blocked and failed turns.
func (s *Session) LastOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Submit sends one user message. It rejects (never queues) while a turn is in
// flight, fails fast without any network call when no credential is
// available, and generates a fresh correlation id per call.
func (s *Session) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != SessionIdle {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.state = SessionSending
	s.clientMessageID = uuid.NewString()
	s.streamMessageID = ""
	s.draft.Reset()
	s.outcome = Outcome{}
	clientMessageID := s.clientMessageID
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		s.failIfActive("could not reach the assistant")
		return errors.Wrap(err, "submit")
	}

	if !s.transport.Send(NewMessageFrame(text, clientMessageID)) {
		// The channel already published the failure event; onFailure has
		// recorded the outcome.
		s.failIfActive("")
		return ErrSendFailed
	}

	log.Debug().Str("component", "chatclient").Str("conv_id", s.conversationID).Str("client_message_id", clientMessageID).Msg("message submitted")
	return nil
}

// Close disposes the session's bus subscriptions. Safe to call repeatedly.
func (s *Session) Close() {
	s.disposeOnce.Do(func() {
		for _, d := range s.disposers {
			d()
		}
	})
}

func (s *Session) onFragment(ev Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionSending:
		s.state = SessionStreaming
		s.streamMessageID = ev.MessageID
		s.draft.WriteString(ev.Text)
	case SessionStreaming:
		if ev.MessageID != s.streamMessageID {
			log.Debug().Str("component", "chatclient").Str("conv_id", s.conversationID).Str("message_id", ev.MessageID).Msg("fragment for unknown stream, dropping")
			return
		}
		// Arrival order is display order; the duplex stream already
		// guarantees in-order delivery.
		s.draft.WriteString(ev.Text)
	default:
		log.Debug().Str("component", "chatclient").Str("conv_id", s.conversationID).Str("message_id", ev.MessageID).Msg("fragment outside an active turn, dropping")
	}
}

func (s *Session) onCompletion(ev Completion) {
	s.mu.Lock()
	active := s.state == SessionSending || s.state == SessionStreaming
	matches := s.state == SessionSending || ev.MessageID == s.streamMessageID
	if !active || !matches {
		s.mu.Unlock()
		log.Debug().Str("component", "chatclient").Str("conv_id", s.conversationID).Str("message_id", ev.MessageID).Msg("completion outside an active turn, dropping")
		return
	}
	s.state = SessionFinalizing
	s.draft.Reset()
	s.mu.Unlock()

	s.transport.SetLastMessageID(ev.MessageID)
	s.reconcile()

	s.mu.Lock()
	s.outcome = Outcome{Kind: OutcomeFinalized}
	s.state = SessionIdle
	s.streamMessageID = ""
	s.mu.Unlock()
}

func (s *Session) onFailure(ev Failure) {
	s.mu.Lock()
	if s.state == SessionIdle {
		// Not our turn; channel-level failures outside a submission are for
		// the outer subscribers to display.
		s.mu.Unlock()
		return
	}
	notice := ev.Message
	if notice == "" {
		notice = genericFailureNotice
	}
	s.outcome = Outcome{Kind: OutcomeFailed, Notice: notice}
	s.state = SessionIdle
	s.streamMessageID = ""
	s.draft.Reset()
	s.mu.Unlock()

	// A failed send is never resubmitted automatically; resubmitting could
	// produce duplicate assistant replies. Reconnection happens below us.
	s.reconcile()
}

func (s *Session) onControl(ev Control) {
	switch ev.Kind {
	case ControlPersisted:
		// The just-sent user turn reached durable storage; refresh now so it
		// renders promptly instead of waiting out the assistant's reply.
		s.reconcile()
	case ControlBlocked:
		s.mu.Lock()
		if s.state == SessionIdle {
			s.mu.Unlock()
			log.Debug().Str("component", "chatclient").Str("conv_id", s.conversationID).Msg("blocked signal outside an active turn, dropping")
			return
		}
		notice := ev.SafeResponse
		if notice == "" {
			notice = genericBlockedNotice
		}
		s.outcome = Outcome{Kind: OutcomeBlocked, Notice: notice}
		s.state = SessionIdle
		s.streamMessageID = ""
		s.draft.Reset()
		s.mu.Unlock()
		s.reconcile()
	case ControlResumeAck:
		log.Debug().Str("component", "chatclient").Str("conv_id", s.conversationID).Msg("stream resumed")
	}
}

// failIfActive records a failed outcome unless a bus event already did.
func (s *Session) failIfActive(notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionIdle {
		return
	}
	if notice == "" {
		notice = genericFailureNotice
	}
	s.outcome = Outcome{Kind: OutcomeFailed, Notice: notice}
	s.state = SessionIdle
	s.streamMessageID = ""
	s.draft.Reset()
}

// reconcile issues a fresh durable read and pushes the merged view to the
// render hook. Failures are logged; the next trigger retries naturally.
func (s *Session) reconcile() {
	if s.reconciler == nil {
		return
	}
	conv, err := s.reconciler.Reconcile(context.Background(), s.conversationID)
	if err != nil {
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", s.conversationID).Msg("transcript reconciliation failed")
		return
	}
	if conv.LastKnownMessageID != "" {
		s.transport.SetLastMessageID(conv.LastKnownMessageID)
	}
	if s.onTranscript != nil {
		s.onTranscript(conv)
	}
}
