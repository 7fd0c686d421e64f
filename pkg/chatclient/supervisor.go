package chatclient

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Close codes the server uses during the websocket handshake phase. Neither
// is retryable: the credential or the conversation grant is wrong, and
// redialing with the same inputs would loop forever.
const (
	CloseAuthFailed   = 4001
	CloseAccessDenied = 4003
)

// SupervisorState is the reconnect layer's own state machine.
type SupervisorState int

const (
	SupervisorIdle SupervisorState = iota
	SupervisorConnected
	SupervisorReconnecting
)

func (s SupervisorState) String() string {
	switch s {
	case SupervisorIdle:
		return "idle"
	case SupervisorConnected:
		return "connected"
	case SupervisorReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// ErrAuthRequired is returned when no credential is available; callers should
// route the user to re-authentication instead of retrying.
var ErrAuthRequired = errors.New("authentication required")

// ScheduleFunc runs fn after d. The default wraps time.AfterFunc; tests
// substitute a fake clock.
type ScheduleFunc func(d time.Duration, fn func())

// Supervisor wraps a Channel with bounded reconnection. Unexpected closures
// trigger up to policy.MaxAttempts reopens with linear backoff; a
// client-requested close or a handshake rejection stops the cycle. Listener
// registrations live on the bus, not the connection, so they survive every
// reconnect. After a successful reopen the supervisor sends a resume frame so
// the server can replay a cached in-flight stream.
type Supervisor struct {
	ch       *Channel
	bus      *Bus
	creds    CredentialSource
	policy   RetryPolicy
	schedule ScheduleFunc

	mu            sync.Mutex
	state         SupervisorState
	attempt       int
	lastMessageID string
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithRetryPolicy overrides the default linear policy.
func WithRetryPolicy(p RetryPolicy) SupervisorOption {
	return func(s *Supervisor) { s.policy = p }
}

// WithScheduleFunc overrides the reconnect timer, for fake-clock tests.
func WithScheduleFunc(fn ScheduleFunc) SupervisorOption {
	return func(s *Supervisor) { s.schedule = fn }
}

// NewSupervisor builds a supervisor and the channel it owns. chOpts are
// forwarded to the channel; the supervisor installs its own closure callback.
func NewSupervisor(endpoint, conversationID string, bus *Bus, creds CredentialSource, opts []SupervisorOption, chOpts ...ChannelOption) *Supervisor {
	s := &Supervisor{
		bus:      bus,
		creds:    creds,
		policy:   DefaultRetryPolicy(),
		schedule: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	for _, opt := range opts {
		opt(s)
	}
	chOpts = append(chOpts, WithClosedFunc(s.handleClosed))
	s.ch = NewChannel(endpoint, conversationID, bus, chOpts...)
	return s
}

// Channel exposes the supervised channel for sends and state inspection.
func (s *Supervisor) Channel() *Channel {
	return s.ch
}

// Send forwards an outbound frame to the supervised channel.
func (s *Supervisor) Send(frame any) bool {
	return s.ch.Send(frame)
}

// State reports the supervisor state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt reports the current consecutive-failure attempt counter.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// SetLastMessageID records the newest durable message id, included in resume
// requests after a reconnect.
func (s *Supervisor) SetLastMessageID(id string) {
	s.mu.Lock()
	s.lastMessageID = id
	s.mu.Unlock()
}

// Connect opens the channel with a fresh credential. Without a credential it
// fails fast, before any network activity.
func (s *Supervisor) Connect(ctx context.Context) error {
	token, ok := s.creds.Token()
	if !ok {
		s.bus.PublishFailure(Failure{Kind: FailureAuth, Message: "authentication required"})
		return ErrAuthRequired
	}
	if err := s.ch.Open(ctx, token); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = SupervisorConnected
	s.attempt = 0
	s.mu.Unlock()
	return nil
}

// Close shuts the channel down on behalf of the client. No reconnection
// follows and the attempt counter resets.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.state = SupervisorIdle
	s.attempt = 0
	s.mu.Unlock()
	s.ch.Close(websocket.CloseNormalClosure, "client closed")
}

// ReleaseIfUnobserved closes the channel when nothing subscribes to this
// conversation's events anymore. The registry calls this when a conversation
// is evicted.
func (s *Supervisor) ReleaseIfUnobserved() bool {
	if s.bus.SubscriberCount() > 0 {
		return false
	}
	s.Close()
	return true
}

func (s *Supervisor) handleClosed(code int, clientRequested bool) {
	if clientRequested || code == websocket.CloseNormalClosure {
		s.mu.Lock()
		s.state = SupervisorIdle
		s.attempt = 0
		s.mu.Unlock()
		return
	}

	if code == CloseAuthFailed || code == CloseAccessDenied {
		s.mu.Lock()
		s.state = SupervisorIdle
		s.attempt = 0
		s.mu.Unlock()
		msg := "authentication required"
		if code == CloseAccessDenied {
			msg = "access to this conversation was denied"
		}
		s.bus.PublishFailure(Failure{Kind: FailureAuth, Message: msg})
		return
	}

	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	if attempt > s.policy.MaxAttempts {
		s.state = SupervisorIdle
		s.attempt = 0
		s.mu.Unlock()
		log.Warn().Int("max_attempts", s.policy.MaxAttempts).Str("component", "chatclient").Str("conv_id", s.ch.ConversationID()).Msg("reconnect attempts exhausted")
		s.bus.PublishFailure(Failure{Kind: FailureRetryExhausted, Message: "connection lost and could not be re-established"})
		return
	}
	s.state = SupervisorReconnecting
	s.mu.Unlock()

	delay := s.policy.Delay(attempt)
	log.Info().Int("attempt", attempt).Dur("delay", delay).Str("component", "chatclient").Str("conv_id", s.ch.ConversationID()).Msg("scheduling reconnect")
	s.schedule(delay, s.reopen)
}

func (s *Supervisor) reopen() {
	s.mu.Lock()
	if s.state != SupervisorReconnecting {
		s.mu.Unlock()
		return
	}
	lastMessageID := s.lastMessageID
	s.mu.Unlock()

	token, ok := s.creds.Token()
	if !ok {
		s.mu.Lock()
		s.state = SupervisorIdle
		s.attempt = 0
		s.mu.Unlock()
		s.bus.PublishFailure(Failure{Kind: FailureAuth, Message: "authentication required"})
		return
	}

	if err := s.ch.Open(context.Background(), token); err != nil {
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", s.ch.ConversationID()).Msg("reconnect failed")
		s.handleClosed(websocket.CloseAbnormalClosure, false)
		return
	}

	s.mu.Lock()
	s.state = SupervisorConnected
	s.attempt = 0
	s.mu.Unlock()

	s.ch.Send(NewResumeFrame(s.ch.ConversationID(), lastMessageID))
	log.Info().Str("component", "chatclient").Str("conv_id", s.ch.ConversationID()).Msg("channel re-established")
}
