// Package chatclient implements the client side of the carechat streaming
// protocol: a duplex channel per conversation, a reconnect supervisor with
// bounded linear backoff, an in-process event bus, and a per-conversation
// session state machine that turns streamed reply fragments into a draft and
// reconciles it against the durable transcript once the turn settles.
package chatclient

// ConnectionState tracks the lifecycle of the physical duplex connection.
// It is owned exclusively by the Channel; only network callbacks and explicit
// close requests move it.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Open
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// SessionState is the per-conversation orchestrator state machine.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionSending
	SessionStreaming
	SessionFinalizing
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionSending:
		return "sending"
	case SessionStreaming:
		return "streaming"
	case SessionFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// OutcomeKind classifies how a submitted turn ended. Exactly one terminal
// outcome is reached per submitted message.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeFinalized
	OutcomeBlocked
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeFinalized:
		return "finalized"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the terminal result of one submitted message, with the
// user-visible notice for blocked and failed turns.
type Outcome struct {
	Kind   OutcomeKind
	Notice string
}

// Fragment is one incremental piece of an assistant reply. MessageID
// correlates all fragments of a single reply.
type Fragment struct {
	MessageID string
	Text      string
}

// Completion signals the end of a streamed reply and carries the full text
// the server assembled.
type Completion struct {
	MessageID string
	FullText  string
}

// FailureKind distinguishes failure sources so callers can pick a remedy.
type FailureKind int

const (
	// FailureTransport covers connect failures and abrupt closes.
	FailureTransport FailureKind = iota
	// FailureProtocol covers malformed frames and other local parse trouble.
	FailureProtocol
	// FailureAuth means no credential was available; reconnecting is pointless
	// until the caller re-authenticates.
	FailureAuth
	// FailureSend means a send was attempted while the channel was not open.
	FailureSend
	// FailureServer is an error frame reported by the server over the stream.
	FailureServer
	// FailureRetryExhausted is the terminal failure after the reconnect
	// ceiling; no further automatic attempts happen.
	FailureRetryExhausted
)

// Failure is delivered on the failure listener category.
type Failure struct {
	Kind    FailureKind
	Message string
}

// ControlKind tags out-of-band control events.
type ControlKind int

const (
	// ControlPersisted acknowledges that the just-sent user turn reached
	// durable storage.
	ControlPersisted ControlKind = iota
	// ControlBlocked signals a policy rejection of the turn.
	ControlBlocked
	// ControlResumeAck acknowledges a resume request after reconnect.
	ControlResumeAck
)

// Control is delivered on the control listener category.
type Control struct {
	Kind ControlKind
	// SafeResponse is the optional server-supplied text to show instead of a
	// blocked reply.
	SafeResponse string
}

// CredentialSource supplies a bearer credential at connection time. Token
// returns ok=false when no credential is available, in which case the caller
// must fail fast instead of dialing.
type CredentialSource interface {
	Token() (string, bool)
}
