package chatclient

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Frame type discriminators used on the duplex stream. Outbound and inbound
// frames share a single tagged-union encoding keyed on "type".
const (
	frameTypeMessage   = "message"
	frameTypePing      = "ping"
	frameTypeResume    = "resume"
	frameTypeChunk     = "chunk"
	frameTypeDone      = "done"
	frameTypeError     = "error"
	frameTypeSaved     = "user_message_saved"
	frameTypeBlocked   = "blocked"
	frameTypePong      = "pong"
	frameTypeResumeAck = "resume_ack"
)

// ErrUnknownFrameType is returned by parseInbound for frame types this client
// does not understand. Callers log and drop such frames so newer servers can
// add frame types without breaking older clients.
var ErrUnknownFrameType = errors.New("unknown frame type")

// MessageFrame carries a user message to the server. ClientMessageID is a
// fresh uuid per send and is the correlation token for server-side dedup.
type MessageFrame struct {
	Type            string `json:"type"`
	Text            string `json:"text"`
	ClientMessageID string `json:"client_message_id"`
}

// PingFrame keeps an otherwise quiet channel alive.
type PingFrame struct {
	Type string `json:"type"`
}

// ResumeFrame is sent after a reconnect so the server can replay a cached
// in-flight stream for this conversation.
type ResumeFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	LastMessageID  string `json:"lastMessageId,omitempty"`
}

// NewMessageFrame builds an outbound message frame.
func NewMessageFrame(text, clientMessageID string) MessageFrame {
	return MessageFrame{Type: frameTypeMessage, Text: text, ClientMessageID: clientMessageID}
}

// NewPingFrame builds an outbound keepalive frame.
func NewPingFrame() PingFrame {
	return PingFrame{Type: frameTypePing}
}

// NewResumeFrame builds an outbound resume request.
func NewResumeFrame(conversationID, lastMessageID string) ResumeFrame {
	return ResumeFrame{Type: frameTypeResume, ConversationID: conversationID, LastMessageID: lastMessageID}
}

// inboundFrame is the raw superset of every server frame. Individual event
// types are projected out of it after the "type" switch.
type inboundFrame struct {
	Type         string `json:"type"`
	MessageID    string `json:"messageId"`
	Text         string `json:"text"`
	FullText     string `json:"fullText"`
	Message      string `json:"message"`
	SafeResponse string `json:"safe_response"`
}

func parseInbound(data []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return inboundFrame{}, errors.Wrap(err, "malformed frame")
	}
	switch f.Type {
	case frameTypeChunk, frameTypeDone, frameTypeError, frameTypeSaved, frameTypeBlocked, frameTypePong, frameTypeResumeAck:
		return f, nil
	default:
		return f, errors.Wrapf(ErrUnknownFrameType, "%q", f.Type)
	}
}
