package chatclient

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseInboundKnownFrames(t *testing.T) {
	f, err := parseInbound([]byte(`{"type":"chunk","messageId":"m1","text":"Hi"}`))
	require.NoError(t, err)
	require.Equal(t, "m1", f.MessageID)
	require.Equal(t, "Hi", f.Text)

	f, err = parseInbound([]byte(`{"type":"done","messageId":"m1","fullText":"Hi there"}`))
	require.NoError(t, err)
	require.Equal(t, "Hi there", f.FullText)

	f, err = parseInbound([]byte(`{"type":"blocked","safe_response":"Please ask your care team."}`))
	require.NoError(t, err)
	require.Equal(t, "Please ask your care team.", f.SafeResponse)

	_, err = parseInbound([]byte(`{"type":"user_message_saved"}`))
	require.NoError(t, err)
}

func TestParseInboundUnknownType(t *testing.T) {
	_, err := parseInbound([]byte(`{"type":"telemetry","payload":42}`))
	require.True(t, errors.Is(err, ErrUnknownFrameType))
}

func TestParseInboundMalformed(t *testing.T) {
	_, err := parseInbound([]byte(`{"type":`))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnknownFrameType))
}

func TestMessageFrameEncoding(t *testing.T) {
	data, err := json.Marshal(NewMessageFrame("hello", "cm-1"))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"message","text":"hello","client_message_id":"cm-1"}`, string(data))
}

func TestResumeFrameOmitsEmptyWatermark(t *testing.T) {
	data, err := json.Marshal(NewResumeFrame("c1", ""))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"resume","conversationId":"c1"}`, string(data))
}
