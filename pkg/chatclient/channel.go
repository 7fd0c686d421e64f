package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Conn is the subset of *websocket.Conn the channel needs. Tests substitute
// scripted implementations.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc establishes a websocket connection to url. The default uses
// gorilla's dialer with a handshake timeout.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// DefaultDial dials with gorilla/websocket.
func DefaultDial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrap(err, "ws dial failed")
	}
	return conn, nil
}

// ClosedFunc is invoked once when the connection drops. code is the websocket
// close code (CloseAbnormalClosure when none was received) and clientRequested
// reports whether the closure was initiated by Close.
type ClosedFunc func(code int, clientRequested bool)

// ErrConnectInProgress is returned by Open while another Open is still
// establishing the connection.
var ErrConnectInProgress = errors.New("connect already in progress")

const defaultPingInterval = 30 * time.Second

// Channel owns exactly one duplex connection at a time, scoped to a single
// conversation. It translates inbound tagged-union frames to typed bus events
// and typed outbound frames to wire writes. The connection handle is written
// only by Open, Close and the read loop; everything above the channel goes
// through Send and the bus.
type Channel struct {
	conversationID string
	endpoint       string
	dial           DialFunc
	bus            *Bus
	onClosed       ClosedFunc
	pingInterval   time.Duration

	mu              sync.Mutex
	state           ConnectionState
	conn            Conn
	clientRequested bool
	pingStop        chan struct{}
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithDialFunc overrides the websocket dialer.
func WithDialFunc(dial DialFunc) ChannelOption {
	return func(c *Channel) { c.dial = dial }
}

// WithPingInterval sets the keepalive interval. Zero disables pings.
func WithPingInterval(d time.Duration) ChannelOption {
	return func(c *Channel) { c.pingInterval = d }
}

// WithClosedFunc registers the closure callback, normally wired by the
// Supervisor.
func WithClosedFunc(fn ClosedFunc) ChannelOption {
	return func(c *Channel) { c.onClosed = fn }
}

// NewChannel builds a channel for one conversation. endpoint is the websocket
// base URL, e.g. "ws://localhost:8000".
func NewChannel(endpoint, conversationID string, bus *Bus, opts ...ChannelOption) *Channel {
	c := &Channel{
		conversationID: conversationID,
		endpoint:       strings.TrimRight(endpoint, "/"),
		dial:           DefaultDial,
		bus:            bus,
		pingInterval:   defaultPingInterval,
		state:          Disconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConversationID reports the conversation this channel is scoped to.
func (c *Channel) ConversationID() string {
	return c.conversationID
}

// State reports the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open establishes the duplex connection. The credential travels as a query
// parameter on the connect request, never inside the stream. Open resolves
// once the transport confirms the connection; a second Open on an already
// open channel is a no-op.
func (c *Channel) Open(ctx context.Context, credential string) error {
	c.mu.Lock()
	switch c.state {
	case Open:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.state = Connecting
	c.clientRequested = false
	c.mu.Unlock()

	wsURL := fmt.Sprintf("%s/ws/conversations/%s?token=%s", c.endpoint, url.PathEscape(c.conversationID), url.QueryEscape(credential))
	conn, err := c.dial(ctx, wsURL)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		return errors.Wrapf(err, "opening channel for conversation %s", c.conversationID)
	}

	c.mu.Lock()
	if c.state != Connecting {
		// Close raced the dial; the caller asked for shutdown.
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("channel closed during connect")
	}
	c.conn = conn
	c.state = Open
	stop := make(chan struct{})
	c.pingStop = stop
	c.mu.Unlock()

	log.Debug().Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("channel open")

	go c.readLoop(conn)
	if c.pingInterval > 0 {
		go c.pingLoop(stop)
	}
	return nil
}

// Send serializes and transmits an outbound frame. It returns false and
// surfaces a failure event if the channel is not open; it never panics and
// never drops silently.
func (c *Channel) Send(frame any) bool {
	return c.send(frame, false)
}

func (c *Channel) send(frame any, quiet bool) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("frame marshal failed")
		if !quiet {
			c.bus.PublishFailure(Failure{Kind: FailureProtocol, Message: "could not encode outbound frame"})
		}
		return false
	}

	c.mu.Lock()
	if c.state != Open || c.conn == nil {
		c.mu.Unlock()
		if !quiet {
			log.Warn().Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("send on closed channel")
			c.bus.PublishFailure(Failure{Kind: FailureSend, Message: "connection is not open"})
		}
		return false
	}
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.mu.Unlock()

	if err != nil {
		if !quiet {
			log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("ws write failed")
			c.bus.PublishFailure(Failure{Kind: FailureTransport, Message: "write failed: " + err.Error()})
		}
		return false
	}
	return true
}

// Close requests orderly shutdown. Subsequent sends fail until the channel is
// reopened. No reconnection follows a client-requested close.
func (c *Channel) Close(code int, reason string) {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Closing {
		c.mu.Unlock()
		return
	}
	c.clientRequested = true
	c.state = Closing
	conn := c.conn
	c.stopPingLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = conn.Close()
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) handleReadError(err error) {
	c.mu.Lock()
	requested := c.clientRequested
	c.state = Disconnected
	c.conn = nil
	c.stopPingLocked()
	c.mu.Unlock()

	code := websocket.CloseAbnormalClosure
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
	}

	if requested {
		log.Debug().Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("channel closed by client")
	} else {
		log.Warn().Err(err).Int("code", code).Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("channel closed unexpectedly")
		c.bus.PublishFailure(Failure{Kind: FailureTransport, Message: "connection lost"})
	}
	if c.onClosed != nil {
		c.onClosed(code, requested)
	}
}

func (c *Channel) handleFrame(data []byte) {
	f, err := parseInbound(data)
	if errors.Is(err, ErrUnknownFrameType) {
		log.Warn().Str("component", "chatclient").Str("conv_id", c.conversationID).Str("frame_type", f.Type).Msg("dropping unrecognized frame")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("dropping malformed frame")
		c.bus.PublishFailure(Failure{Kind: FailureProtocol, Message: "received a malformed server frame"})
		return
	}

	switch f.Type {
	case frameTypeChunk:
		c.bus.PublishFragment(Fragment{MessageID: f.MessageID, Text: f.Text})
	case frameTypeDone:
		c.bus.PublishCompletion(Completion{MessageID: f.MessageID, FullText: f.FullText})
	case frameTypeError:
		c.bus.PublishFailure(Failure{Kind: FailureServer, Message: f.Message})
	case frameTypeSaved:
		c.bus.PublishControl(Control{Kind: ControlPersisted})
	case frameTypeBlocked:
		c.bus.PublishControl(Control{Kind: ControlBlocked, SafeResponse: f.SafeResponse})
	case frameTypeResumeAck:
		c.bus.PublishControl(Control{Kind: ControlResumeAck})
	case frameTypePong:
		log.Trace().Str("component", "chatclient").Str("conv_id", c.conversationID).Msg("pong")
	}
}

func (c *Channel) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.send(NewPingFrame(), true)
		}
	}
}

func (c *Channel) stopPingLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}
