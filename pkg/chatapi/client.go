// Package chatapi is the request/response collaborator client: conversation
// and message reads served by the conventional REST API, separate from the
// streaming channel. The streaming layer consumes it only through the
// MessageFetcher interface.
package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/carechat/pkg/persistence/chatstore"
)

// CredentialSource supplies the bearer token attached to every request.
type CredentialSource interface {
	Token() (string, bool)
}

// StaticCredential is a fixed token, handy for CLI flags and tests.
type StaticCredential string

// Token implements CredentialSource.
func (s StaticCredential) Token() (string, bool) {
	return string(s), s != ""
}

// ErrUnauthorized maps a 401 so callers can route to re-authentication
// instead of retrying.
var ErrUnauthorized = errors.New("unauthorized")

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Client talks to the REST collaborator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialSource
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client for baseURL, e.g. "http://localhost:8000".
func NewClient(baseURL string, creds CredentialSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMessages returns the durable ordered message list for a conversation.
func (c *Client) FetchMessages(ctx context.Context, convID string) ([]chatstore.Message, error) {
	return c.FetchMessagesPage(ctx, convID, 0, "")
}

// FetchMessagesPage returns up to limit messages, optionally only those
// before beforeMessageID. limit <= 0 leaves paging to the server default.
func (c *Client) FetchMessagesPage(ctx context.Context, convID string, limit int, beforeMessageID string) ([]chatstore.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeMessageID != "" {
		q.Set("before_message_id", beforeMessageID)
	}
	path := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(convID))

	var msgs []chatstore.Message
	if err := c.getJSON(ctx, path, q, &msgs); err != nil {
		return nil, errors.Wrapf(err, "fetching messages for conversation %s", convID)
	}
	return msgs, nil
}

// FetchConversations lists the authenticated user's conversations.
func (c *Client) FetchConversations(ctx context.Context) ([]ConversationSummary, error) {
	var convs []ConversationSummary
	if err := c.getJSON(ctx, "/api/conversations", nil, &convs); err != nil {
		return nil, errors.Wrap(err, "fetching conversations")
	}
	return convs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if token, ok := c.creds.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}
