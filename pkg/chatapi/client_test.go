package chatapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFetchMessagesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations/c1/messages", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "25", r.URL.Query().Get("limit"))
		require.Equal(t, "m9", r.URL.Query().Get("before_message_id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"u1","role":"user","content":"hello","created_at":"2025-06-01T12:00:00Z"},
			{"id":"m1","role":"assistant","content":"Hi there","created_at":"2025-06-01T12:00:02Z"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticCredential("secret"))
	msgs, err := client.FetchMessagesPage(context.Background(), "c1", 25, "m9")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "u1", msgs[0].ID)
	require.Equal(t, "assistant", msgs[1].Role)
	require.Equal(t, "Hi there", msgs[1].Content)
}

func TestFetchConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","title":"Knee pain","updated_at":"2025-06-01T12:00:00Z"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticCredential("secret"))
	convs, err := client.FetchConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "Knee pain", convs[0].Title)
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticCredential("stale"))
	_, err := client.FetchMessages(context.Background(), "c1")
	require.True(t, errors.Is(err, ErrUnauthorized))
}

func TestServerErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticCredential("secret"))
	_, err := client.FetchMessages(context.Background(), "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
	require.Contains(t, err.Error(), "database unavailable")
}

func TestMissingCredentialOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticCredential(""))
	msgs, err := client.FetchMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}
