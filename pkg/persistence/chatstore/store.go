// Package chatstore persists the locally cached transcript per conversation.
// The durable copy lives server-side; this cache only mirrors the last
// reconciled view so a restarted client can render history immediately while
// a fresh fetch is in flight. Writes replace a conversation wholesale.
package chatstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Role of a transcript message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one durable transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TranscriptStore caches the reconciled transcript per conversation.
type TranscriptStore interface {
	// Replace swaps the cached transcript for convID with msgs, preserving
	// order, in one atomic step.
	Replace(ctx context.Context, convID string, msgs []Message) error
	// Load returns the cached transcript in stored order. A conversation that
	// was never cached yields an empty slice.
	Load(ctx context.Context, convID string) ([]Message, error)
	// Close releases the backing resources.
	Close() error
}

// MemoryStore is the in-memory TranscriptStore, used in tests and when no
// cache path is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string][]Message
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string][]Message{}}
}

// Replace implements TranscriptStore.
func (m *MemoryStore) Replace(_ context.Context, convID string, msgs []Message) error {
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	m.mu.Lock()
	m.convs[convID] = cp
	m.mu.Unlock()
	return nil
}

// Load implements TranscriptStore.
func (m *MemoryStore) Load(_ context.Context, convID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.convs[convID]
	cp := make([]Message, len(msgs))
	copy(cp, msgs)
	return cp, nil
}

// Close implements TranscriptStore.
func (m *MemoryStore) Close() error {
	return nil
}

// ConversationIDs lists cached conversations, sorted, mostly for debugging.
func (m *MemoryStore) ConversationIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
