package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/research-admin/internal/chat"
)

// ChatStore keeps chat messages per session.
type ChatStore struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message
}

// NewChatStore constructs an empty ChatStore.
func NewChatStore() *ChatStore {
	return &ChatStore{messages: make(map[string][]chat.Message)}
}

// AppendMessage stores msg at the end of its session's conversation.
func (s *ChatStore) AppendMessage(_ context.Context, msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Pending = false
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
}

// ListMessages returns a copy of a session's conversation.
func (s *ChatStore) ListMessages(_ context.Context, sessionID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out
}
