// Package chat keeps the client-side state of a session's chat panel.
// Sending applies the user's message tentatively and then either replaces it
// with the stored copy or restores the previous list, each in one step.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat entry. Pending marks a tentative local copy.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Pending   bool      `json:"-"`
}

// Backend is the subset of the API the thread needs.
type Backend interface {
	PostChatMessage(ctx context.Context, sessionID, content string) (Message, error)
	ListChatMessages(ctx context.Context, sessionID string) ([]Message, error)
}

// ErrEmptyMessage is returned when sending blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// Thread holds the messages of one session.
type Thread struct {
	sessionID string
	backend   Backend
	now       func() time.Time

	mu       sync.RWMutex
	messages []Message
}

// NewThread creates an empty thread for sessionID.
func NewThread(sessionID string, backend Backend) *Thread {
	return &Thread{
		sessionID: sessionID,
		backend:   backend,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Load replaces the local list with the stored conversation.
func (t *Thread) Load(ctx context.Context) error {
	msgs, err := t.backend.ListChatMessages(ctx, t.sessionID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	t.mu.Lock()
	t.messages = append([]Message(nil), msgs...)
	t.mu.Unlock()
	return nil
}

// Messages returns a copy of the current list, tentative entries included.
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Message(nil), t.messages...)
}

// Send appends content tentatively, posts it, and settles the list: the
// tentative entry is swapped for the stored message on success, or the list
// is restored to its pre-send snapshot on failure.
func (t *Thread) Send(ctx context.Context, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	tentative := Message{
		ID:        "local-" + uuid.NewString(),
		SessionID: t.sessionID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: t.now(),
		Pending:   true,
	}

	t.mu.Lock()
	snapshot := append([]Message(nil), t.messages...)
	t.messages = append(t.messages, tentative)
	t.mu.Unlock()

	stored, err := t.backend.PostChatMessage(ctx, t.sessionID, content)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.messages = t.without(tentative.ID, snapshot)
		return Message{}, fmt.Errorf("send chat message: %w", err)
	}
	stored.Pending = false
	t.messages = t.replace(tentative.ID, stored)
	return stored, nil
}

// without rebuilds the list from snapshot, keeping entries other sends added
// meanwhile but never the failed tentative one.
func (t *Thread) without(id string, snapshot []Message) []Message {
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		seen[m.ID] = struct{}{}
	}
	out := snapshot
	for _, m := range t.messages {
		if _, ok := seen[m.ID]; ok || m.ID == id {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (t *Thread) replace(id string, stored Message) []Message {
	out := make([]Message, 0, len(t.messages))
	for _, m := range t.messages {
		if m.ID == id {
			out = append(out, stored)
			continue
		}
		out = append(out, m)
	}
	return out
}
