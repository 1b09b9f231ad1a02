package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/chat"
)

type postChatRequest struct {
	Content string `json:"content"`
}

// postChat stores the user's message, answers with an assistant echo, and
// returns the stored user message.
func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	var req postChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	userMsg, err := s.newMessage(sessionID, chat.RoleUser, content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reply, err := s.newMessage(sessionID, chat.RoleAssistant, "You said: "+content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.chats.AppendMessage(r.Context(), userMsg)
	s.chats.AppendMessage(r.Context(), reply)
	s.logger.Debug("chat message stored", zap.String("session_id", sessionID), zap.String("message_id", userMsg.ID))
	writeJSON(w, http.StatusCreated, userMsg)
}

func (s *Server) listChat(w http.ResponseWriter, r *http.Request) {
	msgs := s.chats.ListMessages(r.Context(), chi.URLParam(r, "sessionId"))
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) newMessage(sessionID string, role chat.Role, content string) (chat.Message, error) {
	id, err := s.messageIDs.NewID()
	if err != nil {
		return chat.Message{}, fmt.Errorf("generate message id: %w", err)
	}
	return chat.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.clock.Now(),
	}, nil
}
