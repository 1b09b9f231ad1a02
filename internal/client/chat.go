package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeFAU/research-admin/internal/chat"
)

func chatPath(sessionID string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/chat"
}

// PostChatMessage sends a user message and returns the stored copy.
func (c *Client) PostChatMessage(ctx context.Context, sessionID, content string) (chat.Message, error) {
	if sessionID == "" {
		return chat.Message{}, errors.New("post chat message: session id is required")
	}
	body := map[string]string{"content": content}
	var msg chat.Message
	if _, err := c.do(ctx, http.MethodPost, chatPath(sessionID), body, &msg, http.StatusCreated, http.StatusOK); err != nil {
		return chat.Message{}, fmt.Errorf("post chat message: %w", err)
	}
	return msg, nil
}

// ListChatMessages returns the stored conversation of a session.
func (c *Client) ListChatMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if sessionID == "" {
		return nil, errors.New("list chat messages: session id is required")
	}
	var payload struct {
		Messages []chat.Message `json:"messages"`
	}
	if _, err := c.do(ctx, http.MethodGet, chatPath(sessionID), nil, &payload, http.StatusOK); err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return payload.Messages, nil
}
