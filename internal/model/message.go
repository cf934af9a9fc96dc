package model

import (
	"slices"
	"time"
)

// MessageType is the kind of message content.
type MessageType string

const (
	MessageTypeText MessageType = "text"
)

// DefaultRetention is how long a message is kept before it expires (240 days).
const DefaultRetention = 240 * 24 * time.Hour

// Reaction is a single user's emoji on a message.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Message represents a conversation message.
type Message struct {
	// Identity
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`

	// Content
	Type    MessageType `json:"type"`
	Content string      `json:"content"`

	// Mutable after creation
	Reactions []Reaction `json:"reactions"`
	SeenBy    []string   `json:"seen_by"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Populated on read
	Sender *UserSummary `json:"sender,omitempty"`
}

// SeenByUser reports whether userID has read the message.
func (m *Message) SeenByUser(userID string) bool {
	return slices.Contains(m.SeenBy, userID)
}

// ReactionOf returns the emoji userID reacted with, if any.
func (m *Message) ReactionOf(userID string) (string, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r.Emoji, true
		}
	}
	return "", false
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	Content        string `json:"content" validate:"required,max=100000"`
}

// ReactionRequest is the request to set a reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=64"`
}

// ListMessagesResponse is one page of messages in chronological order.
type ListMessagesResponse struct {
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
	Total    int       `json:"total"`
	Messages []Message `json:"messages"`
}

// ReactionsResponse is returned after a reaction mutation.
type ReactionsResponse struct {
	Message   string     `json:"message"`
	Reactions []Reaction `json:"reactions"`
}
