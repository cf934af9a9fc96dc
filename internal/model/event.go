package model

import (
	"time"
)

// EventName identifies a realtime event on the wire.
type EventName string

const (
	// Server pushed, after a committed mutation.
	EventMessageNew             EventName = "message:new"
	EventMessageRead            EventName = "message:read"
	EventMessageReaction        EventName = "message:reaction"
	EventMessageReactionRemoved EventName = "message:reactionRemoved"

	// Presence.
	EventUserOnline  EventName = "userOnline"
	EventUserOffline EventName = "userOffline"

	// Client driven.
	EventTyping            EventName = "typing"
	EventStopTyping        EventName = "stopTyping"
	EventJoinConversation  EventName = "joinConversation"
	EventLeaveConversation EventName = "leaveConversation"

	EventError EventName = "error"
)

// Event is the envelope exchanged over realtime connections.
type Event struct {
	Name EventName `json:"event"`
	Data any       `json:"data,omitempty"`
}

// InboundEvent is a client frame before its payload is decoded.
type InboundEvent struct {
	Name EventName       `json:"event"`
	Data ConversationRef `json:"data"`
}

// ConversationRef is the payload of join/leave/typing frames.
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

// MessageNewPayload is sent to every other participant when a message is appended.
type MessageNewPayload struct {
	ConversationID string       `json:"conversation_id"`
	Message        *Message     `json:"message"`
	Sender         *UserSummary `json:"sender,omitempty"`
}

// MessageReadPayload announces that UserID read the conversation.
type MessageReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// ReactionPayload announces a reaction set or removed. Emoji is empty on removal.
type ReactionPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji,omitempty"`
}

// TypingPayload is relayed to the other subscribers of a conversation channel.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// PresencePayload announces a user coming online or going offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
}

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JournalRecord is a committed event as mirrored to the event journal.
type JournalRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	ActorID        string    `json:"actor_id"`
	Recipients     []string  `json:"recipients"`
	Event          Event     `json:"event"`
	CreatedAt      time.Time `json:"created_at"`
}
