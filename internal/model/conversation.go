// Package model defines data structures for the conversation platform.
package model

import (
	"slices"
	"time"
)

// Role is the membership level required by an operation.
type Role int

const (
	RoleParticipant Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "participant"
}

// Conversation is either a direct conversation between two users or a group.
type Conversation struct {
	ID            string    `json:"id"`
	IsGroup       bool      `json:"is_group"`
	Participants  []string  `json:"participants"`
	GroupName     string    `json:"group_name,omitempty"`
	GroupAvatar   string    `json:"group_avatar,omitempty"`
	Admins        []string  `json:"admins,omitempty"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// IsAdmin reports whether userID administers the group.
func (c *Conversation) IsAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

// Clone returns a deep copy so callers can mutate membership without aliasing.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Admins = slices.Clone(c.Admins)
	return &cp
}

// UserSummary is the lightweight account view attached to responses.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ConversationView is a conversation with its last message and participant summaries.
type ConversationView struct {
	*Conversation
	LastMessage      *Message      `json:"last_message,omitempty"`
	ParticipantInfos []UserSummary `json:"participant_infos"`
}

// CreateGroupRequest is the request to create a group.
type CreateGroupRequest struct {
	Name    string   `json:"name" validate:"required,max=256"`
	Members []string `json:"members" validate:"required,min=2,max=512,dive,required,max=128"`
	Avatar  string   `json:"avatar,omitempty" validate:"omitempty,max=2048"`
}

// RenameGroupRequest is the request to rename a group. An empty name keeps the current one.
type RenameGroupRequest struct {
	Name string `json:"name" validate:"max=256"`
}

// AddMembersRequest is the request to add members to a group.
type AddMembersRequest struct {
	Members []string `json:"members" validate:"max=512,dive,required,max=128"`
}
