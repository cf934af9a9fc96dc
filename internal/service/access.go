package service

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// Gate authorizes an actor against a conversation.
type Gate struct {
	conversations ConversationStore
	messages      MessageStore
}

// NewGate creates a new access control gate.
func NewGate(conversations ConversationStore, messages MessageStore) *Gate {
	return &Gate{conversations: conversations, messages: messages}
}

// Authorize loads the conversation and checks that actor holds role in it.
// Admin checks apply to groups only; any other conversation reports the group as missing.
func (g *Gate) Authorize(ctx context.Context, actor, convID string, role model.Role) (*model.Conversation, error) {
	if err := parseID("conversation", convID); err != nil {
		return nil, err
	}
	conv, err := g.conversations.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := Check(conv, actor, role); err != nil {
		return nil, err
	}
	return conv, nil
}

// AuthorizeMessage resolves a message through its owning conversation and checks actor's role there.
func (g *Gate) AuthorizeMessage(ctx context.Context, actor, msgID string, role model.Role) (*model.Message, *model.Conversation, error) {
	if err := parseID("message", msgID); err != nil {
		return nil, nil, err
	}
	msg, err := g.messages.GetMessage(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := g.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if err := Check(conv, actor, role); err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

// Check is the pure role test used by Authorize and re-run inside write transactions.
func Check(conv *model.Conversation, actor string, role model.Role) error {
	switch role {
	case model.RoleAdmin:
		if !conv.IsGroup {
			return fmt.Errorf("%w: group not found", model.ErrNotFound)
		}
		if !conv.IsAdmin(actor) {
			return fmt.Errorf("%w: only admins can manage the group", model.ErrForbidden)
		}
	default:
		if !conv.HasParticipant(actor) {
			return fmt.Errorf("%w: not a participant", model.ErrForbidden)
		}
	}
	return nil
}
