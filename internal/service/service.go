// Package service provides the conversation, message and notification logic of the chat core.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/internal/store"
)

// ConversationStore persists conversations.
type ConversationStore interface {
	FindOrCreateDirect(ctx context.Context, a, b string, newConv func() *model.Conversation) (*model.Conversation, bool, error)
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, fn store.MutateFunc) (*model.Conversation, error)
	SetLastMessage(ctx context.Context, convID, msgID string, at time.Time) error
	ListConversationsForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
}

// MessageStore persists messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	PageMessages(ctx context.Context, convID string, offset, limit int) ([]model.Message, int, error)
	UpdateMessage(ctx context.Context, id string, fn store.MessageMutateFunc) (*model.Message, error)
	MarkConversationRead(ctx context.Context, convID, userID string) (int, error)
}

// AccountResolver resolves user ids to display fields.
type AccountResolver interface {
	ResolveMany(ctx context.Context, ids []string) ([]model.UserSummary, error)
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// parseID rejects identifiers that are not UUIDs.
func parseID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid %s ID format", model.ErrInvalidInput, kind)
	}
	return nil
}
