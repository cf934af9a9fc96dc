package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/guard"
	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
	"github.com/capitalize-ai/realtime-chat/pkg/metrics"
	"github.com/capitalize-ai/realtime-chat/pkg/tracing"
)

// Log handles the per-conversation message log.
type Log struct {
	conversations ConversationStore
	messages      MessageStore
	accounts      AccountResolver
	gate          *Gate
	dispatcher    *Dispatcher
	retention     time.Duration
	logger        *logger.Logger
	tracer        trace.Tracer
}

// NewLog creates a new message log. Messages expire retention after creation.
func NewLog(
	conversations ConversationStore,
	messages MessageStore,
	accounts AccountResolver,
	gate *Gate,
	dispatcher *Dispatcher,
	retention time.Duration,
	log *logger.Logger,
) *Log {
	if retention <= 0 {
		retention = model.DefaultRetention
	}
	return &Log{
		conversations: conversations,
		messages:      messages,
		accounts:      accounts,
		gate:          gate,
		dispatcher:    dispatcher,
		retention:     retention,
		logger:        log,
		tracer:        tracing.Tracer("messages"),
	}
}

// Append stores a message from sender and announces it to the other participants.
func (l *Log) Append(ctx context.Context, sender string, req *model.SendMessageRequest) (msg *model.Message, err error) {
	ctx, span := l.tracer.Start(ctx, "Log.Append", trace.WithAttributes(attribute.String("conversation.id", req.ConversationID)))
	defer func() { tracing.End(span, err) }()

	if err := parseID("conversation", req.ConversationID); err != nil {
		return nil, err
	}
	content, err := guard.ValidateContent(req.Content)
	if err != nil {
		return nil, err
	}
	conv, err := l.gate.Authorize(ctx, sender, req.ConversationID, model.RoleParticipant)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg = &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       sender,
		Type:           model.MessageTypeText,
		Content:        content,
		Reactions:      []model.Reaction{},
		SeenBy:         []string{sender},
		CreatedAt:      now,
		ExpiresAt:      now.Add(l.retention),
	}
	if err := l.messages.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	// The message is durable at this point, a stale pointer only affects listings.
	if err := l.conversations.SetLastMessage(ctx, conv.ID, msg.ID, now); err != nil {
		l.logger.Error("failed to update last message",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}

	if summaries, err := l.accounts.ResolveMany(ctx, []string{sender}); err == nil && len(summaries) == 1 {
		msg.Sender = &summaries[0]
	} else {
		msg.Sender = &model.UserSummary{ID: sender}
	}

	metrics.MessagesTotal.Inc()
	l.dispatcher.MessageCreated(ctx, conv, msg)
	return msg, nil
}

// Page returns one page of the conversation, oldest first, counting pages back from the newest message.
func (l *Log) Page(ctx context.Context, requester, convID string, page, limit int) (resp *model.ListMessagesResponse, err error) {
	ctx, span := l.tracer.Start(ctx, "Log.Page", trace.WithAttributes(attribute.String("conversation.id", convID)))
	defer func() { tracing.End(span, err) }()

	page, limit = guard.ClampPage(page, limit)
	if _, err := l.gate.Authorize(ctx, requester, convID, model.RoleParticipant); err != nil {
		return nil, err
	}

	messages, total, err := l.messages.PageMessages(ctx, convID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	if err := l.attachSenders(ctx, messages); err != nil {
		return nil, err
	}

	return &model.ListMessagesResponse{
		Page:     page,
		Limit:    limit,
		Total:    total,
		Messages: messages,
	}, nil
}

// MarkRead adds requester to seenBy on every message of the conversation.
func (l *Log) MarkRead(ctx context.Context, requester, convID string) (err error) {
	ctx, span := l.tracer.Start(ctx, "Log.MarkRead", trace.WithAttributes(attribute.String("conversation.id", convID)))
	defer func() { tracing.End(span, err) }()

	conv, err := l.gate.Authorize(ctx, requester, convID, model.RoleParticipant)
	if err != nil {
		return err
	}
	changed, err := l.messages.MarkConversationRead(ctx, convID, requester)
	if err != nil {
		return err
	}

	metrics.ReadReceiptsTotal.Add(float64(changed))
	span.SetAttributes(attribute.Int("messages.marked", changed))
	l.dispatcher.MessagesRead(ctx, conv, requester, time.Now().UTC())
	return nil
}

// SetReaction sets userID's reaction on the message, replacing a previous one.
func (l *Log) SetReaction(ctx context.Context, userID, msgID, emoji string) (reactions []model.Reaction, err error) {
	ctx, span := l.tracer.Start(ctx, "Log.SetReaction", trace.WithAttributes(attribute.String("message.id", msgID)))
	defer func() { tracing.End(span, err) }()

	if _, err := guard.UpsertReaction(nil, userID, emoji); err != nil {
		return nil, err
	}
	_, conv, err := l.gate.AuthorizeMessage(ctx, userID, msgID, model.RoleParticipant)
	if err != nil {
		return nil, err
	}

	var stored string
	updated, err := l.messages.UpdateMessage(ctx, msgID, func(m *model.Message) (*model.Message, error) {
		next, err := guard.UpsertReaction(m.Reactions, userID, emoji)
		if err != nil {
			return nil, err
		}
		m.Reactions = next
		stored, _ = m.ReactionOf(userID)
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReactionsTotal.WithLabelValues("set").Inc()
	l.dispatcher.ReactionSet(ctx, conv, msgID, userID, stored)
	return updated.Reactions, nil
}

// ClearReaction removes userID's reaction from the message. Nothing happens when there is none.
func (l *Log) ClearReaction(ctx context.Context, userID, msgID string) (reactions []model.Reaction, err error) {
	ctx, span := l.tracer.Start(ctx, "Log.ClearReaction", trace.WithAttributes(attribute.String("message.id", msgID)))
	defer func() { tracing.End(span, err) }()

	_, conv, err := l.gate.AuthorizeMessage(ctx, userID, msgID, model.RoleParticipant)
	if err != nil {
		return nil, err
	}

	var removed bool
	updated, err := l.messages.UpdateMessage(ctx, msgID, func(m *model.Message) (*model.Message, error) {
		m.Reactions, removed = guard.ClearReaction(m.Reactions, userID)
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	if removed {
		metrics.ReactionsTotal.WithLabelValues("clear").Inc()
		l.dispatcher.ReactionCleared(ctx, conv, msgID, userID)
	}
	return updated.Reactions, nil
}

func (l *Log) attachSenders(ctx context.Context, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.SenderID)
	}
	summaries, err := l.accounts.ResolveMany(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]model.UserSummary, len(summaries))
	for _, u := range summaries {
		byID[u.ID] = u
	}
	for i := range messages {
		if u, ok := byID[messages[i].SenderID]; ok {
			messages[i].Sender = &u
		}
	}
	return nil
}
