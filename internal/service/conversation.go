package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/guard"
	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
	"github.com/capitalize-ai/realtime-chat/pkg/metrics"
	"github.com/capitalize-ai/realtime-chat/pkg/tracing"
)

// Directory handles conversation and group operations.
type Directory struct {
	conversations ConversationStore
	messages      MessageStore
	accounts      AccountResolver
	gate          *Gate
	logger        *logger.Logger
	tracer        trace.Tracer
}

// NewDirectory creates a new conversation directory.
func NewDirectory(conversations ConversationStore, messages MessageStore, accounts AccountResolver, gate *Gate, log *logger.Logger) *Directory {
	return &Directory{
		conversations: conversations,
		messages:      messages,
		accounts:      accounts,
		gate:          gate,
		logger:        log,
		tracer:        tracing.Tracer("directory"),
	}
}

// CreateOrGetDirect returns the direct conversation between actor and other, creating it on first use.
func (d *Directory) CreateOrGetDirect(ctx context.Context, actor, other string) (conv *model.Conversation, err error) {
	ctx, span := d.tracer.Start(ctx, "Directory.CreateOrGetDirect")
	defer func() { tracing.End(span, err) }()

	other = strings.TrimSpace(other)
	if err := guard.ValidateDirectParticipants(actor, other); err != nil {
		return nil, err
	}

	conv, created, err := d.conversations.FindOrCreateDirect(ctx, actor, other, func() *model.Conversation {
		now := time.Now().UTC()
		return &model.Conversation{
			ID:           newID(),
			Participants: []string{actor, other},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.ConversationsTotal.WithLabelValues("direct").Inc()
		d.logger.Info("direct conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("user_id", actor),
		)
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.Bool("conversation.created", created))
	return conv, nil
}

// ListForUser returns every conversation of userID, most recently updated first,
// each with its last message and participant summaries.
func (d *Directory) ListForUser(ctx context.Context, userID string) (views []model.ConversationView, err error) {
	ctx, span := d.tracer.Start(ctx, "Directory.ListForUser")
	defer func() { tracing.End(span, err) }()

	convs, err := d.conversations.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return d.views(ctx, convs)
}

// Get returns one conversation the actor participates in.
func (d *Directory) Get(ctx context.Context, actor, convID string) (*model.ConversationView, error) {
	conv, err := d.gate.Authorize(ctx, actor, convID, model.RoleParticipant)
	if err != nil {
		return nil, err
	}
	views, err := d.views(ctx, []*model.Conversation{conv})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// CreateGroup creates a group owned by creator. The creator is its sole admin.
func (d *Directory) CreateGroup(ctx context.Context, creator string, req *model.CreateGroupRequest) (conv *model.Conversation, err error) {
	ctx, span := d.tracer.Start(ctx, "Directory.CreateGroup")
	defer func() { tracing.End(span, err) }()

	participants, admins, err := guard.NewGroupMembership(req.Name, req.Members, creator)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &model.Conversation{
		ID:           newID(),
		IsGroup:      true,
		GroupName:    strings.TrimSpace(req.Name),
		GroupAvatar:  strings.TrimSpace(req.Avatar),
		Participants: participants,
		Admins:       admins,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.conversations.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	metrics.ConversationsTotal.WithLabelValues("group").Inc()
	d.logger.Info("group created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", creator),
		zap.Int("participants", len(participants)),
	)
	return conv, nil
}

// RenameGroup changes the group name. A blank name keeps the current one.
func (d *Directory) RenameGroup(ctx context.Context, actor, groupID, name string) (*model.Conversation, error) {
	return d.mutateGroup(ctx, "Directory.RenameGroup", actor, groupID, model.RoleAdmin, func(c *model.Conversation) (*model.Conversation, error) {
		c.GroupName = guard.Rename(c.GroupName, name)
		return c, nil
	})
}

// AddMembers adds members to the group. Members already present are ignored.
func (d *Directory) AddMembers(ctx context.Context, actor, groupID string, members []string) (*model.Conversation, error) {
	return d.mutateGroup(ctx, "Directory.AddMembers", actor, groupID, model.RoleAdmin, func(c *model.Conversation) (*model.Conversation, error) {
		return guard.AddMembers(c, members)
	})
}

// RemoveMember removes target from the group and from its admins.
func (d *Directory) RemoveMember(ctx context.Context, actor, groupID, target string) (*model.Conversation, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: member id required", model.ErrInvalidInput)
	}
	return d.mutateGroup(ctx, "Directory.RemoveMember", actor, groupID, model.RoleAdmin, func(c *model.Conversation) (*model.Conversation, error) {
		return guard.RemoveMember(c, target)
	})
}

// LeaveGroup removes actor from the group. The sole admin must promote someone first.
func (d *Directory) LeaveGroup(ctx context.Context, actor, groupID string) error {
	_, err := d.mutateGroup(ctx, "Directory.LeaveGroup", actor, groupID, model.RoleParticipant, func(c *model.Conversation) (*model.Conversation, error) {
		return guard.Leave(c, actor)
	})
	return err
}

// PromoteAdmin makes target, an existing participant, an admin of the group.
func (d *Directory) PromoteAdmin(ctx context.Context, actor, groupID, target string) (*model.Conversation, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: member id required", model.ErrInvalidInput)
	}
	return d.mutateGroup(ctx, "Directory.PromoteAdmin", actor, groupID, model.RoleAdmin, func(c *model.Conversation) (*model.Conversation, error) {
		return guard.Promote(c, target)
	})
}

// mutateGroup authorizes actor, then applies fn inside the store transaction after
// re-checking the role against the state being written.
func (d *Directory) mutateGroup(ctx context.Context, op, actor, groupID string, role model.Role, fn func(*model.Conversation) (*model.Conversation, error)) (conv *model.Conversation, err error) {
	ctx, span := d.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("conversation.id", groupID)))
	defer func() { tracing.End(span, err) }()

	current, err := d.gate.Authorize(ctx, actor, groupID, role)
	if err != nil {
		return nil, err
	}
	if !current.IsGroup {
		return nil, fmt.Errorf("%w: group not found", model.ErrNotFound)
	}

	conv, err = d.conversations.UpdateConversation(ctx, groupID, func(c *model.Conversation) (*model.Conversation, error) {
		if !c.IsGroup {
			return nil, fmt.Errorf("%w: group not found", model.ErrNotFound)
		}
		if err := Check(c, actor, role); err != nil {
			return nil, err
		}
		next, err := fn(c)
		if err != nil {
			return nil, err
		}
		next.UpdatedAt = time.Now().UTC()
		return next, nil
	})
	log := d.logger.WithConversation(groupID)
	if err != nil {
		if errors.Is(err, model.ErrLastAdmin) {
			log.Debug("group change rejected, last admin",
				zap.String("op", op),
				zap.String("user_id", actor),
			)
		}
		return nil, err
	}

	log.Info("group updated",
		zap.String("op", op),
		zap.String("user_id", actor),
	)
	return conv, nil
}

// views attaches last messages and participant summaries, resolving all accounts in one batch.
func (d *Directory) views(ctx context.Context, convs []*model.Conversation) ([]model.ConversationView, error) {
	ids := lo.Uniq(lo.FlatMap(convs, func(c *model.Conversation, _ int) []string { return c.Participants }))
	summaries, err := d.accounts.ResolveMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(summaries, func(u model.UserSummary) string { return u.ID })

	views := make([]model.ConversationView, 0, len(convs))
	for _, conv := range convs {
		view := model.ConversationView{
			Conversation: conv,
			ParticipantInfos: lo.Map(conv.Participants, func(id string, _ int) model.UserSummary {
				if u, ok := byID[id]; ok {
					return u
				}
				return model.UserSummary{ID: id}
			}),
		}
		if conv.LastMessageID != "" {
			msg, err := d.messages.GetMessage(ctx, conv.LastMessageID)
			switch {
			case err == nil:
				if u, ok := byID[msg.SenderID]; ok {
					msg.Sender = &u
				}
				view.LastMessage = msg
			case errors.Is(err, model.ErrNotFound):
				// Expired, the retention sweep clears the pointer.
			default:
				return nil, err
			}
		}
		views = append(views, view)
	}
	return views, nil
}
