package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
	"github.com/capitalize-ai/realtime-chat/pkg/metrics"
)

//go:generate go run go.uber.org/mock/mockgen -source=notifier.go -destination=mocks/mock_notifier.go -package=mocks

// Emitter delivers an event to every live connection of a user.
type Emitter interface {
	EmitToUser(userID string, evt model.Event)
}

// Journal records committed events for consumers outside this process.
type Journal interface {
	Publish(ctx context.Context, rec model.JournalRecord) error
}

const (
	// journalQueueSize bounds the records waiting for the journal. Beyond it records are dropped.
	journalQueueSize = 1024
	journalTimeout   = 5 * time.Second
)

// Dispatcher turns committed mutations into realtime events. Callers invoke it only
// after the store returned successfully, so nothing is announced that was not persisted.
// Journal records are queued and published by Run, never on the caller's path.
type Dispatcher struct {
	emitter Emitter
	journal Journal
	records chan model.JournalRecord
	logger  *logger.Logger
}

// NewDispatcher creates a new notification dispatcher. journal may be nil; when it is
// not, Run must be started to publish the queued records.
func NewDispatcher(emitter Emitter, journal Journal, log *logger.Logger) *Dispatcher {
	return newDispatcher(emitter, journal, journalQueueSize, log)
}

func newDispatcher(emitter Emitter, journal Journal, queue int, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{emitter: emitter, journal: journal, logger: log}
	if journal != nil {
		d.records = make(chan model.JournalRecord, queue)
	}
	return d
}

// Run publishes queued journal records until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.journal == nil {
		return
	}
	for {
		select {
		case rec := <-d.records:
			d.publish(ctx, rec)
		case <-ctx.Done():
			if n := len(d.records); n > 0 {
				d.logger.Warn("journal stopped with records pending", zap.Int("pending", n))
			}
			return
		}
	}
}

// MessageCreated announces a new message to every participant but the sender.
func (d *Dispatcher) MessageCreated(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	d.dispatch(ctx, conv, msg.SenderID, model.Event{
		Name: model.EventMessageNew,
		Data: model.MessageNewPayload{ConversationID: conv.ID, Message: msg, Sender: msg.Sender},
	})
}

// MessagesRead announces that reader has read the conversation.
func (d *Dispatcher) MessagesRead(ctx context.Context, conv *model.Conversation, reader string, at time.Time) {
	d.dispatch(ctx, conv, reader, model.Event{
		Name: model.EventMessageRead,
		Data: model.MessageReadPayload{ConversationID: conv.ID, UserID: reader, ReadAt: at},
	})
}

// ReactionSet announces userID's reaction on msgID.
func (d *Dispatcher) ReactionSet(ctx context.Context, conv *model.Conversation, msgID, userID, emoji string) {
	d.dispatch(ctx, conv, userID, model.Event{
		Name: model.EventMessageReaction,
		Data: model.ReactionPayload{ConversationID: conv.ID, MessageID: msgID, UserID: userID, Emoji: emoji},
	})
}

// ReactionCleared announces that userID removed their reaction on msgID.
func (d *Dispatcher) ReactionCleared(ctx context.Context, conv *model.Conversation, msgID, userID string) {
	d.dispatch(ctx, conv, userID, model.Event{
		Name: model.EventMessageReactionRemoved,
		Data: model.ReactionPayload{ConversationID: conv.ID, MessageID: msgID, UserID: userID},
	})
}

func (d *Dispatcher) dispatch(_ context.Context, conv *model.Conversation, actor string, evt model.Event) {
	recipients := lo.Without(lo.Uniq(conv.Participants), actor)
	for _, userID := range recipients {
		d.emitter.EmitToUser(userID, evt)
	}

	if d.journal == nil {
		return
	}
	rec := model.JournalRecord{
		ID:             newID(),
		ConversationID: conv.ID,
		ActorID:        actor,
		Recipients:     recipients,
		Event:          evt,
		CreatedAt:      time.Now().UTC(),
	}
	select {
	case d.records <- rec:
	default:
		metrics.JournalPublishTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("journal queue full, record dropped",
			zap.String("event", string(evt.Name)),
			zap.String("conversation_id", conv.ID),
		)
	}
}

func (d *Dispatcher) publish(ctx context.Context, rec model.JournalRecord) {
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	if err := d.journal.Publish(ctx, rec); err != nil {
		metrics.JournalPublishTotal.WithLabelValues("error").Inc()
		d.logger.Warn("failed to journal event",
			zap.String("event", string(rec.Event.Name)),
			zap.String("conversation_id", rec.ConversationID),
			zap.Error(err),
		)
		return
	}
	metrics.JournalPublishTotal.WithLabelValues("ok").Inc()
}
