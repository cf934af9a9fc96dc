package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/metrics"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat event subjects.
	SubjectPrefix = "chat"

	// streamMaxAge matches the default message retention.
	streamMaxAge = 240 * 24 * time.Hour
)

var subjectToken = strings.NewReplacer(".", "_", ":", "_", "*", "_", ">", "_", " ", "_")

// Journal publishes committed events to JetStream for consumers outside this
// process, such as push or email notification workers.
type Journal struct {
	client *Client
}

// NewJournal creates a new event journal.
func NewJournal(client *Client) *Journal {
	return &Journal{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (j *Journal) EnsureStream(ctx context.Context) error {
	js := j.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      streamMaxAge,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		Description: "Committed chat events (messages, reactions, read receipts)",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for an event of a conversation.
func EventSubject(conversationID string, event model.EventName) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, subjectToken.Replace(conversationID), subjectToken.Replace(string(event)))
}

// Publish appends rec to the stream. The record id doubles as the JetStream
// message id, so a retried publish is deduplicated.
func (j *Journal) Publish(ctx context.Context, rec model.JournalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	_, err = j.client.JetStream().Publish(ctx, EventSubject(rec.ConversationID, rec.Event.Name), data,
		jetstream.WithMsgID(rec.ID),
		jetstream.WithExpectStream(StreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// RecordStats refreshes the stream gauges and reports whether the stream is reachable.
func (j *Journal) RecordStats(ctx context.Context) error {
	stream, err := j.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("failed to look up stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream info: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(info.State.Msgs))
	metrics.NATSStreamBytes.WithLabelValues(StreamName).Set(float64(info.State.Bytes))
	return nil
}
