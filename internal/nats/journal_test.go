package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

func TestEventSubject(t *testing.T) {
	tests := []struct {
		conv  string
		event model.EventName
		want  string
	}{
		{"0190b5c2-7d4e-7a51-9c1e-2f3a4b5c6d7e", model.EventMessageNew, "chat.0190b5c2-7d4e-7a51-9c1e-2f3a4b5c6d7e.message_new"},
		{"c1", model.EventMessageReactionRemoved, "chat.c1.message_reactionRemoved"},
		{"a.b>*", model.EventMessageRead, "chat.a_b__.message_read"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, EventSubject(tt.conv, tt.event))
		})
	}
}
