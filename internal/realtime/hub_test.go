package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

const convID = "0190b5c2-7d4e-7a51-9c1e-2f3a4b5c6d7e"

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(64, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

// nextNamed waits for the next event called name, skipping any other event.
func nextNamed(t *testing.T, c *Client, name model.EventName) model.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case evt := <-c.Events():
			if evt.Name == name {
				return evt
			}
		case <-timeout:
			t.Fatalf("no %s event for connection %s", name, c.ID)
		}
	}
}

// requireNone asserts no event called name arrives within a short window.
func requireNone(t *testing.T, c *Client, name model.EventName) {
	t.Helper()
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case evt := <-c.Events():
			require.NotEqual(t, name, evt.Name, "unexpected event for connection %s", c.ID)
		case <-timeout:
			return
		}
	}
}

func TestHub_EmitToUser_Reaches_Every_Connection_Of_The_User(t *testing.T) {
	req := require.New(t)
	hub := startHub(t)

	phone, laptop, other := NewClient("u1", 16), NewClient("u1", 16), NewClient("u2", 16)
	hub.Register(phone)
	hub.Register(laptop)
	hub.Register(other)
	req.Equal(3, hub.Connections())

	hub.EmitToUser("u1", model.Event{Name: model.EventMessageRead, Data: model.MessageReadPayload{UserID: "u2"}})

	nextNamed(t, phone, model.EventMessageRead)
	nextNamed(t, laptop, model.EventMessageRead)
	requireNone(t, other, model.EventMessageRead)
}

func TestHub_Typing_Skips_The_Sending_Connection(t *testing.T) {
	hub := startHub(t)

	sender, peer, outsider := NewClient("u1", 16), NewClient("u2", 16), NewClient("u3", 16)
	for _, c := range []*Client{sender, peer, outsider} {
		hub.Register(c)
	}
	hub.Join(sender, convID)
	hub.Join(peer, convID)

	hub.EmitToConversation(convID, sender.ID, model.Event{Name: model.EventTyping, Data: model.TypingPayload{ConversationID: convID, UserID: "u1"}})

	evt := nextNamed(t, peer, model.EventTyping)
	require.Equal(t, model.TypingPayload{ConversationID: convID, UserID: "u1"}, evt.Data)
	requireNone(t, sender, model.EventTyping)
	requireNone(t, outsider, model.EventTyping)

	// After leaving the channel nothing more arrives
	hub.Leave(peer, convID)
	hub.EmitToConversation(convID, sender.ID, model.Event{Name: model.EventStopTyping})
	requireNone(t, peer, model.EventStopTyping)
}

func TestHub_Presence_On_Register_And_Unregister(t *testing.T) {
	req := require.New(t)
	hub := startHub(t)

	watcher := NewClient("u1", 16)
	hub.Register(watcher)
	nextNamed(t, watcher, model.EventUserOnline)

	visitor := NewClient("u2", 16)
	hub.Register(visitor)
	hub.Join(visitor, convID)
	online := nextNamed(t, watcher, model.EventUserOnline)
	req.Equal(model.PresencePayload{UserID: "u2"}, online.Data)

	hub.Unregister(visitor)
	hub.Unregister(visitor)
	offline := nextNamed(t, watcher, model.EventUserOffline)
	req.Equal(model.PresencePayload{UserID: "u2"}, offline.Data)

	// The closed connection is out of every channel
	select {
	case <-visitor.Done():
	default:
		req.Fail("unregistered connection should be done")
	}
	req.Equal(1, hub.Connections())
	hub.EmitToConversation(convID, "", model.Event{Name: model.EventTyping})
	hub.EmitToUser("u2", model.Event{Name: model.EventMessageNew})
	requireNone(t, visitor, model.EventMessageNew)
}

func TestHub_Slow_Connection_Drops_Instead_Of_Blocking(t *testing.T) {
	req := require.New(t)
	hub := startHub(t)

	slow := NewClient("u1", 1)
	hub.Register(slow)

	for i := 0; i < 10; i++ {
		hub.EmitToUser("u1", model.Event{Name: model.EventMessageNew})
	}

	// A fast connection registered afterwards still receives events
	fast := NewClient("u2", 16)
	hub.Register(fast)
	hub.EmitToUser("u2", model.Event{Name: model.EventMessageNew})
	nextNamed(t, fast, model.EventMessageNew)

	req.LessOrEqual(len(slow.Events()), 1)
}

func TestHub_Channel_With_No_Subscribers_Is_A_Noop(t *testing.T) {
	hub := startHub(t)
	hub.EmitToConversation(convID, "", model.Event{Name: model.EventTyping})
	hub.EmitToUser("nobody", model.Event{Name: model.EventMessageNew})

	c := NewClient("u1", 4)
	hub.Register(c)
	nextNamed(t, c, model.EventUserOnline)
}
