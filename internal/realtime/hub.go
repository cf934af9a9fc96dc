// Package realtime keeps the registry of live connections and fans events out to them.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
	"github.com/capitalize-ai/realtime-chat/pkg/metrics"
)

type scope int

const (
	scopeUser scope = iota
	scopeConversation
	scopeAll
)

// delivery is one event addressed to a channel. except names a connection to skip.
type delivery struct {
	scope  scope
	key    string
	except string
	event  model.Event
}

// Hub is the connection registry. Each user has a personal channel holding all of
// their connections, and each conversation channel holds the connections that joined it.
// Publishing never blocks: events are queued to the hub loop, then offered to each
// connection's buffer and dropped for connections that are not keeping up.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	users         map[string]map[string]*Client
	conversations map[string]map[string]*Client

	publish chan delivery
	logger  *logger.Logger
}

// NewHub creates a hub whose publish queue holds buffer events.
func NewHub(buffer int, log *logger.Logger) *Hub {
	return &Hub{
		clients:       make(map[string]*Client),
		users:         make(map[string]map[string]*Client),
		conversations: make(map[string]map[string]*Client),
		publish:       make(chan delivery, buffer),
		logger:        log,
	}
}

// Run delivers queued events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case d := <-h.publish:
			h.deliver(d)
		case <-ctx.Done():
			h.logger.Debug("hub stopped")
			return
		}
	}
}

// Register adds an authenticated connection to its personal channel and announces the user online.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	add(h.users, c.UserID, c)
	h.mu.Unlock()

	metrics.IncrementRealtimeConnections()
	h.Broadcast(model.Event{Name: model.EventUserOnline, Data: model.PresencePayload{UserID: c.UserID}})
}

// Unregister removes the connection from every channel and announces the user offline.
// Calling it twice is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	remove(h.users, c.UserID, c.ID)
	for convID := range c.channels {
		remove(h.conversations, convID, c.ID)
	}
	c.channels = nil
	h.mu.Unlock()

	c.close()
	metrics.DecrementRealtimeConnections()
	h.Broadcast(model.Event{Name: model.EventUserOffline, Data: model.PresencePayload{UserID: c.UserID}})
}

// Join subscribes the connection to a conversation channel.
func (h *Hub) Join(c *Client, convID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	add(h.conversations, convID, c)
	c.channels[convID] = struct{}{}
}

// Leave unsubscribes the connection from a conversation channel.
func (h *Hub) Leave(c *Client, convID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remove(h.conversations, convID, c.ID)
	delete(c.channels, convID)
}

// EmitToUser queues evt for every connection of userID.
func (h *Hub) EmitToUser(userID string, evt model.Event) {
	h.enqueue(delivery{scope: scopeUser, key: userID, event: evt})
}

// EmitToConversation queues evt for every connection joined to convID except the one named by except.
func (h *Hub) EmitToConversation(convID, except string, evt model.Event) {
	h.enqueue(delivery{scope: scopeConversation, key: convID, except: except, event: evt})
}

// Broadcast queues evt for every connection.
func (h *Hub) Broadcast(evt model.Event) {
	h.enqueue(delivery{scope: scopeAll, event: evt})
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.publish <- d:
	default:
		metrics.RecordRealtimeEvent(string(d.event.Name), false)
		h.logger.Warn("hub queue full, event dropped", zap.String("event", string(d.event.Name)))
	}
}

func (h *Hub) deliver(d delivery) {
	for _, c := range h.targets(d) {
		metrics.RecordRealtimeEvent(string(d.event.Name), c.offer(d.event))
	}
}

// targets snapshots the recipients so no lock is held while offering events.
func (h *Hub) targets(d delivery) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var members map[string]*Client
	switch d.scope {
	case scopeUser:
		members = h.users[d.key]
	case scopeConversation:
		members = h.conversations[d.key]
	default:
		members = h.clients
	}

	out := make([]*Client, 0, len(members))
	for id, c := range members {
		if id != d.except {
			out = append(out, c)
		}
	}
	return out
}

func add(channels map[string]map[string]*Client, key string, c *Client) {
	members, ok := channels[key]
	if !ok {
		members = make(map[string]*Client)
		channels[key] = members
	}
	members[c.ID] = c
}

func remove(channels map[string]map[string]*Client, key, connID string) {
	members, ok := channels[key]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(channels, key)
	}
}
