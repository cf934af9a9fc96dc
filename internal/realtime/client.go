package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/capitalize-ai/realtime-chat/internal/model"
)

// Client is one authenticated realtime connection.
type Client struct {
	ID     string
	UserID string

	send chan model.Event
	done chan struct{}
	once sync.Once

	// channels is guarded by the hub's lock.
	channels map[string]struct{}
}

// NewClient creates a connection for userID with an outbound buffer of size buffer.
func NewClient(userID string, buffer int) *Client {
	return &Client{
		ID:       uuid.Must(uuid.NewV7()).String(),
		UserID:   userID,
		send:     make(chan model.Event, buffer),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
}

// Events returns the outbound queue.
func (c *Client) Events() <-chan model.Event {
	return c.send
}

// Done is closed once the connection has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// offer queues evt without blocking. It reports false when the event was dropped.
func (c *Client) offer(evt model.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}
