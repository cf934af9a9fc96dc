package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

const writeWait = 10 * time.Second

// SessionConfig tunes a websocket session.
type SessionConfig struct {
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// Session pumps events between one websocket and the hub.
type Session struct {
	hub    *Hub
	client *Client
	conn   *websocket.Conn
	cfg    SessionConfig
	logger *logger.Logger
}

// NewSession binds an upgraded connection to a registered-to-be client.
func NewSession(hub *Hub, client *Client, conn *websocket.Conn, cfg SessionConfig, log *logger.Logger) *Session {
	return &Session{
		hub:    hub,
		client: client,
		conn:   conn,
		cfg:    cfg,
		logger: log.WithConnection(client.ID, client.UserID),
	}
}

// Run registers the client and serves the connection until either side closes it.
// The client is unregistered and the socket closed before Run returns.
func (s *Session) Run() {
	s.hub.Register(s.client)
	s.logger.Info("realtime connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.readPump()

	s.hub.Unregister(s.client)
	<-writerDone
	_ = s.conn.Close()
	s.logger.Info("realtime connection closed")
}

func (s *Session) pongWait() time.Duration {
	return 2 * s.cfg.PingInterval
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait()))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongWait()))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("realtime read failed", zap.Error(err))
			}
			return
		}
		s.handle(data)
	}
}

// handle applies one inbound frame. Unknown events and malformed ids are ignored.
func (s *Session) handle(data []byte) {
	var in model.InboundEvent
	if err := json.Unmarshal(data, &in); err != nil {
		s.client.offer(model.Event{
			Name: model.EventError,
			Data: model.ErrorEvent{Code: "bad_request", Message: "frame is not a valid event envelope"},
		})
		return
	}

	switch in.Name {
	case model.EventJoinConversation, model.EventLeaveConversation, model.EventTyping, model.EventStopTyping:
	default:
		s.logger.Debug("ignoring unknown realtime event", zap.String("event", string(in.Name)))
		return
	}

	convID := in.Data.ConversationID
	if _, err := uuid.Parse(convID); err != nil {
		s.logger.Debug("ignoring realtime event with malformed conversation id",
			zap.String("event", string(in.Name)),
			zap.String("conversation_id", convID),
		)
		return
	}

	switch in.Name {
	case model.EventJoinConversation:
		s.hub.Join(s.client, convID)
	case model.EventLeaveConversation:
		s.hub.Leave(s.client, convID)
	case model.EventTyping, model.EventStopTyping:
		s.hub.EmitToConversation(convID, s.client.ID, model.Event{
			Name: in.Name,
			Data: model.TypingPayload{ConversationID: convID, UserID: s.client.UserID},
		})
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case evt := <-s.client.Events():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(evt); err != nil {
				s.logger.Debug("realtime write failed", zap.Error(err))
				s.closeRead()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Debug("realtime ping failed", zap.Error(err))
				s.closeRead()
				return
			}
		case <-s.client.Done():
			err := s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("realtime close failed", zap.Error(err))
			}
			return
		}
	}
}

// closeRead unblocks the reader after a write failure.
func (s *Session) closeRead() {
	_ = s.conn.SetReadDeadline(time.Now())
}
