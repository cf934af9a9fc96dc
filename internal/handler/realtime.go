package handler

import (
	"net/http"

	"github.com/fasthttp/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/auth"
	"github.com/capitalize-ai/realtime-chat/internal/realtime"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// RealtimeConfig tunes accepted websocket connections.
type RealtimeConfig struct {
	AllowedOrigins []string
	SendBuffer     int
	Session        realtime.SessionConfig
}

// RealtimeHandler upgrades authenticated requests to websocket sessions.
type RealtimeHandler struct {
	hub      *realtime.Hub
	verifier auth.Verifier
	cfg      RealtimeConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewRealtimeHandler creates a new realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, verifier auth.Verifier, cfg RealtimeConfig, log *logger.Logger) *RealtimeHandler {
	h := &RealtimeHandler{
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
		logger:   log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Connect handles GET /ws
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	token, err := auth.FromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing credential")
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := realtime.NewClient(userID, h.cfg.SendBuffer)
	realtime.NewSession(h.hub, client, conn, h.cfg.Session, h.logger).Run()
}

// checkOrigin accepts non-browser clients and the configured browser origins.
func (h *RealtimeHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return lo.Contains(h.cfg.AllowedOrigins, "*") || lo.Contains(h.cfg.AllowedOrigins, origin)
}
