package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	natsclient "github.com/capitalize-ai/realtime-chat/internal/nats"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// Pinger reports whether a dependency is usable.
type Pinger interface {
	IsOpen() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store      Pinger
	natsClient *natsclient.Client
	journal    *natsclient.Journal
	logger     *logger.Logger
}

// NewHealthHandler creates a new health handler. natsClient and journal are nil when
// the event journal is disabled.
func NewHealthHandler(store Pinger, natsClient *natsclient.Client, journal *natsclient.Journal, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		store:      store,
		natsClient: natsClient,
		journal:    journal,
		logger:     log,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store == nil || !h.store.IsOpen() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store not open",
		})
		return
	}

	if h.natsClient != nil {
		if !h.natsClient.IsConnected() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "NATS not connected",
			})
			return
		}
		if h.journal != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := h.journal.RecordStats(ctx); err != nil {
				h.logger.Warn("journal stats unavailable", zap.Error(err))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
