// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/realtime-chat/internal/middleware"
	"github.com/capitalize-ai/realtime-chat/internal/service"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	directory *service.Directory
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(directory *service.Directory, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		directory: directory,
		logger:    log,
	}
}

// CreateOrGetDirect handles POST /conversations/{otherUserId}
func (h *ConversationHandler) CreateOrGetDirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	conv, err := h.directory.CreateOrGetDirect(ctx, userID, chi.URLParam(r, "otherUserId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// List handles GET /conversations. The body is a bare array, most recently active first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	views, err := h.directory.ListForUser(ctx, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	view, err := h.directory.Get(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
