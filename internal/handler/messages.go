package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/realtime-chat/internal/guard"
	"github.com/capitalize-ai/realtime-chat/internal/middleware"
	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/internal/service"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messages *service.Log
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *service.Log, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		logger:   log,
	}
}

// List handles GET /messages/{conversationId}?page&limit
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", guard.DefaultPageLimit)

	resp, err := h.messages.Page(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "conversationId"), page, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	msg, err := h.messages.Append(ctx, middleware.GetUserID(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /messages/{conversationId}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.messages.MarkRead(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "conversationId")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeMessage(w, http.StatusOK, "Marked as read")
}

// SetReaction handles POST /messages/{messageId}/reactions
func (h *MessageHandler) SetReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ReactionRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	reactions, err := h.messages.SetReaction(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "messageId"), req.Emoji)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ReactionsResponse{Message: "Reaction updated", Reactions: reactions})
}

// ClearReaction handles DELETE /messages/{messageId}/reactions
func (h *MessageHandler) ClearReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reactions, err := h.messages.ClearReaction(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, model.ReactionsResponse{Message: "Reaction removed", Reactions: reactions})
}
