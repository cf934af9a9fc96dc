package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/realtime-chat/internal/middleware"
	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/internal/service"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// GroupHandler handles group management endpoints.
type GroupHandler struct {
	directory *service.Directory
	logger    *logger.Logger
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(directory *service.Directory, log *logger.Logger) *GroupHandler {
	return &GroupHandler{
		directory: directory,
		logger:    log,
	}
}

// Create handles POST /groups
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.CreateGroupRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	conv, err := h.directory.CreateGroup(ctx, middleware.GetUserID(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

// Rename handles PUT /groups/{id}
func (h *GroupHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.RenameGroupRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	conv, err := h.directory.RenameGroup(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// AddMembers handles POST /groups/{id}/members
func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.AddMembersRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	conv, err := h.directory.AddMembers(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"), req.Members)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// RemoveMember handles DELETE /groups/{id}/members/{memberId}
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conv, err := h.directory.RemoveMember(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"), chi.URLParam(r, "memberId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Leave handles POST /groups/{id}/leave
func (h *GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.directory.LeaveGroup(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeMessage(w, http.StatusOK, "Left group")
}

// PromoteAdmin handles POST /groups/{id}/admins/{memberId}
func (h *GroupHandler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conv, err := h.directory.PromoteAdmin(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "id"), chi.URLParam(r, "memberId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}
