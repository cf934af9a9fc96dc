package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-chat/internal/middleware"
	"github.com/capitalize-ai/realtime-chat/internal/model"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeMessage writes a JSON acknowledgement.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"message": message,
	})
}

// writeServiceError maps a service error to its HTTP status. Internal causes are
// logged and replaced by a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.WithRequest(middleware.GetCorrelationID(r.Context()), middleware.GetUserID(r.Context())).
			Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, model.ErrLastAdmin):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads an integer query parameter, falling back to def when it is absent
// or not a number. Range checks belong to the caller.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}
