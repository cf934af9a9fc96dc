package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/realtime-chat/internal/auth"
	"github.com/capitalize-ai/realtime-chat/internal/middleware"
	"github.com/capitalize-ai/realtime-chat/pkg/logger"
)

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Groups        *GroupHandler
	Messages      *MessageHandler
	Realtime      *RealtimeHandler
}

// NewRouter builds the chi router. The websocket endpoint authenticates during the
// handshake itself because browsers cannot send headers on upgrade requests.
func NewRouter(cfg RouterConfig, verifier auth.Verifier, h Handlers, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", h.Realtime.Connect)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Post("/{otherUserId}", h.Conversations.CreateOrGetDirect)
			r.Get("/{id}", h.Conversations.Get)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.Groups.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", h.Groups.Rename)
				r.Post("/members", h.Groups.AddMembers)
				r.Delete("/members/{memberId}", h.Groups.RemoveMember)
				r.Post("/leave", h.Groups.Leave)
				r.Post("/admins/{memberId}", h.Groups.PromoteAdmin)
			})
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.Messages.Send)
			r.Get("/{conversationId}", h.Messages.List)
			r.Post("/{conversationId}/read", h.Messages.MarkRead)
			r.Post("/{messageId}/reactions", h.Messages.SetReaction)
			r.Delete("/{messageId}/reactions", h.Messages.ClearReaction)
		})
	})

	return r
}
