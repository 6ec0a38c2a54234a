package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/agentwatch/internal/middleware"
	natsclient "github.com/capitalize-ai/agentwatch/internal/nats"
	"github.com/capitalize-ai/agentwatch/internal/service"
	"github.com/capitalize-ai/agentwatch/pkg/logger"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Registry *service.Registry
	Hub      *service.Hub
	// NATSClient and Replayer are nil when the event stream is disabled.
	NATSClient *natsclient.Client
	Replayer   Replayer

	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Logger *logger.Logger
}

// NewRouter builds the chi router with every route.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	healthHandler := NewHealthHandler(cfg.Registry, cfg.NATSClient)
	chatbotHandler := NewChatbotHandler(cfg.Registry, log.Named("chatbots"))
	proxyHandler := NewProxyHandler(cfg.Registry, log.Named("proxy"))
	trackingHandler := NewTrackingHandler(cfg.Registry, log.Named("tracking"))
	streamHandler := NewStreamHandler(cfg.Hub, cfg.Replayer, log.Named("stream"))

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log.Named("http")))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	limited := func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
	}

	r.Group(func(r chi.Router) {
		limited(r)
		r.Post("/v1/chat/completions", proxyHandler.ChatCompletions)
		r.Get("/v1/models", proxyHandler.Models)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.APIHealth)
		r.Get("/events/stream", streamHandler.Stream)

		r.Group(func(r chi.Router) {
			limited(r)

			r.Post("/proxy/chat", proxyHandler.Chat)
			r.Post("/test-message", proxyHandler.TestMessage)

			r.Get("/dashboard", trackingHandler.Dashboard)
			r.Get("/sessions", trackingHandler.Sessions)
			r.Get("/sessions/{sessionId}", trackingHandler.Session)
			r.Get("/conversations", trackingHandler.Conversations)
			r.Get("/conversations/{sessionId}", trackingHandler.Conversation)
			r.Get("/users", trackingHandler.Users)
			r.Get("/users/{userId}", trackingHandler.User)
			r.Get("/providers/{provider}", trackingHandler.Provider)
			r.Get("/events/realtime", trackingHandler.Realtime)

			r.Get("/chatbots", chatbotHandler.List)
			r.Get("/chatbots/{id}/dashboard", trackingHandler.Dashboard)
			r.Get("/chatbots/{id}/sessions", trackingHandler.Sessions)
			r.Get("/chatbots/{id}/conversations", trackingHandler.Conversations)
			r.Get("/chatbots/{id}/conversations/{sessionId}", trackingHandler.Conversation)

			// Admin routes.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWTSecret))
				r.Use(middleware.RequireScope("admin"))

				r.Post("/chatbots", chatbotHandler.Create)
				r.Put("/chatbots/{id}", chatbotHandler.Update)
				r.Delete("/chatbots/{id}", chatbotHandler.Delete)
				r.Delete("/sessions/{sessionId}", trackingHandler.DeleteSession)
				r.Delete("/users/{userId}", trackingHandler.DeleteUser)
			})
		})
	})

	return r
}
