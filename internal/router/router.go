package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"aiprojekt-backend/internal/handlers"
	"aiprojekt-backend/internal/middleware"
	"aiprojekt-backend/internal/observability"
	"aiprojekt-backend/internal/websocket"
)

func New(
	chatHandler *handlers.ChatHandler,
	readyHandler *handlers.ReadyHandler,
	wsHub *websocket.Hub,
	chatLimiter *middleware.RateLimiter,
	allowedOrigins []string,
	staticDir string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.PeerAddr)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-Id"},
	}).Handler)

	r.Get("/readyz", readyHandler.Ready)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/api/chat", func(r chi.Router) {
		r.With(chatLimiter.Middleware).Post("/", chatHandler.SendMessage)
		r.Get("/health", chatHandler.Health)
		r.Get("/{sessionId}", chatHandler.GetHistory)
		r.Delete("/{sessionId}", chatHandler.DeleteHistory)
		r.Get("/{sessionId}/ws", wsHub.HandleWebSocket)
	})

	// Optional browser UI served from the same origin as the API.
	if staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(staticDir)))
	}

	return r
}
