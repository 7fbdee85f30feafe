package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"aiprojekt-backend/internal/config"
	"aiprojekt-backend/internal/database"
	"aiprojekt-backend/internal/handlers"
	"aiprojekt-backend/internal/logger"
	"aiprojekt-backend/internal/middleware"
	"aiprojekt-backend/internal/models"
	"aiprojekt-backend/internal/observability"
	"aiprojekt-backend/internal/repository"
	"aiprojekt-backend/internal/router"
	"aiprojekt-backend/internal/services"
	"aiprojekt-backend/internal/websocket"
)

// store is what the service and the readiness probe need from either backend.
type store interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error)
	Create(ctx context.Context, c *models.Conversation) error
	AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs ...*models.Message) error
	FindWithMessages(ctx context.Context, sessionID string) (*models.Conversation, error)
	DeleteBySessionID(ctx context.Context, sessionID string) (bool, error)
	Ping(ctx context.Context) error
}

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.L.Info("starting chat backend", "env", cfg.Env, "port", cfg.Port)

	// ──── Step 2: Open the Conversation Store ────
	repo, closeStore, err := openStore(cfg)
	if err != nil {
		fatal("store initialization failed", err)
	}
	defer closeStore()

	// ──── Step 3: Initialize Redis Clients (optional) ────
	var (
		pubsub  *redis.Client
		counter middleware.Counter
	)
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			fatal("redis connection failed", err)
		}
		defer redisClients.Close()
		pubsub = redisClients.PubSub
		counter = middleware.NewRedisCounter(redisClients.Limiter, "ratelimit:chat:")
		logger.L.Info("redis connected")
	} else {
		memCounter := middleware.NewMemoryCounter(time.Minute)
		defer memCounter.Stop()
		counter = memCounter
		logger.L.Info("redis not configured, using in-process rate limiting and websocket fan-out")
	}

	// ──── Step 4: Initialize Completion Client ────
	metrics := observability.NewMetrics("chat_relay")
	completion := services.NewCompletionClient(services.CompletionConfig{
		URL:     cfg.CompletionAPIURL,
		APIKey:  cfg.CompletionAPIKey,
		Model:   cfg.CompletionModel,
		Timeout: cfg.CompletionTimeout,
	}, nil)
	if completion.TestMode() {
		logger.L.Warn("completion client in test mode, replies are mocked")
	}

	// ──── Step 5: Initialize Services and Handlers ────
	wsHub := websocket.NewHub(pubsub, cfg.DisplayLocation, metrics)
	chatService := services.NewChatService(repo, completion, wsHub, metrics)
	chatHandler := handlers.NewChatHandler(chatService, cfg.DisplayLocation)
	readyHandler := handlers.NewReadyHandler(repo, cfg.DisplayLocation)
	chatLimiter := middleware.NewRateLimiter(counter, cfg.ChatRateLimit, time.Minute, cfg.DisplayLocation)

	// ──── Step 6: Start HTTP Server ────
	r := router.New(chatHandler, readyHandler, wsHub, chatLimiter, cfg.CORSAllowedOrigins, cfg.StaticDir)
	if cfg.StaticDir != "" {
		logger.L.Info("serving static files", "dir", cfg.StaticDir)
	}

	// Completion calls may take up to COMPLETION_TIMEOUT.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CompletionTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.CompletionTimeout <= 0 {
		server.WriteTimeout = 0
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.L.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.L.Info("chat backend ready",
		"api", fmt.Sprintf("http://localhost:%s/api/chat", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/api/chat/{sessionId}/ws", cfg.Port),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		fatal("server error", err)
	}
}

// openStore selects PostgreSQL for postgres:// URLs and the embedded SQLite
// file otherwise.
func openStore(cfg *config.Config) (store, func(), error) {
	if database.IsPostgresURL(cfg.DatabaseURL) {
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection: %w", err)
		}
		if err := database.RunMigrations(pool, os.DirFS(cfg.MigrationsDir)); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database migration: %w", err)
		}
		logger.L.Info("postgres connected, migrations applied")
		return repository.NewConversationRepo(pool), pool.Close, nil
	}

	path, ok := database.SQLitePath(cfg.DatabaseURL)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported DATABASE_URL %q", cfg.DatabaseURL)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	logger.L.Info("sqlite opened", "path", path)
	return repository.NewSQLiteConversationRepo(db), func() { db.Close() }, nil
}

func fatal(msg string, err error) {
	logger.L.Error(msg, "error", err)
	os.Exit(1)
}
