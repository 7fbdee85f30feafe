package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// Redis (optional)
	RedisURL string

	// Completion API
	CompletionAPIURL  string
	CompletionAPIKey  string
	CompletionModel   string
	CompletionTimeout time.Duration

	// Presentation
	DisplayLocation *time.Location

	// HTTP
	CORSAllowedOrigins []string
	ChatRateLimit      int
	StaticDir          string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		Env:                getEnvOrDefault("ENV", "development"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "sqlite:chat.db"),
		MigrationsDir:      getEnvOrDefault("MIGRATIONS_DIR", "migrations"),
		RedisURL:           getEnvOrDefault("REDIS_URL", ""),
		CompletionAPIURL:   getEnvOrDefault("COMPLETION_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		CompletionAPIKey:   mustGetEnv("COMPLETION_API_KEY"),
		CompletionModel:    getEnvOrDefault("COMPLETION_MODEL", "openai/gpt-4o-mini"),
		CompletionTimeout:  getEnvAsDurationOrDefault("COMPLETION_TIMEOUT", 90*time.Second),
		DisplayLocation:    mustLoadLocation(getEnvOrDefault("DISPLAY_TIMEZONE", "Europe/Copenhagen")),
		CORSAllowedOrigins: getEnvAsListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ChatRateLimit:      getEnvAsIntOrDefault("CHAT_RATE_LIMIT", 30),
		StaticDir:          getEnvOrDefault("STATIC_DIR", ""),
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("invalid DISPLAY_TIMEZONE %q: %v", name, err))
	}
	return loc
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsDurationOrDefault accepts Go duration strings ("45s") and bare
// integers, which are read as seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvAsListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
