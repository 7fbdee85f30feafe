package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envValue)
			assert.Equal(t, tc.expected, getEnvOrDefault(tc.key, tc.defaultVal))
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envValue)
			assert.Equal(t, tc.expected, getEnvAsIntOrDefault(tc.key, tc.defaultVal))
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected time.Duration
	}{
		{"duration string", "45s", 45 * time.Second},
		{"bare seconds", "12", 12 * time.Second},
		{"zero disables", "0", 0},
		{"invalid falls back", "soon", time.Minute},
		{"empty falls back", "", time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tc.envValue)
			assert.Equal(t, tc.expected, getEnvAsDurationOrDefault("TEST_DURATION", time.Minute))
		})
	}
}

func TestGetEnvAsListOrDefault(t *testing.T) {
	t.Setenv("TEST_LIST", " http://a.test , ,http://b.test")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, getEnvAsListOrDefault("TEST_LIST", []string{"*"}))

	t.Setenv("TEST_LIST", " , ")
	assert.Equal(t, []string{"*"}, getEnvAsListOrDefault("TEST_LIST", []string{"*"}))
}

func TestMustGetEnv_Panics(t *testing.T) {
	t.Setenv("NONEXISTENT_REQUIRED_VAR", "")
	assert.Panics(t, func() { mustGetEnv("NONEXISTENT_REQUIRED_VAR") })
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	t.Setenv("TEST_REQUIRED", "value123")
	assert.Equal(t, "value123", mustGetEnv("TEST_REQUIRED"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COMPLETION_API_KEY", "test-key-for-debugging")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DISPLAY_TIMEZONE", "")
	t.Setenv("COMPLETION_TIMEOUT", "")
	t.Setenv("CHAT_RATE_LIMIT", "")
	t.Setenv("STATIC_DIR", "")

	cfg := Load()
	require.NotNil(t, cfg)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite:chat.db", cfg.DatabaseURL)
	assert.Equal(t, "Europe/Copenhagen", cfg.DisplayLocation.String())
	assert.Equal(t, 90*time.Second, cfg.CompletionTimeout)
	assert.Equal(t, 30, cfg.ChatRateLimit)
	assert.Empty(t, cfg.StaticDir)
}

func TestLoad_InvalidTimezonePanics(t *testing.T) {
	t.Setenv("COMPLETION_API_KEY", "k")
	t.Setenv("DISPLAY_TIMEZONE", "Mars/Olympus_Mons")
	assert.Panics(t, func() { Load() })
}
