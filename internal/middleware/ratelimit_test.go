package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiprojekt-backend/internal/models"
)

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiter_BlocksAfterLimit(t *testing.T) {
	counter := NewMemoryCounter(time.Minute)
	t.Cleanup(counter.Stop)
	rl := NewRateLimiter(counter, 2, time.Minute, time.UTC)
	h := rl.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:2222").Code, "port is not part of the key")

	rr := doRequest(h, "10.0.0.1:3333")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.NotEmpty(t, body.Error)
	assert.NotEmpty(t, body.Timestamp)

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:1111").Code, "other clients are unaffected")
}

func TestMemoryCounter_WindowResets(t *testing.T) {
	c := NewMemoryCounter(time.Minute)
	t.Cleanup(c.Stop)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	n, _ := c.Incr(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
	n, _ = c.Incr(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(2), n)

	now = now.Add(time.Minute)
	n, _ = c.Incr(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rl := NewRateLimiter(brokenCounter{}, 1, time.Minute, time.UTC)
	h := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:1").Code)
	}
}

func TestRateLimiter_DisabledWithZeroLimit(t *testing.T) {
	rl := NewRateLimiter(brokenCounter{}, 0, time.Minute, time.UTC)
	assert.Equal(t, http.StatusOK, doRequest(rl.Middleware(okHandler()), "10.0.0.1:1").Code)
}

func TestRateLimiter_IgnoresForwardingHeaders(t *testing.T) {
	counter := NewMemoryCounter(time.Minute)
	t.Cleanup(counter.Stop)
	rl := NewRateLimiter(counter, 2, time.Minute, time.UTC)
	h := PeerAddr(chimiddleware.RealIP(rl.Middleware(okHandler())))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "10.0.0.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestMemoryCounter_Stop(t *testing.T) {
	c := NewMemoryCounter(10 * time.Millisecond)
	c.Stop()
	c.Stop()

	n, err := c.Incr(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "counting still works after the cleanup loop has ended")
}
