package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aiprojekt-backend/internal/logger"
	"aiprojekt-backend/internal/models"
	"aiprojekt-backend/internal/services"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "OpenRouter Chat Backend"

type chatService interface {
	ProcessMessage(ctx context.Context, sessionID, message string) (*models.ChatResult, error)
	GetHistory(ctx context.Context, sessionID string) ([]models.Message, error)
	DeleteConversation(ctx context.Context, sessionID string) (bool, error)
}

type ChatHandler struct {
	chatService chatService
	location    *time.Location
}

// NewChatHandler builds the chat endpoints. loc is the zone timestamps are
// rendered in.
func NewChatHandler(chatService chatService, loc *time.Location) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		location:    loc,
	}
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("Invalid request body", h.location))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp(services.ErrBlankMessage.Error(), h.location))
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp(services.ErrBlankSessionID.Error(), h.location))
		return
	}

	result, err := h.chatService.ProcessMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		handleServiceError(w, r, err, h.location)
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{
		Response:       result.Response,
		ConversationID: result.ConversationID,
	})
}

func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if strings.TrimSpace(sessionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp(services.ErrBlankSessionID.Error(), h.location))
		return
	}

	messages, err := h.chatService.GetHistory(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err, h.location)
		return
	}

	logger.L.Info("history loaded", "session_id", sessionID, "count", len(messages))

	dtos := models.NewMessageDTOs(messages, h.location)
	writeJSON(w, http.StatusOK, models.HistoryResponse{
		SessionID:    sessionID,
		Messages:     dtos,
		MessageCount: len(dtos),
	})
}

func (h *ChatHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if strings.TrimSpace(sessionID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp(services.ErrBlankSessionID.Error(), h.location))
		return
	}

	deleted, err := h.chatService.DeleteConversation(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, r, err, h.location)
		return
	}

	writeJSON(w, http.StatusOK, models.DeleteResponse{SessionID: sessionID, Deleted: deleted})
}

func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy", Service: ServiceName})
}
