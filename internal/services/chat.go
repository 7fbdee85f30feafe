package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"aiprojekt-backend/internal/logger"
	"aiprojekt-backend/internal/models"
	"aiprojekt-backend/internal/observability"
	"aiprojekt-backend/internal/repository"
)

type conversationStore interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error)
	Create(ctx context.Context, c *models.Conversation) error
	AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs ...*models.Message) error
	FindWithMessages(ctx context.Context, sessionID string) (*models.Conversation, error)
	DeleteBySessionID(ctx context.Context, sessionID string) (bool, error)
}

// Completer produces a model reply for a single user message.
type Completer interface {
	Complete(ctx context.Context, userText string) (string, error)
}

// TurnPublisher is notified after a user/assistant pair has been committed.
// PublishTurn runs on the request path and must return without waiting on
// subscribers.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, sessionID string, conversationID uuid.UUID, msgs []models.Message) error
}

type ChatService struct {
	repo      conversationStore
	completer Completer
	publisher TurnPublisher
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewChatService wires the service. publisher and metrics may be nil.
func NewChatService(repo conversationStore, completer Completer, publisher TurnPublisher, metrics *observability.Metrics) *ChatService {
	return &ChatService{
		repo:      repo,
		completer: completer,
		publisher: publisher,
		metrics:   metrics,
		now:       defaultNow,
	}
}

func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ProcessMessage runs one chat turn for sessionID: it finds or creates the
// session's conversation, asks the completer for a reply and stores the user
// and assistant messages together.
func (s *ChatService) ProcessMessage(ctx context.Context, sessionID, message string) (*models.ChatResult, error) {
	result, err := s.processMessage(ctx, sessionID, message)
	if err != nil {
		kind := KindOf(err)
		s.countTurn(kind.String())
		return nil, &Error{Kind: kind, Op: "failed to process message", Err: err}
	}
	s.countTurn("success")
	return result, nil
}

func (s *ChatService) processMessage(ctx context.Context, sessionID, message string) (*models.ChatResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &Error{Kind: KindValidation, Err: ErrBlankSessionID}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &Error{Kind: KindValidation, Err: ErrBlankMessage}
	}

	conv, err := s.findOrCreateConversation(ctx, sessionID)
	if err != nil {
		return nil, &Error{Kind: KindPersistence, Err: err}
	}

	userMsg := &models.Message{
		Content:   message,
		Role:      models.RoleUser,
		Timestamp: s.now(),
	}

	reply, err := s.complete(ctx, message)
	if err != nil {
		return nil, err
	}

	// The assistant entry must sort after the user entry even when both are
	// stamped within the same microsecond.
	replyAt := s.now()
	if !replyAt.After(userMsg.Timestamp) {
		replyAt = userMsg.Timestamp.Add(time.Microsecond)
	}
	assistantMsg := &models.Message{
		Content:   reply,
		Role:      models.RoleAssistant,
		Timestamp: replyAt,
	}

	if err := s.repo.AppendMessages(ctx, conv.ID, userMsg, assistantMsg); err != nil {
		return nil, &Error{Kind: KindPersistence, Err: err}
	}

	pair := []models.Message{*userMsg, *assistantMsg}
	s.publish(ctx, sessionID, conv.ID, pair)

	return &models.ChatResult{
		Response:       reply,
		ConversationID: conv.ID,
		Messages:       pair,
	}, nil
}

func (s *ChatService) findOrCreateConversation(ctx context.Context, sessionID string) (*models.Conversation, error) {
	conv, err := s.repo.FindBySessionID(ctx, sessionID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	conv = &models.Conversation{
		SessionID: sessionID,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, err
	}
	logger.L.Info("conversation created", "session_id", sessionID, "conversation_id", conv.ID)
	return conv, nil
}

func (s *ChatService) complete(ctx context.Context, message string) (string, error) {
	start := time.Now()
	reply, err := s.completer.Complete(ctx, message)
	if s.metrics != nil {
		s.metrics.ObserveCompletionLatency(time.Since(start))
	}
	if err != nil {
		if KindOf(err) == KindUnknown {
			err = &Error{Kind: KindUpstream, Err: err}
		}
		if s.metrics != nil {
			s.metrics.CompletionErrors.WithLabelValues(KindOf(err).String()).Inc()
		}
		return "", err
	}
	return reply, nil
}

func (s *ChatService) publish(ctx context.Context, sessionID string, conversationID uuid.UUID, msgs []models.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTurn(ctx, sessionID, conversationID, msgs); err != nil {
		logger.L.Warn("publish chat turn failed", "session_id", sessionID, "error", err)
	}
}

func (s *ChatService) countTurn(outcome string) {
	if s.metrics != nil {
		s.metrics.ChatTurns.WithLabelValues(outcome).Inc()
	}
}

// GetHistory returns the session's messages in ascending timestamp order.
// A session without a conversation has an empty history.
func (s *ChatService) GetHistory(ctx context.Context, sessionID string) ([]models.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &Error{Kind: KindValidation, Op: "failed to load history", Err: ErrBlankSessionID}
	}
	if s.metrics != nil {
		s.metrics.HistoryReads.Inc()
	}

	conv, err := s.repo.FindWithMessages(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, &Error{Kind: KindPersistence, Op: "failed to load history", Err: err}
	}
	if conv.Messages == nil {
		return []models.Message{}, nil
	}
	return conv.Messages, nil
}

// DeleteConversation removes the session's conversation together with its
// messages. It reports whether anything was deleted.
func (s *ChatService) DeleteConversation(ctx context.Context, sessionID string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, &Error{Kind: KindValidation, Op: "failed to delete conversation", Err: ErrBlankSessionID}
	}
	deleted, err := s.repo.DeleteBySessionID(ctx, sessionID)
	if err != nil {
		return false, &Error{Kind: KindPersistence, Op: "failed to delete conversation", Err: err}
	}
	if deleted {
		logger.L.Info("conversation deleted", "session_id", sessionID)
	}
	return deleted, nil
}
