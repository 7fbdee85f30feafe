package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aiprojekt-backend/internal/models"
)

// ConversationRepo stores conversations and their messages in PostgreSQL.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, created_at FROM conversations WHERE session_id = $1`, sessionID,
	).Scan(&c.ID, &c.SessionID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// Create inserts c, or adopts the existing row if another request created a
// conversation for the same session first. c.ID and c.CreatedAt always hold
// the stored values afterwards.
func (r *ConversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO conversations (id, session_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET session_id = EXCLUDED.session_id
		RETURNING id, created_at`

	if err := r.pool.QueryRow(ctx, query, uuid.New(), c.SessionID, c.CreatedAt).Scan(&c.ID, &c.CreatedAt); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return nil
}

// AppendMessages writes msgs in one transaction; either all rows become
// visible or none do.
func (r *ConversationRepo) AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs ...*models.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range msgs {
		m.ID = uuid.New()
		m.ConversationID = conversationID
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, content, role, sent_at) VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.ConversationID, m.Content, string(m.Role), m.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert %s message: %w", m.Role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (r *ConversationRepo) FindMessagesByConversationID(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, content, role, sent_at
		 FROM messages WHERE conversation_id = $1 ORDER BY sent_at ASC, seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &role, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = models.Role(role)
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

// FindWithMessages loads the session's conversation and its messages with a
// single join, messages ordered ascending.
func (r *ConversationRepo) FindWithMessages(ctx context.Context, sessionID string) (*models.Conversation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.session_id, c.created_at, m.id, m.content, m.role, m.sent_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.session_id = $1
		 ORDER BY m.sent_at ASC NULLS FIRST, m.seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var conv *models.Conversation
	for rows.Next() {
		var (
			c       models.Conversation
			msgID   *uuid.UUID
			content *string
			role    *string
			sentAt  *time.Time
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.CreatedAt, &msgID, &content, &role, &sentAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if conv == nil {
			c.CreatedAt = c.CreatedAt.UTC()
			c.Messages = []models.Message{}
			conv = &c
		}
		if msgID == nil {
			continue
		}
		conv.Messages = append(conv.Messages, models.Message{
			ID:             *msgID,
			ConversationID: conv.ID,
			Content:        *content,
			Role:           models.Role(*role),
			Timestamp:      sentAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

// DeleteBySessionID removes the conversation; its messages go with it through
// the ON DELETE CASCADE constraint.
func (r *ConversationRepo) DeleteBySessionID(ctx context.Context, sessionID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepo) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE session_id = $1)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
