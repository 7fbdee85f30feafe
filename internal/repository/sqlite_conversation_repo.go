package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aiprojekt-backend/internal/models"
)

// SQLiteConversationRepo is the embedded counterpart of ConversationRepo.
// Instants are stored as Unix microseconds so ordering is exact.
type SQLiteConversationRepo struct {
	db *sql.DB
}

func NewSQLiteConversationRepo(db *sql.DB) *SQLiteConversationRepo {
	return &SQLiteConversationRepo{db: db}
}

func (r *SQLiteConversationRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Conversation, error) {
	c := &models.Conversation{}
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, created_at FROM conversations WHERE session_id = ?`, sessionID,
	).Scan(&c.ID, &c.SessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	c.CreatedAt = fromMicros(createdAt)
	return c, nil
}

func (r *SQLiteConversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO conversations (id, session_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET session_id = excluded.session_id
		 RETURNING id, created_at`,
		uuid.New().String(), c.SessionID, c.CreatedAt.UnixMicro(),
	).Scan(&c.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	c.CreatedAt = fromMicros(createdAt)
	return nil
}

func (r *SQLiteConversationRepo) AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs ...*models.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, m := range msgs {
		m.ID = uuid.New()
		m.ConversationID = conversationID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, content, role, sent_at) VALUES (?, ?, ?, ?, ?)`,
			m.ID.String(), conversationID.String(), m.Content, string(m.Role), m.Timestamp.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("insert %s message: %w", m.Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (r *SQLiteConversationRepo) FindMessagesByConversationID(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, content, role, sent_at
		 FROM messages WHERE conversation_id = ? ORDER BY sent_at ASC, seq ASC`,
		conversationID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m      models.Message
			role   string
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &role, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = models.Role(role)
		m.Timestamp = fromMicros(sentAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return msgs, nil
}

func (r *SQLiteConversationRepo) FindWithMessages(ctx context.Context, sessionID string) (*models.Conversation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.session_id, c.created_at, m.id, m.content, m.role, m.sent_at
		 FROM conversations c
		 LEFT JOIN messages m ON m.conversation_id = c.id
		 WHERE c.session_id = ?
		 ORDER BY m.sent_at ASC, m.seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	defer rows.Close()

	var conv *models.Conversation
	for rows.Next() {
		var (
			c         models.Conversation
			createdAt int64
			msgID     sql.NullString
			content   sql.NullString
			role      sql.NullString
			sentAt    sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &createdAt, &msgID, &content, &role, &sentAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		if conv == nil {
			c.CreatedAt = fromMicros(createdAt)
			c.Messages = []models.Message{}
			conv = &c
		}
		if !msgID.Valid {
			continue
		}
		id, err := uuid.Parse(msgID.String)
		if err != nil {
			return nil, fmt.Errorf("parse message id: %w", err)
		}
		conv.Messages = append(conv.Messages, models.Message{
			ID:             id,
			ConversationID: conv.ID,
			Content:        content.String,
			Role:           models.Role(role.String),
			Timestamp:      fromMicros(sentAt.Int64),
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

func (r *SQLiteConversationRepo) DeleteBySessionID(ctx context.Context, sessionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteConversationRepo) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE session_id = ?)`, sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

func (r *SQLiteConversationRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
