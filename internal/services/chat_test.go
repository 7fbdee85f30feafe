package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiprojekt-backend/internal/database"
	"aiprojekt-backend/internal/models"
	"aiprojekt-backend/internal/observability"
	"aiprojekt-backend/internal/repository"
)

type stubCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []string
}

func (s *stubCompleter) Complete(ctx context.Context, userText string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userText)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type recordedTurn struct {
	sessionID      string
	conversationID uuid.UUID
	msgs           []models.Message
}

type stubPublisher struct {
	turns []recordedTurn
	err   error
}

func (p *stubPublisher) PublishTurn(ctx context.Context, sessionID string, conversationID uuid.UUID, msgs []models.Message) error {
	p.turns = append(p.turns, recordedTurn{sessionID, conversationID, msgs})
	return p.err
}

// failingAppendRepo refuses to store messages.
type failingAppendRepo struct {
	*repository.SQLiteConversationRepo
}

func (f failingAppendRepo) AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs ...*models.Message) error {
	return errors.New("disk full")
}

func newTestRepo(t *testing.T) *repository.SQLiteConversationRepo {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewSQLiteConversationRepo(db)
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsWithRegistry(prometheus.NewRegistry(), "test")
}

func TestProcessMessage_CreatesConversationOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	completer := &stubCompleter{reply: "pong"}
	svc := NewChatService(repo, completer, nil, nil)

	first, err := svc.ProcessMessage(ctx, "s1", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", first.Response)

	second, err := svc.ProcessMessage(ctx, "s1", "ping again")
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	other, err := svc.ProcessMessage(ctx, "s2", "hello")
	require.NoError(t, err)
	assert.NotEqual(t, first.ConversationID, other.ConversationID)

	assert.Equal(t, []string{"ping", "ping again", "hello"}, completer.calls)
}

func TestProcessMessage_ConcurrentFirstMessagesShareConversation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	svc := NewChatService(repo, &stubCompleter{reply: "ok"}, nil, nil)

	const n = 6
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.ProcessMessage(ctx, "shared", "hi")
			if assert.NoError(t, err) {
				ids[i] = res.ConversationID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}

	history, err := svc.GetHistory(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, 2*n)
}

func TestProcessMessage_PersistsUserThenAssistant(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	svc := NewChatService(repo, &stubCompleter{reply: "svar"}, nil, nil)

	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.ProcessMessage(ctx, "s1", "  spørgsmål med æøå\nog linjeskift  ")
	require.NoError(t, err)

	history, err := svc.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "  spørgsmål med æøå\nog linjeskift  ", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "svar", history[1].Content)
	assert.True(t, history[1].Timestamp.After(history[0].Timestamp))
}

func TestProcessMessage_TestModeReply(t *testing.T) {
	repo := newTestRepo(t)
	client := NewCompletionClient(CompletionConfig{URL: "http://127.0.0.1:0", APIKey: TestModeAPIKey}, nil)
	svc := NewChatService(repo, client, nil, nil)

	res, err := svc.ProcessMessage(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Mock svar (test mode)", res.Response)
	assert.NotEqual(t, uuid.Nil, res.ConversationID)
}

func TestProcessMessage_CompletionFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	metrics := newTestMetrics()
	completer := &stubCompleter{err: &Error{Kind: KindFormat, Err: ErrUnknownFormat}}
	svc := NewChatService(repo, completer, nil, metrics)

	_, err := svc.ProcessMessage(ctx, "s1", "hi")
	require.Error(t, err)
	assert.Equal(t, KindFormat, KindOf(err))
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Contains(t, err.Error(), "failed to process message")

	history, err := svc.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChatTurns.WithLabelValues("format")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CompletionErrors.WithLabelValues("format")))
}

func TestProcessMessage_UnclassifiedCompleterErrorIsUpstream(t *testing.T) {
	svc := NewChatService(newTestRepo(t), &stubCompleter{err: errors.New("boom")}, nil, nil)

	_, err := svc.ProcessMessage(context.Background(), "s1", "hi")
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestProcessMessage_PersistenceFailure(t *testing.T) {
	repo := failingAppendRepo{newTestRepo(t)}
	publisher := &stubPublisher{}
	svc := NewChatService(repo, &stubCompleter{reply: "ok"}, publisher, nil)

	_, err := svc.ProcessMessage(context.Background(), "s1", "hi")
	require.Error(t, err)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, publisher.turns, "nothing is published for an uncommitted turn")
}

func TestProcessMessage_RejectsBlankInput(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	svc := NewChatService(newTestRepo(t), completer, nil, nil)

	_, err := svc.ProcessMessage(context.Background(), "  ", "hi")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, ErrBlankSessionID)

	_, err = svc.ProcessMessage(context.Background(), "s1", "\t")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, ErrBlankMessage)

	assert.Empty(t, completer.calls)
}

func TestProcessMessage_PublishesCommittedTurn(t *testing.T) {
	publisher := &stubPublisher{err: errors.New("redis down")}
	metrics := newTestMetrics()
	svc := NewChatService(newTestRepo(t), &stubCompleter{reply: "pong"}, publisher, metrics)

	res, err := svc.ProcessMessage(context.Background(), "s1", "ping")
	require.NoError(t, err, "publish failures do not fail the turn")

	require.Len(t, publisher.turns, 1)
	turn := publisher.turns[0]
	assert.Equal(t, "s1", turn.sessionID)
	assert.Equal(t, res.ConversationID, turn.conversationID)
	require.Len(t, turn.msgs, 2)
	assert.Equal(t, "ping", turn.msgs[0].Content)
	assert.Equal(t, "pong", turn.msgs[1].Content)
	assert.NotEqual(t, uuid.Nil, turn.msgs[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChatTurns.WithLabelValues("success")))
}

func TestGetHistory_UnknownSessionIsEmpty(t *testing.T) {
	svc := NewChatService(newTestRepo(t), &stubCompleter{}, nil, nil)

	history, err := svc.GetHistory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestGetHistory_OrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	conv := &models.Conversation{SessionID: "s1", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(ctx, conv))

	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendMessages(ctx, conv.ID,
		&models.Message{Content: "third", Role: models.RoleUser, Timestamp: base.Add(3 * time.Second)},
		&models.Message{Content: "first", Role: models.RoleUser, Timestamp: base.Add(1 * time.Second)},
	))
	require.NoError(t, repo.AppendMessages(ctx, conv.ID,
		&models.Message{Content: "second", Role: models.RoleAssistant, Timestamp: base.Add(2 * time.Second)},
	))

	svc := NewChatService(repo, &stubCompleter{}, nil, nil)
	history, err := svc.GetHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{history[0].Content, history[1].Content, history[2].Content})
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	svc := NewChatService(newTestRepo(t), &stubCompleter{reply: "ok"}, nil, nil)

	_, err := svc.ProcessMessage(ctx, "s1", "hi")
	require.NoError(t, err)

	deleted, err := svc.DeleteConversation(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	history, err := svc.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, history)

	deleted, err = svc.DeleteConversation(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "upstream", KindUpstream.String())
	assert.Equal(t, "format", KindFormat.String())
	assert.Equal(t, "persistence", KindPersistence.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}
