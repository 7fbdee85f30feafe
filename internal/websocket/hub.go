package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"aiprojekt-backend/internal/logger"
	"aiprojekt-backend/internal/models"
	"aiprojekt-backend/internal/observability"
)

const (
	turnMessageType = "chat_turn"
	writeWait       = 10 * time.Second
	sendBuffer      = 16
	publishTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client owns one socket. Only its writePump writes to conn.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.L.Debug("websocket write failed", "error", err)
				c.close()
				return
			}
		}
	}
}

// Hub pushes committed chat turns to websocket clients watching a session.
// With a Redis client, turns travel over pub/sub so every instance sees them;
// without one, delivery is local to this process. Publishing never waits on a
// socket: each client has a bounded queue and is dropped when it falls behind.
type Hub struct {
	mu          sync.Mutex
	connections map[string][]*client
	redisClient *redis.Client
	cancelFuncs map[string]context.CancelFunc
	location    *time.Location
	metrics     *observability.Metrics
}

// NewHub builds a hub. redisClient and metrics may be nil; loc is the zone
// used to render message timestamps.
func NewHub(redisClient *redis.Client, loc *time.Location, metrics *observability.Metrics) *Hub {
	return &Hub{
		connections: make(map[string][]*client),
		redisClient: redisClient,
		cancelFuncs: make(map[string]context.CancelFunc),
		location:    loc,
		metrics:     metrics,
	}
}

func channelName(sessionID string) string {
	return "chat_turns:" + sessionID
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if strings.TrimSpace(sessionID) == "" {
		http.Error(w, "sessionId must not be blank", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	c := newClient(conn)
	h.registerConnection(sessionID, c)
	go c.writePump()

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(sessionID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (h *Hub) registerConnection(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], c)

	// Start pub/sub subscription if this is the first connection for this session
	if h.redisClient != nil && len(h.connections[sessionID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[sessionID] = cancel
		go h.subscribeToPubSub(ctx, sessionID)
	}

	if h.metrics != nil {
		h.metrics.LiveConnections.Inc()
	}
	logger.L.Debug("websocket connected", "session_id", sessionID, "total", len(h.connections[sessionID]))
}

func (h *Hub) unregisterConnection(sessionID string, c *client) {
	c.close()

	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.connections[sessionID]
	for i, existing := range conns {
		if existing == c {
			h.connections[sessionID] = append(conns[:i:i], conns[i+1:]...)
			if h.metrics != nil {
				h.metrics.LiveConnections.Dec()
			}
			break
		}
	}

	// If no more connections, cancel pub/sub
	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if cancel, ok := h.cancelFuncs[sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, sessionID)
		}
	}

	logger.L.Debug("websocket disconnected", "session_id", sessionID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, sessionID string) {
	pubsub := h.redisClient.Subscribe(ctx, channelName(sessionID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

// broadcast queues data for every connection of the session. A client whose
// queue is full is closed; its read loop then unregisters it.
func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.Lock()
	clients := append([]*client(nil), h.connections[sessionID]...)
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			logger.L.Warn("websocket client too slow, dropping", "session_id", sessionID)
			c.close()
		}
	}
}

// PublishTurn announces a committed user/assistant pair to subscribers of
// the session. It returns once the turn is queued; the Redis publish runs in
// the background with its own deadline.
func (h *Hub) PublishTurn(ctx context.Context, sessionID string, conversationID uuid.UUID, msgs []models.Message) error {
	data, err := json.Marshal(models.WSMessage{
		Type: turnMessageType,
		Payload: models.TurnEvent{
			SessionID:      sessionID,
			ConversationID: conversationID,
			Messages:       models.NewMessageDTOs(msgs, h.location),
		},
	})
	if err != nil {
		return err
	}

	if h.redisClient != nil {
		go func() {
			pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
			defer cancel()
			if err := h.redisClient.Publish(pubCtx, channelName(sessionID), string(data)).Err(); err != nil {
				logger.L.Warn("publish chat turn failed", "session_id", sessionID, "error", err)
			}
		}()
		return nil
	}
	h.broadcast(sessionID, data)
	return nil
}

// ConnectionCount reports how many clients watch sessionID.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections[sessionID])
}
