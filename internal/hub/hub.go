// Package hub fans session status events out to WebSocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xiaot623/autoreply/internal/domain"
	"go.uber.org/zap"
)

const sendBuffer = 64

// Connection is one subscriber of a user's status stream.
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	mu     sync.Mutex
}

// userMessage is a payload addressed to every connection of a user.
type userMessage struct {
	UserID string
	Data   []byte
}

// Relay forwards events between instances. Publish must reach every
// instance, including the publishing one.
type Relay interface {
	Publish(ctx context.Context, data []byte) error
	Listen(ctx context.Context, deliver func(data []byte))
}

// Hub manages all WebSocket connections, indexed by user.
type Hub struct {
	connections map[string]*Connection
	users       map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan userMessage
	done       chan struct{}

	relay  Relay
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewHub creates a hub. relay may be nil for a single instance.
func NewHub(relay Relay, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		users:       make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan userMessage, 256),
		done:        make(chan struct{}),
		relay:       relay,
		logger:      logger.Named("hub"),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.relay != nil {
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			h.relay.Listen(ctx, h.deliverRelayed)
		}()
		defer func() { <-relayDone }()
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.users[conn.UserID] == nil {
				h.users[conn.UserID] = make(map[string]bool)
			}
			h.users[conn.UserID][conn.ID] = true
			h.mu.Unlock()
			h.logger.Debug("connection registered", zap.String("conn_id", conn.ID), zap.String("user_id", conn.UserID))

		case conn := <-h.unregister:
			h.remove(conn)
			h.logger.Debug("connection unregistered", zap.String("conn_id", conn.ID))

		case msg := <-h.broadcast:
			var slow []*Connection
			h.mu.RLock()
			for connID := range h.users[msg.UserID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.logger.Warn("connection buffer full, closing", zap.String("conn_id", conn.ID))
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if ids := h.users[conn.UserID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.users, conn.UserID)
		}
	}
	close(conn.Send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.connections {
		close(conn.Send)
		delete(h.connections, id)
	}
	h.users = make(map[string]map[string]bool)
}

// NewConnection wraps an upgraded socket for the given user.
func (h *Hub) NewConnection(ws *websocket.Conn, userID string) *Connection {
	return &Connection{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   ws,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Register registers a connection with the hub. It reports false once the hub stopped.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish delivers a status event to the user's subscribers on every instance.
func (h *Hub) Publish(evt domain.StatusEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal status event", zap.Error(err))
		return
	}

	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := h.relay.Publish(ctx, data)
		if err == nil {
			return
		}
		h.logger.Warn("relay publish failed, delivering locally", zap.Error(err))
	}
	h.Broadcast(evt.UserID, data)
}

// Broadcast queues data for the local connections of a user. Events are
// dropped when the hub is saturated or stopped.
func (h *Hub) Broadcast(userID string, data []byte) {
	select {
	case h.broadcast <- userMessage{UserID: userID, Data: data}:
	case <-h.done:
	default:
		h.logger.Warn("broadcast queue full, dropping event", zap.String("user_id", userID))
	}
}

func (h *Hub) deliverRelayed(data []byte) {
	var evt struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.UserID == "" {
		h.logger.Warn("dropping malformed relayed event", zap.Error(err))
		return
	}
	h.Broadcast(evt.UserID, data)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasSubscribers checks if a user has any active connections.
func (h *Hub) HasSubscribers(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
