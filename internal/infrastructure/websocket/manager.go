package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"gigchat/pkg/logger"
)

// Client is one authenticated websocket connection consuming the engine's
// live streams. Its send queue is closed exactly once, under the client
// mutex, so an emit racing a disconnect or reconnect can never hit a closed
// channel.
type Client struct {
	UserID string
	Conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		send:   make(chan []byte, 256),
	}
}

// trySend queues a frame. It reports false when the client is closed or its
// buffer is full; the frame is dropped either way.
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// closeSend shuts the queue down. Idempotent; concurrent trySend calls see
// the closed flag before the channel closes.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Manager tracks active connections per user so subscription events can be
// pushed to whoever is online.
type Manager struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				prev := m.clients[client.UserID]
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				if prev != nil {
					prev.closeSend()
				}
				logger.Info("Stream client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				current, ok := m.clients[client.UserID]
				if ok && current == client {
					delete(m.clients, client.UserID)
				}
				m.mutex.Unlock()
				client.closeSend()
				logger.Info("Stream client unregistered: %s", client.UserID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendToUser pushes an event frame to a connected user. A slow or departing
// consumer's frame is dropped rather than blocking the subscription
// callback.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	client, ok := m.clients[userID]
	m.mutex.RUnlock()

	if !ok {
		return
	}
	if !client.trySend(message) {
		logger.Warn("Dropping stream frame for %s", userID)
	}
}

// ReadPump reads inbound frames until the connection drops, handing each to
// dispatch. It blocks; run it on the connection's goroutine so teardown can
// follow its return.
func (c *Client) ReadPump(m *Manager, dispatch func([]byte)) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Websocket read error for %s: %v", c.UserID, err)
			}
			break
		}
		dispatch(message)
	}
}

// WritePump drains the send channel onto the wire.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Warn("Websocket write error for %s: %v", c.UserID, err)
			return
		}
	}
}
