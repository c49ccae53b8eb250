package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eventflow/eventflow/internal/core"
	"github.com/eventflow/eventflow/internal/logging"
)

// Message is the frame pushed to WebSocket clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type client struct {
	userID core.UserID
	conn   *websocket.Conn
	send   chan Message
}

// Hub fans suggestion and event notifications out to the owning user's
// WebSocket connections. Implements suggest.Broadcaster.
type Hub struct {
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	outbound   chan outboundMessage

	clients map[core.UserID]map[*client]bool

	done     chan struct{}
	stopOnce sync.Once
}

type outboundMessage struct {
	userID core.UserID
	msg    Message
}

// NewHub creates a hub. Call Run in a goroutine before broadcasting.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		outbound:   make(chan outboundMessage, 64),
		clients:    make(map[core.UserID]map[*client]bool),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry. All map access happens on this goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*client]bool)
			}
			h.clients[c.userID][c] = true

		case c := <-h.unregister:
			if conns := h.clients[c.userID]; conns[c] {
				delete(conns, c)
				close(c.send)
				if len(conns) == 0 {
					delete(h.clients, c.userID)
				}
			}

		case out := <-h.outbound:
			for c := range h.clients[out.userID] {
				select {
				case c.send <- out.msg:
				default:
					// Slow consumer, drop the connection rather than block.
					delete(h.clients[out.userID], c)
					close(c.send)
				}
			}

		case <-h.done:
			for _, conns := range h.clients {
				for c := range conns {
					close(c.send)
					c.conn.Close()
				}
			}
			h.clients = make(map[core.UserID]map[*client]bool)
			return
		}
	}
}

// Broadcast queues a notification for every open connection of one user.
// Never blocks; frames are dropped if the hub is saturated or stopped.
func (h *Hub) Broadcast(userID core.UserID, kind string, payload interface{}) {
	out := outboundMessage{
		userID: userID,
		msg: Message{
			Type:      kind,
			Data:      payload,
			Timestamp: time.Now(),
		},
	}
	select {
	case h.outbound <- out:
	case <-h.done:
	default:
	}
}

// Close shuts the hub down and disconnects all clients
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// handleWebSocket authenticates the connection and hands it to the hub.
// Browsers cannot set headers on WebSocket dials, so the token is accepted
// from the query string as well.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	user, err := s.users.GetByToken(token)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := s.wsHub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		userID: user.ID,
		conn:   conn,
		send:   make(chan Message, 16),
	}
	s.wsHub.register <- c

	go c.writePump()
	go c.readPump(s.wsHub)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump discards inbound frames; its job is to notice the close.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
