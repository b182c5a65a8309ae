package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockwatch/internal/logger"
)

// Hub tracks connected clients. Each client gets its own Session built from
// the shared Deps; the hub itself holds no per-symbol state.
type Hub struct {
	ctx  context.Context
	deps Deps

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub. Sessions started by it stop when ctx is cancelled.
func NewHub(ctx context.Context, deps Deps) *Hub {
	return &Hub{
		ctx:     ctx,
		deps:    deps.withDefaults(),
		clients: make(map[*Client]struct{}),
	}
}

// Deps returns the hub's collaborators with defaults applied.
func (h *Hub) Deps() Deps { return h.deps }

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) *Client {
	send := make(chan []byte, sendBuffer)
	client := &Client{
		conn:    conn,
		send:    send,
		hub:     h,
		session: NewSession(h.ctx, logger.NewTraceID("ws"), send, h.deps),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.deps.Metrics.WSClients.Inc()

	log.Printf("[gateway] ws client %s connected (%d total)", client.session.ID(), count)

	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient closes the client's session and its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	h.deps.Metrics.WSClients.Dec()
	c.session.Close()
	close(c.send)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown sends a going-away close frame to every client. Their read pumps
// then unwind and remove them.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	log.Printf("[gateway] closed %d ws clients", len(conns))
}
