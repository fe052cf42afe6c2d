package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"merq/internal/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsHub fans live feed payloads out to the connected dashboard clients.
// Each client gets a small buffered queue; a client that cannot keep up
// loses intermediate frames, not the connection. Every payload carries
// the full current state, so a dropped frame is superseded by the next.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan any
	done     chan struct{}
	doneOnce sync.Once
}

func (c *wsClient) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]struct{})}
}

func (h *wsHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *wsHub) broadcast(payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Queue full; skip this frame for the slow client.
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.markDone()
	}
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	client := &wsClient{
		conn: conn,
		send: make(chan any, 8),
		done: make(chan struct{}),
	}
	if !s.hub.add(client) {
		conn.Close()
		return
	}
	// Prime the new client so it does not wait for the next change.
	client.send <- s.buildTickPayload()

	go s.writeLoop(client)
	s.readLoop(client)
}

// readLoop drains inbound frames until the peer disconnects. The
// dashboard never sends application messages; the read is only how we
// learn the connection died.
func (s *Server) readLoop(client *wsClient) {
	defer func() {
		s.hub.remove(client)
		client.markDone()
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(client *wsClient) {
	for {
		select {
		case payload := <-client.send:
			if err := client.conn.WriteJSON(payload); err != nil {
				client.conn.Close()
				return
			}
		case <-client.done:
			client.conn.Close()
			return
		}
	}
}

// buildTickPayload snapshots the live state the dashboard renders on
// every change: open positions, session P&L and the store version the
// client can use to detect missed frames.
func (s *Server) buildTickPayload() gin.H {
	return gin.H{
		"event":     "tick_update",
		"pnl":       s.deps.PnL.Value(),
		"positions": s.deps.Store.Positions(),
		"version":   s.deps.Store.Version(),
		"status":    s.deps.Controller.Status().String(),
	}
}
