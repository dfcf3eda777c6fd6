package queue

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

// Message is the websocket frame sent to queue subscribers.
type Message struct {
	Type   string                     `json:"type"`
	Items  []domain.QueueItem         `json:"items"`
	Counts map[domain.QueueStatus]int `json:"counts"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans queue snapshots out to websocket clients. Slow clients are dropped.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *infra.Logger
}

// NewHub builds a hub. checkOrigin may be nil to accept any origin.
func NewHub(logger *infra.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if logger == nil {
		discard := infra.Logger(zerolog.Nop())
		logger = &discard
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

func snapshot(items []domain.QueueItem) ([]byte, error) {
	if items == nil {
		items = []domain.QueueItem{}
	}
	return json.Marshal(Message{Type: "snapshot", Items: items, Counts: CountByStatus(items)})
}

// Broadcast sends a snapshot of items to every connected client.
func (h *Hub) Broadcast(items []domain.QueueItem) {
	data, err := snapshot(items)
	if err != nil {
		h.logger.Error().Err(err).Msg("queue: marshal snapshot")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and sends initial as the first frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, initial []domain.QueueItem) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("queue: websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	if data, err := snapshot(initial); err == nil {
		c.send <- data
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("queue: websocket connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
