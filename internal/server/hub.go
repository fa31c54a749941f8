package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/canview/internal/monitor"
	"github.com/danmuck/canview/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	clientQueue  = 4
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Hub streams snapshots to websocket clients. It is a monitor.Consumer; a
// client that falls behind skips snapshots rather than stalling the
// refresher.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

var _ monitor.Consumer = (*Hub)(nil)

// NewHub builds a hub. A nil checkOrigin applies the websocket package's
// same-host rule.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// Consume encodes snap once and queues it for every client.
func (h *Hub) Consume(snap monitor.Snapshot) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	for _, c := range clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	c := &hubClient{
		conn: conn,
		send: make(chan []byte, clientQueue),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	log.Debug().Str("remote", r.RemoteAddr).Msg("stream client joined")

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	observability.AddStreamClients(1)
	return true
}

func (h *Hub) remove(c *hubClient) {
	c.once.Do(func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			observability.AddStreamClients(-1)
		}
		h.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// readLoop discards inbound messages; it exists to observe close and pongs.
func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
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

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.remove(c)
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients reports connected stream clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}
