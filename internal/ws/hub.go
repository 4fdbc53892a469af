// Package ws fans recording updates out to watching WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vet-scribe-service/internal/observability/logging"
)

// AllRecordings is the room that receives every broadcast.
const AllRecordings = ""

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

type client struct {
	conn *websocket.Conn
	room string
	send chan []byte
}

type message struct {
	room string
	data []byte
}

// Hub manages watcher connections grouped by recording id.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int32
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHub creates a hub. Run must be called before clients are served.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.WithComponent("ws-hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
			h.logger.Debug().Str("recordingId", c.room).Int32("clients", h.count.Load()).Msg("watcher connected")

		case c := <-h.unregister:
			if h.clients[c] {
				h.remove(c)
				h.logger.Debug().Str("recordingId", c.room).Int32("clients", h.count.Load()).Msg("watcher disconnected")
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.room != AllRecordings && c.room != msg.room {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// slow watcher
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

// Clients returns the number of connected watchers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Broadcast sends v as JSON to the watchers of recordingID and to AllRecordings watchers.
// It never blocks; messages are dropped when the hub is saturated or stopped.
func (h *Hub) Broadcast(recordingID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("recordingId", recordingID).Msg("failed to encode broadcast")
		return
	}
	select {
	case h.broadcast <- message{room: recordingID, data: data}:
	case <-h.done:
	default:
		h.logger.Warn().Str("recordingId", recordingID).Msg("broadcast buffer full, dropping update")
	}
}

// ServeWS upgrades the request and registers the connection as a watcher of recordingID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, recordingID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, room: recordingID, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client messages and unregisters on disconnect.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
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
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
