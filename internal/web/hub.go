// Package web serves the live read-out surfaces: the websocket feed, the
// JSON HTTP API, and the on-disk state snapshot.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 256
)

// Frame is the envelope every websocket message uses: a type tag and one
// payload object under "data".
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans frames out to the connected websocket clients. A client whose
// send buffer is full gets dropped rather than stalling the broadcast.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	// onConnect builds the frames a fresh connection receives before any
	// broadcast: the init frame and the current-state snapshot.
	onConnect func() []*Frame
}

func NewHub(log *slog.Logger, onConnect func() []*Frame) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only public data; any origin may subscribe.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:   make(map[*client]struct{}),
		onConnect: onConnect,
	}
}

// SetOnConnect installs the connect-time frame builder after construction,
// for wiring orders where the state source needs the hub first.
func (h *Hub) SetOnConnect(f func() []*Frame) {
	h.mu.Lock()
	h.onConnect = f
	h.mu.Unlock()
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	onConnect := h.onConnect
	h.mu.Unlock()
	h.log.Debug("websocket client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	if onConnect != nil {
		for _, f := range onConnect() {
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		}
	}

	go h.writer(c)
	go h.reader(c)
}

// Broadcast sends one frame to every connected client.
func (h *Hub) Broadcast(f *Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error("frame marshal failed", "type", f.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow consumer; cut it loose.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports the number of attached websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// writer drains the send channel onto the socket and keeps the connection
// alive with pings.
func (h *Hub) writer(c *client) {
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
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.detach(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.detach(c)
				return
			}
		}
	}
}

// reader discards inbound messages; the feed is one-way. It exists to
// notice closed connections and run the close handshake.
func (h *Hub) reader(c *client) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
