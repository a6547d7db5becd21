package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // 256KB for base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		// The preview binds to localhost by default
		return true
	},
}

// hubClient serializes writes to one connection
type hubClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *hubClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(messageType, data)
}

// FrameHub fans preview frames out to websocket clients
type FrameHub struct {
	clients map[*websocket.Conn]*hubClient
	mu      sync.RWMutex
	onStop  func()
	logger  *log.Entry
}

// NewFrameHub creates a hub. onStop runs when a client sends a stop control message.
func NewFrameHub(onStop func()) *FrameHub {
	return &FrameHub{
		clients: make(map[*websocket.Conn]*hubClient),
		onStop:  onStop,
		logger:  log.WithField("component", "preview-ws"),
	}
}

// register adds a connection
func (h *FrameHub) register(conn *websocket.Conn) *hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &hubClient{conn: conn}
	h.clients[conn] = c
	h.logger.WithField("total", len(h.clients)).Debug("Client registered")
	return c
}

// unregister removes a connection
func (h *FrameHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.WithField("total", len(h.clients)).Debug("Client unregistered")
	}
}

// HasClients returns true if any client is connected
func (h *FrameHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Broadcast sends msg to every client, dropping clients that fail
func (h *FrameHub) Broadcast(msg *FrameMessage) {
	if !h.HasClients() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Error marshaling frame message")
		return
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.logger.WithError(err).Debug("Error sending to client")
			h.unregister(c.conn)
			c.conn.Close()
		}
	}
}

// CloseAll disconnects every client
func (h *FrameHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "preview closed"))
		conn.Close()
		delete(h.clients, conn)
	}
}

// ServeHTTP upgrades the request and keeps the connection alive
func (h *FrameHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Upgrade error")
		return
	}
	h.logger.WithField("remote", r.RemoteAddr).Info("Preview client connected")

	c := h.register(conn)
	go h.readPump(c)
}

// readPump handles control messages and detects disconnection
func (h *FrameHub) readPump(c *hubClient) {
	conn := c.conn
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("Read error")
			}
			return
		}
		var ctrl ControlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		if ctrl.Type == ControlStop && h.onStop != nil {
			h.logger.Info("Stop requested by preview client")
			h.onStop()
		}
	}
}
