package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eugenenazirov/wasmbridge/internal/hotreload"
)

const (
	clientBuffer = 8
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// ReloadHub fans hot-update directives out to connected browsers.
type ReloadHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*reloadClient]struct{}
	closed  bool
}

type reloadClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewReloadHub returns an empty hub.
func NewReloadHub(logger *zap.Logger) *ReloadHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReloadHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the dev server is bound to a local interface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*reloadClient]struct{}),
	}
}

// Clients returns the number of connected browsers.
func (h *ReloadHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues d for every client. Clients whose buffer is full are
// dropped rather than blocking the caller.
func (h *ReloadHub) Broadcast(d hotreload.Directive) {
	payload, err := json.Marshal(d)
	if err != nil {
		h.logger.Error("encode directive", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("reload client too slow, disconnecting")
			h.removeLocked(c)
		}
	}
	h.logger.Info("broadcast directive",
		zap.String("type", d.Type),
		zap.String("path", d.Path),
		zap.Int("clients", len(h.clients)),
	)
}

// Close disconnects every client and refuses new ones.
func (h *ReloadHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *ReloadHub) removeLocked(c *reloadClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *ReloadHub) remove(c *reloadClient) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and registers the connection.
func (h *ReloadHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &reloadClient{conn: conn, send: make(chan []byte, clientBuffer)}
	hello, _ := json.Marshal(map[string]string{"type": "connected"})
	c.send <- hello

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and notices disconnects.
func (h *ReloadHub) readPump(c *reloadClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
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

func (h *ReloadHub) writePump(c *reloadClient) {
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
