package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer bounds the per-connection queue; a consumer that falls
	// this far behind loses events rather than blocking the engine.
	sendBuffer = 16
)

// Hub delivers events over WebSocket to connected client installations.
// Connections register under their client instance ID; events address
// exactly one client instance. Undeliverable events are dropped, which
// is the contract: notification is fire-and-forget.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]map[*conn]struct{} // client instance ID -> connections
}

// NewHub returns a hub ready to accept connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With(slog.String("component", "notify_hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[string]map[*conn]struct{}),
	}
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// Notify implements Notifier. It never blocks on slow consumers.
func (h *Hub) Notify(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "marshal notification", slog.String("error", err.Error()))
		return
	}

	// The sends happen under the read lock: they are non-blocking, and
	// remove closes send channels under the write lock, so a send can
	// never race a close.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[ev.ClientInstanceID] {
		select {
		case c.send <- payload:
		default:
			h.logger.WarnContext(ctx, "notification dropped: slow consumer",
				slog.String("client_instance_id", ev.ClientInstanceID),
				slog.String("type", ev.Type),
			)
		}
	}
}

// ConnectionCount reports open connections for one client instance.
func (h *Hub) ConnectionCount(clientInstanceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[clientInstanceID])
}

// ServeWS upgrades an HTTP request to a notification stream for the
// given client instance.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientInstanceID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()))
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.conns[clientInstanceID] == nil {
		h.conns[clientInstanceID] = make(map[*conn]struct{})
	}
	h.conns[clientInstanceID][c] = struct{}{}
	h.mu.Unlock()

	h.logger.InfoContext(r.Context(), "notification stream opened",
		slog.String("client_instance_id", clientInstanceID))

	go h.writePump(c)
	go h.readPump(c, clientInstanceID)
}

func (h *Hub) remove(c *conn, clientInstanceID string) {
	h.mu.Lock()
	if set, ok := h.conns[clientInstanceID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.conns, clientInstanceID)
			}
		}
	}
	h.mu.Unlock()
}

// readPump discards inbound frames; the stream is one-way. Its job is
// pong handling and noticing the peer went away.
func (h *Hub) readPump(c *conn, clientInstanceID string) {
	defer func() {
		h.remove(c, clientInstanceID)
		c.ws.Close()
	}()
	c.ws.SetReadLimit(512)
	c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
