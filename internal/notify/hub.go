package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"booking-service/internal/util"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

// Hub keeps live websocket connections per user and pushes booking updates to them
type Hub struct {
	upgrader    websocket.Upgrader
	mu          sync.Mutex
	subscribers map[int64]map[*conn]struct{}
	logger      *zap.Logger
}

func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		upgrader:    websocket.Upgrader{CheckOrigin: checkOrigin},
		subscribers: make(map[int64]map[*conn]struct{}),
		logger:      util.GetLogger(),
	}
}

func (h *Hub) Name() string { return "websocket" }

// ServeWS upgrades the request and holds the connection until the client leaves
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws}
	h.add(userID, c)
	defer h.remove(userID, c)

	done := make(chan struct{})
	go h.ping(c, done)
	defer close(done)

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) ping(c *conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
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
}

func (h *Hub) add(userID int64, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[*conn]struct{})
	}
	h.subscribers[userID][c] = struct{}{}
}

func (h *Hub) remove(userID int64, c *conn) {
	h.mu.Lock()
	if conns, ok := h.subscribers[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.subscribers, userID)
		}
	}
	h.mu.Unlock()
	c.ws.Close()
}

// Subscribers returns the number of live connections of a user
func (h *Hub) Subscribers(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}

// Notify writes msg to every connection of the recipient. Dead connections are dropped.
func (h *Hub) Notify(ctx context.Context, to Recipient, msg Message) error {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.subscribers[to.UserID]))
	for c := range h.subscribers[to.UserID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if len(conns) == 0 {
		return nil
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	for _, c := range conns {
		if err := c.write(websocket.TextMessage, raw); err != nil {
			h.remove(to.UserID, c)
		}
	}
	return nil
}
