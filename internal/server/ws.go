package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// MotionMessage is one entry on the live motion feed.
type MotionMessage struct {
	Source    string `json:"source"`
	Motion    bool   `json:"motion"`
	EventID   string `json:"event_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// MotionHandler broadcasts per-frame motion verdicts via WebSocket. The
// pipeline pushes messages with Broadcast; connected clients receive them
// as JSON.
type MotionHandler struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewMotionHandler creates an empty MotionHandler.
func NewMotionHandler() *MotionHandler {
	return &MotionHandler{
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *MotionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast sends a motion message to all connected clients.
func (h *MotionHandler) Broadcast(msg MotionMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

// ClientCount returns the number of connected clients.
func (h *MotionHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
