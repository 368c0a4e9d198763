package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one subscriber watching a batch's progress.
type Client struct {
	BatchID uint
	conn    *websocket.Conn
	mu      sync.Mutex
	closed  bool
}

func NewClient(batchID uint, conn *websocket.Conn) *Client {
	return &Client{BatchID: batchID, conn: conn}
}

func (c *Client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close()
}

// Hub fans migration transitions out to operators watching a batch.
type Hub struct {
	mu      sync.RWMutex
	byBatch map[uint]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byBatch: make(map[uint]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byBatch[c.BatchID] == nil {
		h.byBatch[c.BatchID] = make(map[*Client]struct{})
	}
	h.byBatch[c.BatchID][c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byBatch[c.BatchID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byBatch, c.BatchID)
		}
	}
}

// BatchEvent is the payload pushed on every migration transition.
type BatchEvent struct {
	BatchID     uint   `json:"batch_id"`
	MigrationID uint   `json:"migration_id"`
	UserID      uint   `json:"user_id"`
	Status      string `json:"status"`
	BatchStatus string `json:"batch_status"`
	Error       string `json:"error,omitempty"`
}

// BroadcastBatch pushes an event to every client watching the batch. Dead
// connections are dropped.
func (h *Hub) BroadcastBatch(event BatchEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.byBatch[event.BatchID]))
	for c := range h.byBatch[event.BatchID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		if err := c.send(payload); err != nil {
			log.Printf("[WS] drop batch %d subscriber: %v", event.BatchID, err)
			h.Unregister(c)
			c.Close()
		}
	}
}
