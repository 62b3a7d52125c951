package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub tracks connected websocket clients and fans events out to them. Writes
// are serialized per connection; a client whose write fails is dropped.
type Hub struct {
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[string]*client
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
		conns:  make(map[string]*client),
	}
}

// Add registers a connection under id.
func (h *Hub) Add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[id] = &client{conn: conn}
	h.logger.Debug().Str("conn", id).Int("clients", len(h.conns)).Msg("client connected")
}

// Remove drops a connection.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
	h.logger.Debug().Str("conn", id).Int("clients", len(h.conns)).Msg("client disconnected")
}

// Send writes a JSON message to one connection.
func (h *Hub) Send(id string, v any) error {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Broadcast writes a JSON message to every connection, dropping clients
// whose write fails.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	snapshot := make(map[string]*client, len(h.conns))
	for id, c := range h.conns {
		snapshot[id] = c
	}
	h.mu.Unlock()

	for id, c := range snapshot {
		c.mu.Lock()
		err := c.conn.WriteJSON(v)
		c.mu.Unlock()
		if err != nil {
			h.logger.Warn().Str("conn", id).Err(err).Msg("broadcast failed, dropping client")
			h.Remove(id)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
