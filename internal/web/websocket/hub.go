package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/sirupsen/logrus"
)

// Client represents a WebSocket client connection
type Client struct {
	ID   string
	Send chan []byte
	Hub  *Hub
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Channel for broadcasting messages to all clients
	broadcast chan []byte

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Logger
	log *logrus.Logger

	// Mutex for thread safety
	mu sync.Mutex

	done chan struct{}
}

// NewHub creates a new Hub instance
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's message handling loop. It returns when ctx is done,
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.log.Infof("New client connected. Total clients: %d", len(h.clients))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.log.Infof("Client disconnected. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
					// Message sent successfully
				default:
					// Slow client, drop it
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held. Only the hub closes Send, and only
// once, because the client is deleted at the same time.
func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.Send)
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. Safe to call after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients. Messages are dropped
// once the hub has stopped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Emit broadcasts a job event as JSON.
func (h *Hub) Emit(e models.Event) {
	message, err := json.Marshal(struct {
		Type string `json:"type"`
		models.Event
	}{Type: "event", Event: e})
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal WebSocket message")
		return
	}
	h.Broadcast(message)
}
