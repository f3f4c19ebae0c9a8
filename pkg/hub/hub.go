// Package hub broadcasts binary camera frames to websocket clients.
package hub

import (
	"sync"

	"github.com/capvision/go-inspect/internal/log"
)

// Hub maintains the set of active clients and fans frames out to them.
// A client that cannot keep up is dropped rather than queued behind.
type Hub struct {
	name string

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// OnFirstClient fires when the client count goes 0 -> 1 and
	// OnLastClient when it returns to 0. The web layer uses them to run
	// a camera subscription only while someone is watching.
	OnFirstClient func()
	OnLastClient  func()
}

// New creates a hub.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 32),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's main loop; call it in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug("ws client connected", "hub", h.name, "clients", count)
			if count == 1 && h.OnFirstClient != nil {
				h.OnFirstClient()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			count := len(h.clients)
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count = len(h.clients)
			}
			h.mu.Unlock()
			log.Debug("ws client disconnected", "hub", h.name, "clients", count)
			if count == 0 && h.OnLastClient != nil {
				h.OnLastClient()
			}

		case frame := <-h.broadcast:
			h.mu.Lock()
			dropped := 0
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// too slow to keep a live feed; drop the client
					close(client.send)
					delete(h.clients, client)
					dropped++
					log.Warn("ws client dropped (slow consumer)", "hub", h.name)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			if dropped > 0 && count == 0 && h.OnLastClient != nil {
				h.OnLastClient()
			}
		}
	}
}

// Broadcast queues a frame for every client, dropping it when the hub
// itself is saturated.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
