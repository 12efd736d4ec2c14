package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// companyEvent is an internal struct for routing events to company rooms
type companyEvent struct {
	CompanyID uuid.UUID
	Event     Event
}

// Hub maintains the set of active dashboard clients and broadcasts order
// events to them, one room per company
type Hub struct {
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcast chan *companyEvent

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *companyEvent, 256),
	}
}

// Run starts the hub's main loop
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.companyID] == nil {
				h.rooms[client.companyID] = make(map[*Client]bool)
			}
			h.rooms[client.companyID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.companyID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.companyID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.CompanyID]

			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					close(client.send)
					delete(h.rooms[event.CompanyID], client)
					if len(h.rooms[event.CompanyID]) == 0 {
						delete(h.rooms, event.CompanyID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToCompany sends an event to all clients subscribed to a company.
// This is the public API for handlers to broadcast order events.
func (h *Hub) BroadcastToCompany(companyID uuid.UUID, event Event) {
	h.broadcast <- &companyEvent{
		CompanyID: companyID,
		Event:     event,
	}
}
