package broadcast

import (
	"context"
	"sync"

	"github.com/example/chat-relay/events"
	"github.com/go-monolith/mono/pkg/types"
)

// Conn is the write side of one client connection.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Client represents a connection owned by this process.
type Client struct {
	Handle string
	Room   string
	Conn   Conn
}

// Hub tracks local connections and delivers bus envelopes to them. Deliveries
// run on one goroutine in arrival order.
type Hub struct {
	clients map[string]*Client         // handle -> Client
	rooms   map[string]map[string]bool // room -> set of handles
	deliver chan events.Envelope
	done    chan struct{}
	mu      sync.RWMutex
	logger  types.Logger
}

// NewHub creates a new Hub.
func NewHub(logger types.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]bool),
		deliver: make(chan events.Envelope, 256),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down", "clients", h.ClientCount())
			h.closeAllClients()
			close(h.done)
			return
		case env := <-h.deliver:
			h.handleDeliver(env)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// Deliver queues env for local delivery. It drops env once the hub stopped.
func (h *Hub) Deliver(env events.Envelope) {
	select {
	case h.deliver <- env:
	case <-h.done:
	}
}

// closeAllClients closes all connected client connections.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		_ = client.Conn.Close()
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]bool)
}

func (h *Hub) handleDeliver(env events.Envelope) {
	data, err := events.EncodeEvent(env.Event, env.Args)
	if err != nil {
		h.logger.Error("Failed to encode frame", "event", env.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	switch env.Scope {
	case events.ScopeAll:
		for handle, client := range h.clients {
			if handle != env.Except {
				h.sendToClient(client, data)
			}
		}
	case events.ScopeRoom:
		for handle := range h.rooms[env.Key] {
			if handle == env.Except {
				continue
			}
			if client, ok := h.clients[handle]; ok {
				h.sendToClient(client, data)
			}
		}
	case events.ScopeDirect:
		if client, ok := h.clients[env.Key]; ok && env.Key != env.Except {
			h.sendToClient(client, data)
		}
	default:
		h.logger.Warn("Dropping envelope with unknown scope", "scope", env.Scope, "origin", env.Origin)
	}
}

func (h *Hub) sendToClient(client *Client, data []byte) {
	if err := client.Conn.WriteMessage(data); err != nil {
		h.logger.Debug("Failed to send to client", "handle", client.Handle, "error", err)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.Handle] = client
	if client.Room != "" {
		h.addToRoom(client.Room, client.Handle)
	}
}

// Unregister removes a client and returns the room it was in.
func (h *Hub) Unregister(handle string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[handle]
	if !ok {
		return ""
	}
	delete(h.clients, handle)
	h.removeFromRoom(client.Room, handle)
	return client.Room
}

// JoinRoom moves a client to room and returns the room it left. ok is false
// when the client is not registered.
func (h *Hub) JoinRoom(handle, room string) (prev string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[handle]
	if !ok {
		return "", false
	}

	prev = client.Room
	h.removeFromRoom(prev, handle)
	client.Room = room
	h.addToRoom(room, handle)
	return prev, true
}

// LeaveRoom removes a client from its current room and returns that room.
func (h *Hub) LeaveRoom(handle string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[handle]
	if !ok || client.Room == "" {
		return ""
	}
	prev := client.Room
	h.removeFromRoom(prev, handle)
	client.Room = ""
	return prev
}

func (h *Hub) addToRoom(room, handle string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][handle] = true
}

func (h *Hub) removeFromRoom(room, handle string) {
	if room == "" || h.rooms[room] == nil {
		return
	}
	delete(h.rooms[room], handle)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of clients in a room.
func (h *Hub) RoomClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
