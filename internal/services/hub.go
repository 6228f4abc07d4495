package services

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tripallied/tripallied-backend/internal/models"
)

// Room name builders. Every client sits in its own user room; ride and
// city rooms are joined as rides and presence sessions come and go.
func UserRoom(userID uint) string { return fmt.Sprintf("user:%d", userID) }
func RideRoom(rideID uint) string { return fmt.Sprintf("ride:%d", rideID) }
func CityRoom(cityKey string) string { return "city_presence:" + cityKey }

// Envelope is the wire frame for every realtime message, both ways.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client represents one WebSocket connection for one authenticated user.
type Client struct {
	ConnectionID string
	User         *models.User
	Conn         *websocket.Conn
	Send         chan []byte
	Hub          *Hub

	// cityRoom is the one city presence room this connection sits in,
	// maintained by the gateway's command handlers.
	cityRoom string

	// closed flips when the hub unregisters the client, just before the
	// Send channel is closed. Guarded by the hub mutex.
	closed bool
}

// Hub maintains the set of active clients and their room memberships.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex

	// OnDisconnect runs after a client is removed from the hub.
	OnDisconnect func(client *Client)
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.joinLocked(client, UserRoom(client.User.ID))
			h.mutex.Unlock()
			log.Printf("Client %d connected (%s)", client.User.ID, client.ConnectionID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for room, members := range h.rooms {
					delete(members, client)
					if len(members) == 0 {
						delete(h.rooms, room)
					}
				}
				client.closed = true
				close(client.Send)
			}
			h.mutex.Unlock()
			log.Printf("Client %d disconnected (%s)", client.User.ID, client.ConnectionID)
			if h.OnDisconnect != nil {
				h.OnDisconnect(client)
			}
		}
	}
}

// JoinRoom adds a client to a room.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.joinLocked(client, room)
}

// LeaveRoom removes a client from a room.
func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) joinLocked(client *Client, room string) {
	if client.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
}

// NotifyUser sends an event to every connection of a user.
func (h *Hub) NotifyUser(userID uint, event string, payload map[string]any) {
	h.BroadcastToRoom(UserRoom(userID), event, payload)
}

// NotifyRide sends an event to every client in a ride's room.
func (h *Hub) NotifyRide(rideID uint, event string, payload map[string]any) {
	h.BroadcastToRoom(RideRoom(rideID), event, payload)
}

// NotifyCity sends an event to every client in a city presence room.
func (h *Hub) NotifyCity(cityKey string, event string, payload map[string]any) {
	h.BroadcastToRoom(CityRoom(cityKey), event, payload)
}

// BroadcastToRoom fans a typed message out to a room's members.
func (h *Hub) BroadcastToRoom(room string, event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("Error marshaling %s message: %v", event, err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for client := range h.rooms[room] {
		select {
		case client.Send <- data:
		default:
			log.Printf("Warning: Could not send to client %d (channel full)", client.User.ID)
		}
	}
}

// SendToClient pushes a typed message to one connection. A client that
// already disconnected is silently skipped: its Send channel is closed
// the moment the hub unregisters it.
func (h *Hub) SendToClient(client *Client, event string, payload any) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		log.Printf("Error marshaling %s message: %v", event, err)
		return
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if client.closed {
		return
	}
	select {
	case client.Send <- data:
	default:
		log.Printf("Warning: Could not send to client %d (channel full)", client.User.ID)
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func marshalEnvelope(event string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Data: body})
}

// readPump pumps messages from the websocket connection to the gateway
func (c *Client) readPump(router commandRouter) {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var envelope Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			log.Printf("Error unmarshaling WebSocket message: %v", err)
			continue
		}
		router.route(c, envelope)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
