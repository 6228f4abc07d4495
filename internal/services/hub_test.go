package services

import (
	"encoding/json"
	"testing"

	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/models"
)

func newTestClient(hub *Hub, userID uint) *Client {
	return &Client{
		ConnectionID: "test-conn",
		User:         &models.User{Model: gorm.Model{ID: userID}, Username: "u", Role: models.RoleTraveler},
		Send:         make(chan []byte, 8),
		Hub:          hub,
	}
}

func receiveEnvelope(t *testing.T, client *Client) Envelope {
	t.Helper()
	select {
	case raw := <-client.Send:
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		return envelope
	default:
		t.Fatal("no message queued")
		return Envelope{}
	}
}

func TestRoomBroadcastReachesMembersOnly(t *testing.T) {
	hub := NewHub()
	member := newTestClient(hub, 1)
	outsider := newTestClient(hub, 2)

	hub.JoinRoom(member, RideRoom(7))
	hub.BroadcastToRoom(RideRoom(7), "status_changed", map[string]any{"ride_id": 7})

	envelope := receiveEnvelope(t, member)
	if envelope.Type != "status_changed" {
		t.Errorf("type = %q, want status_changed", envelope.Type)
	}
	var payload struct {
		RideID uint `json:"ride_id"`
	}
	if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.RideID != 7 {
		t.Errorf("payload = %s", envelope.Data)
	}

	select {
	case raw := <-outsider.Send:
		t.Fatalf("outsider received %s", raw)
	default:
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, 1)

	hub.JoinRoom(client, CityRoom("jabalpur"))
	hub.LeaveRoom(client, CityRoom("jabalpur"))
	hub.NotifyCity("jabalpur", "online_count", map[string]any{"count": 1})

	select {
	case raw := <-client.Send:
		t.Fatalf("left client received %s", raw)
	default:
	}
}

func TestNotifyUserTargetsUserRoom(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, 5)
	hub.JoinRoom(client, UserRoom(5))

	hub.NotifyUser(5, "quote_received", map[string]any{"ride_id": 3})
	envelope := receiveEnvelope(t, client)
	if envelope.Type != "quote_received" {
		t.Errorf("type = %q, want quote_received", envelope.Type)
	}
}

func TestSendAfterDisconnectIsDropped(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	client := newTestClient(hub, 9)

	hub.register <- client
	hub.unregister <- client
	for range client.Send {
		// drain until the hub closes the channel
	}

	// A slow connect path may still be pushing frames and joining rooms
	// after the reader already tore the connection down. None of these
	// may panic or resurrect the client.
	hub.SendToClient(client, "connected", map[string]any{"user_id": uint(9)})
	hub.JoinRoom(client, RideRoom(4))
	hub.BroadcastToRoom(RideRoom(4), "status_changed", map[string]any{"ride_id": 4})

	if n := hub.GetConnectedClients(); n != 0 {
		t.Errorf("connected clients = %d, want 0", n)
	}
}

func TestRoomNames(t *testing.T) {
	if got := UserRoom(12); got != "user:12" {
		t.Errorf("UserRoom = %q", got)
	}
	if got := RideRoom(7); got != "ride:7" {
		t.Errorf("RideRoom = %q", got)
	}
	if got := CityRoom("jabalpur"); got != "city_presence:jabalpur" {
		t.Errorf("CityRoom = %q", got)
	}
}
