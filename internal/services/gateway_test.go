package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tripallied/tripallied-backend/internal/dispatch"
	"github.com/tripallied/tripallied-backend/internal/models"
)

type stubPresenceStore struct {
	online []models.DriverPresence
}

func (s *stubPresenceStore) Get(ctx context.Context, driverID uint) (*models.DriverPresence, error) {
	return nil, nil
}

func (s *stubPresenceStore) Upsert(ctx context.Context, presence *models.DriverPresence) error {
	return nil
}

func (s *stubPresenceStore) OnlineInCity(ctx context.Context, cityKey string) ([]models.DriverPresence, error) {
	return s.online, nil
}

func (s *stubPresenceStore) ClearIfConnection(ctx context.Context, driverID uint, connectionID string) (*models.DriverPresence, bool, error) {
	return nil, false, nil
}

func TestTravelerJoinsHomeCityRoomWithInitialCount(t *testing.T) {
	hub := NewHub()
	store := &stubPresenceStore{online: []models.DriverPresence{
		{DriverID: 7, Online: true},
		{DriverID: 8, Online: true},
	}}
	registry := dispatch.NewPresenceRegistry(store, hub, nil)
	gateway := NewGateway(hub, nil, registry, nil)

	client := newTestClient(hub, 3)
	client.User.City = "Jabalpur, Madhya Pradesh"

	gateway.joinHomeCityRoom(client)

	envelope := receiveEnvelope(t, client)
	if envelope.Type != dispatch.NotifyOnlineCount {
		t.Fatalf("type = %q, want %q", envelope.Type, dispatch.NotifyOnlineCount)
	}
	var payload struct {
		CityKey string `json:"city_key"`
		Count   int    `json:"count"`
	}
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.CityKey != "jabalpur" || payload.Count != 2 {
		t.Errorf("payload = %+v, want city_key jabalpur count 2", payload)
	}

	// Later count broadcasts for the home city reach the connection.
	hub.NotifyCity("jabalpur", dispatch.NotifyOnlineCount, map[string]any{"city_key": "jabalpur", "count": 1})
	if envelope := receiveEnvelope(t, client); envelope.Type != dispatch.NotifyOnlineCount {
		t.Errorf("type = %q, want %q", envelope.Type, dispatch.NotifyOnlineCount)
	}
}

func TestTravelerWithoutCitySkipsCityRoom(t *testing.T) {
	hub := NewHub()
	registry := dispatch.NewPresenceRegistry(&stubPresenceStore{}, hub, nil)
	gateway := NewGateway(hub, nil, registry, nil)

	client := newTestClient(hub, 4)
	gateway.joinHomeCityRoom(client)

	select {
	case raw := <-client.Send:
		t.Fatalf("unexpected message %s", raw)
	default:
	}
}
