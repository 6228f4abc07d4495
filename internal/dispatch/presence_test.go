package dispatch

import (
	"context"
	"testing"

	"github.com/tripallied/tripallied-backend/internal/models"
)

func newPresenceEnv(t *testing.T) (*PresenceRegistry, *fakePresenceStore, *fakeNotifier) {
	t.Helper()
	store := newFakePresenceStore()
	notifier := &fakeNotifier{}
	return NewPresenceRegistry(store, notifier, &fakeGeocoder{city: "Jabalpur"}), store, notifier
}

func TestSetOnlineRequiresCity(t *testing.T) {
	registry, _, _ := newPresenceEnv(t)
	driver := newDriver(2)
	driver.City = ""

	_, err := registry.SetOnline(context.Background(), driver, SetOnlineCommand{Online: true, ConnectionID: "c1"})
	if AsError(err).Code != CodeCityResolutionFailed {
		t.Fatalf("no-city online code = %v, want CITY_RESOLUTION_FAILED", err)
	}
}

func TestSetOnlineResolvesCityFromLocation(t *testing.T) {
	registry, _, notifier := newPresenceEnv(t)
	driver := newDriver(2)
	driver.City = ""

	presence, err := registry.SetOnline(context.Background(), driver, SetOnlineCommand{
		Online:       true,
		Location:     &models.Location{Lat: 23.16, Lng: 79.93},
		ConnectionID: "c1",
	})
	if err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	if !presence.Online || presence.CityKey != "jabalpur" {
		t.Fatalf("presence = %+v, want online in jabalpur", presence)
	}
	if got := notifier.received("city:jabalpur", NotifyOnlineCount); len(got) != 1 {
		t.Fatalf("online_count broadcasts = %d, want 1", len(got))
	}
}

func TestSetOnlineRejectsTraveler(t *testing.T) {
	registry, _, _ := newPresenceEnv(t)

	_, err := registry.SetOnline(context.Background(), newTraveler(1), SetOnlineCommand{Online: true, City: "Jabalpur"})
	if AsError(err).Code != CodeForbidden {
		t.Fatalf("traveler online code = %v, want FORBIDDEN", err)
	}
}

func TestDisconnectIgnoresStaleConnection(t *testing.T) {
	ctx := context.Background()
	registry, store, _ := newPresenceEnv(t)
	driver := newDriver(2)

	if _, err := registry.SetOnline(ctx, driver, SetOnlineCommand{Online: true, City: "Jabalpur", ConnectionID: "old"}); err != nil {
		t.Fatalf("first SetOnline: %v", err)
	}
	// The driver reconnects; the new session supersedes the old one.
	if _, err := registry.SetOnline(ctx, driver, SetOnlineCommand{Online: true, City: "Jabalpur", ConnectionID: "new"}); err != nil {
		t.Fatalf("second SetOnline: %v", err)
	}

	// The old socket closing must not knock the new session offline.
	registry.HandleDisconnect(ctx, driver.ID, "old")
	presence, _ := store.Get(ctx, driver.ID)
	if !presence.Online {
		t.Fatal("stale disconnect cleared a fresh session")
	}

	registry.HandleDisconnect(ctx, driver.ID, "new")
	presence, _ = store.Get(ctx, driver.ID)
	if presence.Online {
		t.Fatal("owning connection's disconnect should clear presence")
	}
}

func TestSetCityMovesDriver(t *testing.T) {
	ctx := context.Background()
	registry, store, notifier := newPresenceEnv(t)
	driver := newDriver(2)

	if _, err := registry.SetOnline(ctx, driver, SetOnlineCommand{Online: true, City: "Jabalpur", ConnectionID: "c1"}); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}

	presence, err := registry.SetCity(ctx, driver, "Bhopal", "c1")
	if err != nil {
		t.Fatalf("SetCity: %v", err)
	}
	if presence.CityKey != "bhopal" {
		t.Fatalf("city key = %q, want bhopal", presence.CityKey)
	}

	// Both the vacated and the joined city get a fresh count.
	if got := notifier.received("city:jabalpur", NotifyOnlineCount); len(got) < 2 {
		t.Errorf("jabalpur online_count broadcasts = %d, want at least 2", len(got))
	}
	if got := notifier.received("city:bhopal", NotifyOnlineCount); len(got) != 1 {
		t.Errorf("bhopal online_count broadcasts = %d, want 1", len(got))
	}

	stored, _ := store.Get(ctx, driver.ID)
	if stored.CityKey != "bhopal" {
		t.Fatalf("stored city key = %q, want bhopal", stored.CityKey)
	}
}

func TestOnlineCount(t *testing.T) {
	ctx := context.Background()
	registry, _, _ := newPresenceEnv(t)

	for id := uint(2); id <= 4; id++ {
		driver := newDriver(id)
		if _, err := registry.SetOnline(ctx, driver, SetOnlineCommand{Online: true, City: "Jabalpur", ConnectionID: "c"}); err != nil {
			t.Fatalf("SetOnline(%d): %v", id, err)
		}
	}

	count, err := registry.OnlineCount(ctx, "jabalpur")
	if err != nil || count != 3 {
		t.Fatalf("OnlineCount = %d, %v; want 3", count, err)
	}

	driver := newDriver(2)
	if _, err := registry.SetOnline(ctx, driver, SetOnlineCommand{Online: false}); err != nil {
		t.Fatalf("SetOnline(offline): %v", err)
	}
	count, _ = registry.OnlineCount(ctx, "jabalpur")
	if count != 2 {
		t.Fatalf("OnlineCount after offline = %d, want 2", count)
	}
}
