package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/internal/store"
)

// fakeRideStore is an in-memory RideStore with the same conditional
// update semantics as the database-backed one.
type fakeRideStore struct {
	mu     sync.Mutex
	nextID uint
	rides  map[uint]models.Ride
	events []models.RideEvent
}

func newFakeRideStore() *fakeRideStore {
	return &fakeRideStore{rides: make(map[uint]models.Ride)}
}

func (f *fakeRideStore) Create(ctx context.Context, ride *models.Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ride.ID = f.nextID
	f.rides[ride.ID] = *ride
	return nil
}

func (f *fakeRideStore) Get(ctx context.Context, id uint) (*models.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ride, ok := f.rides[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := ride
	return &copied, nil
}

func (f *fakeRideStore) Save(ctx context.Context, ride *models.Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rides[ride.ID]; !ok {
		return store.ErrNotFound
	}
	f.rides[ride.ID] = *ride
	return nil
}

func (f *fakeRideStore) CompareAndSwapStatus(ctx context.Context, id uint, expected string, mutate func(*models.Ride)) (*models.Ride, store.CASOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ride, ok := f.rides[id]
	if !ok {
		return nil, store.CASNotFound, nil
	}
	if ride.Status != expected {
		copied := ride
		return &copied, store.CASConflict, nil
	}
	mutate(&ride)
	f.rides[id] = ride
	copied := ride
	return &copied, store.CASApplied, nil
}

func (f *fakeRideStore) ActiveForTraveler(ctx context.Context, travelerID uint) (*models.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ride := range f.rides {
		if ride.TravelerID == travelerID && models.IsActiveStatus(ride.Status) {
			copied := ride
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRideStore) ActiveForDriver(ctx context.Context, driverID uint) (*models.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ride := range f.rides {
		if ride.DriverID != nil && *ride.DriverID == driverID && models.IsActiveStatus(ride.Status) {
			copied := ride
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRideStore) AppendEvent(ctx context.Context, event *models.RideEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = uint(len(f.events) + 1)
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeRideStore) eventsOfType(rideID uint, eventType string) []models.RideEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RideEvent
	for _, event := range f.events {
		if event.RideID == rideID && event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakePresenceStore struct {
	mu      sync.Mutex
	drivers map[uint]models.DriverPresence
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{drivers: make(map[uint]models.DriverPresence)}
}

func (f *fakePresenceStore) Get(ctx context.Context, driverID uint) (*models.DriverPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	presence, ok := f.drivers[driverID]
	if !ok {
		return nil, nil
	}
	copied := presence
	return &copied, nil
}

func (f *fakePresenceStore) Upsert(ctx context.Context, presence *models.DriverPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drivers[presence.DriverID] = *presence
	return nil
}

func (f *fakePresenceStore) OnlineInCity(ctx context.Context, cityKey string) ([]models.DriverPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cityKey == "" {
		return nil, nil
	}
	var out []models.DriverPresence
	for _, presence := range f.drivers {
		if presence.Online && presence.CityKey == cityKey {
			out = append(out, presence)
		}
	}
	return out, nil
}

func (f *fakePresenceStore) ClearIfConnection(ctx context.Context, driverID uint, connectionID string) (*models.DriverPresence, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	presence, ok := f.drivers[driverID]
	if !ok {
		return nil, false, nil
	}
	if presence.ConnectionID == nil || *presence.ConnectionID != connectionID {
		copied := presence
		return &copied, false, nil
	}
	presence.Online = false
	presence.ConnectionID = nil
	f.drivers[driverID] = presence
	copied := presence
	return &copied, true, nil
}

type ratingCall struct {
	driverID uint
	stars    int
}

type fakeUserStore struct {
	mu      sync.Mutex
	users   map[uint]models.User
	ratings []ratingCall
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	f := &fakeUserStore{users: make(map[uint]models.User)}
	for _, user := range users {
		f.users[user.ID] = *user
	}
	return f
}

func (f *fakeUserStore) Get(ctx context.Context, id uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (f *fakeUserStore) ApplyDriverRating(ctx context.Context, driverID uint, stars int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings = append(f.ratings, ratingCall{driverID: driverID, stars: stars})
	return nil
}

type notification struct {
	target  string
	event   string
	payload map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) NotifyUser(userID uint, event string, payload map[string]any) {
	f.record(fmt.Sprintf("user:%d", userID), event, payload)
}

func (f *fakeNotifier) NotifyRide(rideID uint, event string, payload map[string]any) {
	f.record(fmt.Sprintf("ride:%d", rideID), event, payload)
}

func (f *fakeNotifier) NotifyCity(cityKey string, event string, payload map[string]any) {
	f.record("city:"+cityKey, event, payload)
}

func (f *fakeNotifier) record(target, event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{target: target, event: event, payload: payload})
}

func (f *fakeNotifier) received(target, event string) []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification
	for _, n := range f.sent {
		if n.target == target && n.event == event {
			out = append(out, n)
		}
	}
	return out
}

// fakeGeocoder resolves every point to a fixed city.
type fakeGeocoder struct {
	city string
}

func (f *fakeGeocoder) Forward(ctx context.Context, address, cityHint string) (*GeocodedPlace, error) {
	return &GeocodedPlace{
		Location: models.Location{Address: address, Lat: 23.16, Lng: 79.93},
		City:     f.city,
	}, nil
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (*GeocodedPlace, error) {
	return &GeocodedPlace{
		Location: models.Location{Address: "resolved address", Lat: lat, Lng: lng},
		City:     f.city,
	}, nil
}

// fakePushSender records push deliveries and can stall them to expose
// callers that wait on the push path.
type fakePushSender struct {
	mu    sync.Mutex
	block chan struct{}
	done  chan struct{}
	calls []uint
}

func (f *fakePushSender) PushRideRequested(ctx context.Context, driverID uint, ride *models.Ride) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, driverID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
}

func (f *fakePushSender) driverIDs() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.calls...)
}
