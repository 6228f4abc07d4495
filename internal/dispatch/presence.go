package dispatch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/pkg/utils"
)

// PresenceRegistry tracks which drivers are reachable for dispatch in
// which city. Presence is keyed by driver identity, not by connection:
// a driver reconnecting replaces their previous session, and only the
// connection that owns a session may tear it down.
type PresenceRegistry struct {
	store    PresenceStore
	notifier Notifier
	geocoder Geocoder
}

func NewPresenceRegistry(store PresenceStore, notifier Notifier, geocoder Geocoder) *PresenceRegistry {
	return &PresenceRegistry{store: store, notifier: notifier, geocoder: geocoder}
}

// SetOnlineCommand carries a driver's availability toggle.
type SetOnlineCommand struct {
	Online       bool             `json:"online"`
	City         string           `json:"city"`
	Location     *models.Location `json:"location"`
	ConnectionID string           `json:"-"`
}

// SetOnline flips a driver's availability. Going online requires a
// city, resolved from the supplied location when none is given. The
// session is stamped with the caller's connection id so that a stale
// socket closing later cannot knock a fresh session offline.
func (p *PresenceRegistry) SetOnline(ctx context.Context, driver *models.User, cmd SetOnlineCommand) (*models.DriverPresence, error) {
	if !driver.IsCabDriver() {
		return nil, NewError(CodeForbidden, "Only cab drivers have dispatch presence.")
	}

	presence, err := p.store.Get(ctx, driver.ID)
	if err != nil {
		return nil, err
	}
	if presence == nil {
		presence = &models.DriverPresence{DriverID: driver.ID}
	}
	previousKey := ""
	if presence.Online {
		previousKey = presence.CityKey
	}

	now := time.Now().UTC()
	if cmd.Online {
		city := strings.TrimSpace(cmd.City)
		if city == "" && cmd.Location != nil {
			city = p.cityFromLocation(ctx, *cmd.Location)
		}
		if city == "" && driver.City != "" {
			city = driver.City
		}
		if city == "" {
			return nil, NewError(CodeCityResolutionFailed, "A city is required to go online.")
		}
		presence.Online = true
		presence.City = city
		presence.CityKey = utils.NormalizeCityKey(city)
		if cmd.Location != nil {
			presence.SetLocation(*cmd.Location)
		}
		if cmd.ConnectionID != "" {
			connectionID := cmd.ConnectionID
			presence.ConnectionID = &connectionID
		}
	} else {
		presence.Online = false
		presence.ConnectionID = nil
	}
	presence.LastSeenAt = now

	if err := p.store.Upsert(ctx, presence); err != nil {
		return nil, err
	}

	p.notifier.NotifyUser(driver.ID, NotifyPresenceUpdated, map[string]any{"presence": presence.AsJSON()})
	if previousKey != "" && previousKey != presence.CityKey {
		p.broadcastOnlineCount(ctx, previousKey)
	}
	if presence.Online {
		p.broadcastOnlineCount(ctx, presence.CityKey)
	} else if previousKey != "" {
		p.broadcastOnlineCount(ctx, previousKey)
	}
	return presence, nil
}

// SetCity moves an online driver to a different city without an
// offline round trip.
func (p *PresenceRegistry) SetCity(ctx context.Context, driver *models.User, city string, connectionID string) (*models.DriverPresence, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, NewError(CodeValidation, "city is required.")
	}
	return p.SetOnline(ctx, driver, SetOnlineCommand{Online: true, City: city, ConnectionID: connectionID})
}

// HandleDisconnect marks a driver offline when the connection that
// registered their session drops. A close from a superseded connection
// is ignored.
func (p *PresenceRegistry) HandleDisconnect(ctx context.Context, driverID uint, connectionID string) {
	presence, cleared, err := p.store.ClearIfConnection(ctx, driverID, connectionID)
	if err != nil {
		log.Printf("driver %d: disconnect presence clear failed: %v", driverID, err)
		return
	}
	if !cleared || presence == nil {
		return
	}
	if presence.CityKey != "" {
		p.broadcastOnlineCount(ctx, presence.CityKey)
	}
}

// OnlineCount returns the number of online drivers for a city key.
func (p *PresenceRegistry) OnlineCount(ctx context.Context, cityKey string) (int, error) {
	drivers, err := p.store.OnlineInCity(ctx, cityKey)
	if err != nil {
		return 0, err
	}
	return len(drivers), nil
}

func (p *PresenceRegistry) broadcastOnlineCount(ctx context.Context, cityKey string) {
	count, err := p.OnlineCount(ctx, cityKey)
	if err != nil {
		log.Printf("city %s: online count query failed: %v", cityKey, err)
		return
	}
	p.notifier.NotifyCity(cityKey, NotifyOnlineCount, map[string]any{
		"city_key": cityKey,
		"count":    count,
	})
}

func (p *PresenceRegistry) cityFromLocation(ctx context.Context, loc models.Location) string {
	if p.geocoder == nil {
		return ""
	}
	place, err := p.geocoder.Reverse(ctx, loc.Lat, loc.Lng)
	if err != nil || place == nil {
		return ""
	}
	return place.City
}
