package dispatch

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/internal/store"
	"github.com/tripallied/tripallied-backend/pkg/utils"
)

// Offer timeout defaults.
const (
	DefaultRequestTimeout = 45 * time.Second
	DefaultQuoteTimeout   = 120 * time.Second
)

// Outbound notification names of the realtime protocol.
const (
	NotifyStatusChanged   = "status_changed"
	NotifyRequestReceived = "request_received"
	NotifyQuoteReceived   = "quote_received"
	NotifyOTPGenerated    = "otp_generated"
	NotifyLocationUpdated = "location_updated"
	NotifyEtaUpdated      = "eta_updated"
	NotifyCompleted       = "completed"
	NotifyOnlineCount     = "online_count"
	NotifyPresenceUpdated = "presence_updated"
)

// RideStore is the persistence surface the dispatcher needs for rides.
type RideStore interface {
	Create(ctx context.Context, ride *models.Ride) error
	Get(ctx context.Context, id uint) (*models.Ride, error)
	Save(ctx context.Context, ride *models.Ride) error
	CompareAndSwapStatus(ctx context.Context, id uint, expected string, mutate func(*models.Ride)) (*models.Ride, store.CASOutcome, error)
	ActiveForTraveler(ctx context.Context, travelerID uint) (*models.Ride, error)
	ActiveForDriver(ctx context.Context, driverID uint) (*models.Ride, error)
	AppendEvent(ctx context.Context, event *models.RideEvent) error
}

// PresenceStore is the persistence surface for driver heartbeat rows.
type PresenceStore interface {
	Get(ctx context.Context, driverID uint) (*models.DriverPresence, error)
	Upsert(ctx context.Context, presence *models.DriverPresence) error
	OnlineInCity(ctx context.Context, cityKey string) ([]models.DriverPresence, error)
	ClearIfConnection(ctx context.Context, driverID uint, connectionID string) (*models.DriverPresence, bool, error)
}

// UserStore resolves actor profiles and holds the driver rating aggregate.
type UserStore interface {
	Get(ctx context.Context, id uint) (*models.User, error)
	ApplyDriverRating(ctx context.Context, driverID uint, stars int) error
}

// Notifier fans events out to connected clients. Delivery is
// fire-and-forget: a disconnected recipient never fails a transition.
type Notifier interface {
	NotifyUser(userID uint, event string, payload map[string]any)
	NotifyRide(rideID uint, event string, payload map[string]any)
	NotifyCity(cityKey string, event string, payload map[string]any)
}

// Geocoder resolves free-text addresses and coordinates to places.
type Geocoder interface {
	Forward(ctx context.Context, address, cityHint string) (*GeocodedPlace, error)
	Reverse(ctx context.Context, lat, lng float64) (*GeocodedPlace, error)
}

// GeocodedPlace is a resolved point plus the city it falls in.
type GeocodedPlace struct {
	models.Location
	City string
}

// LocationCache keeps the last known driver position hot for reads.
type LocationCache interface {
	SetDriverLocation(ctx context.Context, driverID uint, loc models.Location) error
}

// PushSender nudges drivers about new requests over out-of-band push.
type PushSender interface {
	PushRideRequested(ctx context.Context, driverID uint, ride *models.Ride)
}

// Dispatcher is the ride lifecycle state machine. It is the sole writer
// of ride status: every mutating command, realtime or REST, funnels
// through one of its operations.
type Dispatcher struct {
	rides     RideStore
	presence  PresenceStore
	users     UserStore
	scheduler *Scheduler
	notifier  Notifier
	geocoder  Geocoder
	cache     LocationCache
	push      PushSender

	RequestTimeout time.Duration
	QuoteTimeout   time.Duration
}

func NewDispatcher(rides RideStore, presence PresenceStore, users UserStore, scheduler *Scheduler, notifier Notifier, geocoder Geocoder) *Dispatcher {
	return &Dispatcher{
		rides:          rides,
		presence:       presence,
		users:          users,
		scheduler:      scheduler,
		notifier:       notifier,
		geocoder:       geocoder,
		RequestTimeout: DefaultRequestTimeout,
		QuoteTimeout:   DefaultQuoteTimeout,
	}
}

// WithLocationCache attaches an optional hot cache for driver positions.
func (d *Dispatcher) WithLocationCache(cache LocationCache) *Dispatcher {
	d.cache = cache
	return d
}

// WithPushSender attaches optional push notifications for request fan-out.
func (d *Dispatcher) WithPushSender(push PushSender) *Dispatcher {
	d.push = push
	return d
}

// PointInput is a client-supplied place: coordinates, an address, or both.
type PointInput struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

// RequestRideCommand carries a traveler's ride request.
type RequestRideCommand struct {
	Source             PointInput `json:"source"`
	Destination        PointInput `json:"destination"`
	UseCurrentLocation bool       `json:"use_current_location"`
}

// RequestRide creates a ride in REQUESTED, fans the request out to every
// online driver in the resolved city, and arms the request timer.
func (d *Dispatcher) RequestRide(ctx context.Context, traveler *models.User, cmd RequestRideCommand) (*models.Ride, error) {
	if !traveler.IsTraveler() {
		return nil, NewError(CodeForbidden, "Only travelers can request rides.")
	}

	active, err := d.rides.ActiveForTraveler(ctx, traveler.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &Error{Code: CodeActiveRideExists, Message: "You already have an active ride.", Ride: active}
	}

	source, destination, err := d.ResolveRoute(ctx, traveler, cmd)
	if err != nil {
		return nil, err
	}
	if source.City == "" {
		return nil, NewError(CodeCityResolutionFailed, "Unable to determine city from source location.")
	}

	now := time.Now().UTC()
	ride := &models.Ride{
		TravelerID:   traveler.ID,
		TravelerName: traveler.DisplayName(),
		City:         source.City,
		CityKey:      utils.NormalizeCityKey(source.City),
		SourceAddr:   source.Address,
		SourceLat:    source.Lat,
		SourceLng:    source.Lng,
		DestAddr:     destination.Address,
		DestLat:      destination.Lat,
		DestLng:      destination.Lng,
		Status:       models.RideStatusRequested,
		Currency:     "INR",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.rides.Create(ctx, ride); err != nil {
		return nil, err
	}
	d.appendEvent(ride.ID, models.EventRideRequested, actorID(traveler.ID), map[string]any{"city": ride.City})

	d.fanOutRequest(ctx, ride)
	d.emitStatus(ride)
	d.armRequestTimer(ride.ID)
	return ride, nil
}

// fanOutRequest notifies every online driver presence in the ride's city.
func (d *Dispatcher) fanOutRequest(ctx context.Context, ride *models.Ride) {
	drivers, err := d.presence.OnlineInCity(ctx, ride.CityKey)
	if err != nil {
		log.Printf("ride %d: fan-out presence query failed: %v", ride.ID, err)
		return
	}
	summary := map[string]any{
		"id":            ride.ID,
		"city":          ride.City,
		"source":        ride.Source(),
		"destination":   ride.Destination(),
		"traveler_name": ride.TravelerName,
		"status":        ride.Status,
		"created_at":    ride.CreatedAt,
	}
	for _, presence := range drivers {
		d.notifier.NotifyUser(presence.DriverID, NotifyRequestReceived, map[string]any{"ride": summary})
		if d.push != nil {
			// Push runs on its own goroutine and context; the traveler's
			// command must not wait out FCM round trips.
			go d.push.PushRideRequested(context.Background(), presence.DriverID, ride)
		}
	}
}

// AcceptRequest assigns the driver to a REQUESTED ride. Concurrent
// accepts by two drivers are arbitrated by the store's conditional
// update: exactly one wins, the loser gets RIDE_NOT_AVAILABLE. The same
// driver re-accepting a ride already assigned to them is an idempotent
// no-op so that reconnect retries carry no side effects.
func (d *Dispatcher) AcceptRequest(ctx context.Context, driver *models.User, rideID uint) (*models.Ride, error) {
	if !driver.IsCabDriver() {
		return nil, NewError(CodeForbidden, "Only cab drivers can accept ride requests.")
	}

	active, err := d.rides.ActiveForDriver(ctx, driver.ID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.ID != rideID {
		return nil, &Error{Code: CodeActiveRideExists, Message: "You already have an active ride.", Ride: active}
	}

	presence, err := d.presence.Get(ctx, driver.ID)
	if err != nil {
		return nil, err
	}
	if presence == nil || !presence.Online {
		return nil, NewError(CodeDriverOffline, "Driver must be online to accept requests.")
	}

	current, err := d.rides.Get(ctx, rideID)
	if err == store.ErrNotFound {
		return nil, NewError(CodeNotFound, "Ride not found.")
	}
	if err != nil {
		return nil, err
	}
	// Ride city is fixed at creation, so the eligibility check can
	// precede the conditional update.
	if current.CityKey != "" && current.CityKey != presence.CityKey {
		return nil, NewError(CodeCityMismatch, "Ride city does not match your online city.")
	}

	now := time.Now().UTC()
	ride, outcome, err := d.rides.CompareAndSwapStatus(ctx, rideID, models.RideStatusRequested, func(r *models.Ride) {
		driverID := driver.ID
		r.DriverID = &driverID
		r.DriverName = driver.DisplayName()
		r.VehicleType = driver.VehicleType
		r.VehicleNumber = driver.VehicleNumber
		r.Status = models.RideStatusAcceptedPendingQuote
		r.AcceptedAt = &now
		r.UpdatedAt = now
	})
	if err != nil {
		return nil, err
	}

	switch outcome {
	case store.CASNotFound:
		return nil, NewError(CodeNotFound, "Ride not found.")
	case store.CASConflict:
		// Idempotent accept: same driver reopening the same request card.
		if ride.DriverID != nil && *ride.DriverID == driver.ID && models.IsActiveStatus(ride.Status) {
			return ride, nil
		}
		if ride.DriverID != nil {
			return nil, NewError(CodeRideNotAvailable, "Ride already accepted by another driver.")
		}
		return nil, NewError(CodeInvalidState, "Ride request is no longer active.")
	}

	d.scheduler.Disarm(rideID, PhaseRequest)
	d.appendEvent(rideID, models.EventRideAccepted, actorID(driver.ID), nil)
	d.emitStatus(ride)
	return ride, nil
}

// SubmitQuote records the driver's price offer and arms the quote timer.
func (d *Dispatcher) SubmitQuote(ctx context.Context, driver *models.User, rideID uint, price float64, currency, note string) (*models.Ride, error) {
	if !driver.IsCabDriver() {
		return nil, NewError(CodeForbidden, "Only cab drivers can submit quotes.")
	}
	if price <= 0 {
		return nil, NewError(CodeValidation, "price must be greater than zero.")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "INR"
	}
	note = strings.TrimSpace(note)

	ride, err := d.getAssignedRide(ctx, rideID, driver.ID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusAcceptedPendingQuote {
		return nil, NewError(CodeInvalidState, "Quote can only be sent after accepting the request.")
	}

	ride.QuotedPrice = &price
	ride.Currency = currency
	ride.QuoteNote = note
	ride.Status = models.RideStatusQuoteSent
	ride.UpdatedAt = time.Now().UTC()
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	d.appendEvent(rideID, models.EventQuoteSent, actorID(driver.ID), map[string]any{
		"price":    price,
		"currency": currency,
		"note":     note,
	})
	d.armQuoteTimer(rideID)
	d.notifier.NotifyUser(ride.TravelerID, NotifyQuoteReceived, map[string]any{"ride": ride.AsJSON()})
	d.emitStatus(ride)
	return ride, nil
}

// AcceptQuote locks in the driver's price and generates the start OTP.
// The OTP goes to the traveler only; the driver learns it in person.
func (d *Dispatcher) AcceptQuote(ctx context.Context, traveler *models.User, rideID uint) (*models.Ride, error) {
	ride, err := d.getOwnedRide(ctx, rideID, traveler.ID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusQuoteSent {
		return nil, NewError(CodeInvalidState, "Quote is not in an acceptable state.")
	}

	now := time.Now().UTC()
	otp := utils.GenerateOTP(fmt.Sprintf("ride-%d-start-%d", rideID, now.UnixNano()))
	ride.StartOTP = &otp
	ride.StartOTPCreatedAt = &now
	ride.Status = models.RideStatusQuoteAccepted
	ride.UpdatedAt = now
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	d.scheduler.Disarm(rideID, PhaseQuote)
	d.appendEvent(rideID, models.EventQuoteAccepted, actorID(traveler.ID), map[string]any{"start_otp_generated": true})
	d.notifier.NotifyUser(ride.TravelerID, NotifyOTPGenerated, map[string]any{"ride_id": rideID, "otp": otp})
	d.emitStatus(ride)
	return ride, nil
}

// RejectQuote cancels the ride from QUOTE_SENT.
func (d *Dispatcher) RejectQuote(ctx context.Context, traveler *models.User, rideID uint) (*models.Ride, error) {
	ride, err := d.getOwnedRide(ctx, rideID, traveler.ID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusQuoteSent {
		return nil, NewError(CodeInvalidState, "Only pending quotes can be rejected.")
	}

	ride.Status = models.RideStatusCancelled
	ride.UpdatedAt = time.Now().UTC()
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	d.scheduler.Disarm(rideID, PhaseQuote)
	d.appendEvent(rideID, models.EventQuoteRejected, actorID(traveler.ID), nil)
	d.emitStatus(ride)
	return ride, nil
}

// UpdateDriverLocation records a driver position ping. Pings always
// refresh the driver's presence row; when tied to a ride they refresh
// the ride's live location and ETA, and the first ping after a quote is
// accepted auto-advances the ride to DRIVER_EN_ROUTE. Location pings do
// not write audit events.
func (d *Dispatcher) UpdateDriverLocation(ctx context.Context, driver *models.User, rideID uint, loc models.Location) (*models.Ride, error) {
	if !driver.IsCabDriver() {
		return nil, NewError(CodeForbidden, "Only cab drivers can send location updates.")
	}

	d.touchPresenceLocation(ctx, driver.ID, loc)

	if rideID == 0 {
		return nil, nil
	}

	ride, err := d.getAssignedRide(ctx, rideID, driver.ID)
	if err != nil {
		return nil, err
	}

	previousStatus := ride.Status
	ride.SetDriverLocation(loc)
	if ride.Status == models.RideStatusQuoteAccepted && models.CanTransition(ride.Status, models.RideStatusDriverEnRoute) {
		ride.Status = models.RideStatusDriverEnRoute
	}

	var target *models.Location
	switch ride.Status {
	case models.RideStatusQuoteAccepted, models.RideStatusDriverEnRoute:
		source := ride.Source()
		target = &source
	case models.RideStatusInProgress:
		destination := ride.Destination()
		target = &destination
	}
	if eta := utils.EstimateEtaMinutes(&loc, target, utils.DefaultAvgSpeedKmph); eta != nil {
		ride.EtaMinutes = eta
	}

	ride.UpdatedAt = time.Now().UTC()
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	if ride.Status != previousStatus {
		d.appendEvent(rideID, models.EventDriverEnRoute, actorID(driver.ID), nil)
		d.emitStatus(ride)
	}
	d.emitLocationAndEta(ride)
	return ride, nil
}

// StartRide verifies the traveler's OTP and moves the ride IN_PROGRESS.
func (d *Dispatcher) StartRide(ctx context.Context, driver *models.User, rideID uint, submittedOTP string) (*models.Ride, error) {
	if !driver.IsCabDriver() {
		return nil, NewError(CodeForbidden, "Only cab drivers can start rides.")
	}
	submittedOTP = strings.TrimSpace(submittedOTP)
	if submittedOTP == "" {
		return nil, NewError(CodeOTPRequired, "OTP is required to start the ride.")
	}

	ride, err := d.getAssignedRide(ctx, rideID, driver.ID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusQuoteAccepted && ride.Status != models.RideStatusDriverEnRoute {
		return nil, NewError(CodeInvalidState, "Ride cannot be started from its current status.")
	}
	if ride.StartOTP == nil || *ride.StartOTP == "" {
		return nil, NewError(CodeOTPNotAvailable, "Ride OTP is unavailable. Ask the traveler to re-accept the quote.")
	}
	if submittedOTP != *ride.StartOTP {
		return nil, NewError(CodeOTPInvalid, "Incorrect OTP. Please verify with the traveler.")
	}

	now := time.Now().UTC()
	ride.Status = models.RideStatusInProgress
	ride.StartedAt = &now
	ride.StartOTPVerifiedAt = &now
	ride.StartOTP = nil
	ride.UpdatedAt = now
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	d.appendEvent(rideID, models.EventRideStarted, actorID(driver.ID), nil)
	d.emitStatus(ride)
	return ride, nil
}

// EndRide completes the ride. It is the one operation shared verbatim
// between the realtime gateway and the REST fallback, so it takes the
// caller's id rather than a loaded profile.
func (d *Dispatcher) EndRide(ctx context.Context, travelerID, rideID uint) (*models.Ride, error) {
	ride, err := d.getOwnedRide(ctx, rideID, travelerID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(ride.Status, models.RideStatusCompleted) {
		return nil, NewError(CodeInvalidState, "Ride can only be ended while active.")
	}

	now := time.Now().UTC()
	ride.Status = models.RideStatusCompleted
	ride.CompletedAt = &now
	ride.StartOTP = nil
	ride.UpdatedAt = now
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	d.scheduler.DisarmAll(rideID)
	d.appendEvent(rideID, models.EventRideCompleted, actorID(travelerID), nil)
	d.emitStatus(ride)
	d.notifier.NotifyUser(ride.TravelerID, NotifyCompleted, map[string]any{"ride": ride.AsJSON()})
	if ride.DriverID != nil {
		d.notifier.NotifyUser(*ride.DriverID, NotifyCompleted, map[string]any{"ride": ride.AsDriverJSON()})
	}
	return ride, nil
}

// RateRide records the traveler's post-trip rating and folds a star
// rating into the driver's running average.
func (d *Dispatcher) RateRide(ctx context.Context, travelerID, rideID uint, stars *int, message string) (*models.Ride, error) {
	message = strings.TrimSpace(message)
	if stars == nil && message == "" {
		return nil, NewError(CodeValidation, "A star rating or a message is required.")
	}
	if stars != nil && (*stars < 1 || *stars > 5) {
		return nil, NewError(CodeValidation, "stars must be between 1 and 5.")
	}

	ride, err := d.getOwnedRide(ctx, rideID, travelerID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusCompleted {
		return nil, NewError(CodeInvalidState, "Rating can only be submitted after ride completion.")
	}

	now := time.Now().UTC()
	ride.RatingStars = stars
	ride.RatingMessage = message
	ride.RatingUpdatedAt = &now
	ride.UpdatedAt = now
	if err := d.rides.Save(ctx, ride); err != nil {
		return nil, err
	}

	d.appendEvent(rideID, models.EventRideRated, actorID(travelerID), ride.Rating())

	if stars != nil && ride.DriverID != nil {
		if err := d.users.ApplyDriverRating(ctx, *ride.DriverID, *stars); err != nil {
			log.Printf("ride %d: driver %d rating aggregate update failed: %v", rideID, *ride.DriverID, err)
		}
	}
	return ride, nil
}

// GetVisibleRide returns the ride if the caller is party to it, with
// the driver-facing copy sanitized.
func (d *Dispatcher) GetVisibleRide(ctx context.Context, user *models.User, rideID uint) (*models.Ride, map[string]any, error) {
	ride, err := d.rides.Get(ctx, rideID)
	if err == store.ErrNotFound {
		return nil, nil, NewError(CodeNotFound, "Ride not found.")
	}
	if err != nil {
		return nil, nil, err
	}

	switch {
	case user.Role == models.RolePlatformAdmin:
		return ride, ride.AsJSON(), nil
	case user.IsTraveler() && ride.TravelerID == user.ID:
		return ride, ride.AsJSON(), nil
	case user.IsCabDriver() && ride.DriverID != nil && *ride.DriverID == user.ID:
		return ride, ride.AsDriverJSON(), nil
	}
	return nil, nil, NewError(CodeForbidden, "You do not have access to this ride.")
}

// armRequestTimer schedules expiry of an unanswered request. The fire
// callback revalidates status through the conditional update, so a
// timer racing a driver's accept resolves to a no-op.
func (d *Dispatcher) armRequestTimer(rideID uint) {
	d.scheduler.Arm(rideID, PhaseRequest, d.RequestTimeout, func() {
		d.expireRide(rideID, models.RideStatusRequested, models.EventRequestExpired)
	})
}

func (d *Dispatcher) armQuoteTimer(rideID uint) {
	d.scheduler.Arm(rideID, PhaseQuote, d.QuoteTimeout, func() {
		d.expireRide(rideID, models.RideStatusQuoteSent, models.EventQuoteExpired)
	})
}

// expireRide is the timer callback: best-effort and idempotent. A ride
// that already left the guarded status is left untouched.
func (d *Dispatcher) expireRide(rideID uint, guardedStatus, eventType string) {
	ctx := context.Background()
	ride, outcome, err := d.rides.CompareAndSwapStatus(ctx, rideID, guardedStatus, func(r *models.Ride) {
		r.Status = models.RideStatusExpired
		r.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		log.Printf("ride %d: expiry from %s failed: %v", rideID, guardedStatus, err)
		return
	}
	if outcome != store.CASApplied {
		return
	}

	d.appendEvent(rideID, eventType, models.SystemActor, nil)
	d.emitStatus(ride)
}

func (d *Dispatcher) getOwnedRide(ctx context.Context, rideID, travelerID uint) (*models.Ride, error) {
	ride, err := d.rides.Get(ctx, rideID)
	if err == store.ErrNotFound {
		return nil, NewError(CodeNotFound, "Ride not found.")
	}
	if err != nil {
		return nil, err
	}
	if ride.TravelerID != travelerID {
		return nil, NewError(CodeForbidden, "Only the ride traveler can perform this action.")
	}
	return ride, nil
}

func (d *Dispatcher) getAssignedRide(ctx context.Context, rideID, driverID uint) (*models.Ride, error) {
	ride, err := d.rides.Get(ctx, rideID)
	if err == store.ErrNotFound {
		return nil, NewError(CodeNotFound, "Ride not found.")
	}
	if err != nil {
		return nil, err
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return nil, NewError(CodeForbidden, "You are not assigned to this ride.")
	}
	return ride, nil
}

// ResolveRoute resolves a ride's source and destination pair without
// creating anything. The traveler's home city seeds the hints, the
// resolved source city seeds the destination lookup, and a destination
// that lands in a different city than the source is re-resolved with
// the source's city as hint. Trips are city-local; this keeps ambiguous
// addresses from pulling the destination into a namesake elsewhere.
func (d *Dispatcher) ResolveRoute(ctx context.Context, traveler *models.User, cmd RequestRideCommand) (*GeocodedPlace, *GeocodedPlace, error) {
	source, err := d.resolvePoint(ctx, cmd.Source, cmd.UseCurrentLocation, traveler.City)
	if err != nil {
		return nil, nil, err
	}
	if cmd.UseCurrentLocation && source.City == "" {
		return nil, nil, NewError(CodeCityResolutionFailed, "Could not derive city from current location.")
	}

	destinationHint := source.City
	if destinationHint == "" {
		destinationHint = traveler.City
	}
	destination, err := d.resolvePoint(ctx, cmd.Destination, false, destinationHint)
	if err != nil {
		return nil, nil, err
	}

	sourceKey := utils.NormalizeCityKey(source.City)
	destinationKey := utils.NormalizeCityKey(destination.City)
	if sourceKey != "" && destinationKey != "" && sourceKey != destinationKey {
		if address := strings.TrimSpace(cmd.Destination.Address); address != "" {
			if rehomed, err := d.geocoder.Forward(ctx, address, source.City); err == nil && rehomed != nil {
				destination = rehomed
			}
		}
	}
	return source, destination, nil
}

// resolvePoint turns client input into a geocoded place. Coordinates
// are reverse-geocoded for a city; plain addresses are forward-geocoded
// with the given city hint.
func (d *Dispatcher) resolvePoint(ctx context.Context, input PointInput, preferClientAddress bool, cityHint string) (*GeocodedPlace, error) {
	if input.Lat != nil && input.Lng != nil {
		place, err := d.geocoder.Reverse(ctx, *input.Lat, *input.Lng)
		if err != nil || place == nil {
			// Keep the raw coordinates; the city check decides viability.
			place = &GeocodedPlace{Location: models.Location{Address: input.Address, Lat: *input.Lat, Lng: *input.Lng}}
		}
		if preferClientAddress && strings.TrimSpace(input.Address) != "" {
			place.Address = strings.TrimSpace(input.Address)
		}
		return place, nil
	}

	address := strings.TrimSpace(input.Address)
	if address == "" {
		return nil, NewError(CodeValidation, "A location with coordinates or an address is required.")
	}
	place, err := d.geocoder.Forward(ctx, address, cityHint)
	if err != nil || place == nil {
		return nil, NewError(CodeGeocodeFailed, "Could not resolve source/destination. Please refine addresses.")
	}
	return place, nil
}

// touchPresenceLocation refreshes the presence row and hot cache with a
// new driver position. Best-effort on both sides.
func (d *Dispatcher) touchPresenceLocation(ctx context.Context, driverID uint, loc models.Location) {
	presence, err := d.presence.Get(ctx, driverID)
	if err != nil || presence == nil {
		return
	}
	presence.SetLocation(loc)
	presence.LastSeenAt = time.Now().UTC()
	if err := d.presence.Upsert(ctx, presence); err != nil {
		log.Printf("driver %d: presence location update failed: %v", driverID, err)
	}
	if d.cache != nil {
		if err := d.cache.SetDriverLocation(ctx, driverID, loc); err != nil {
			log.Printf("driver %d: location cache update failed: %v", driverID, err)
		}
	}
}

// emitStatus notifies both parties and the ride room of a status
// change. Driver and room payloads never carry the start OTP.
func (d *Dispatcher) emitStatus(ride *models.Ride) {
	d.notifier.NotifyUser(ride.TravelerID, NotifyStatusChanged, map[string]any{"ride": ride.AsJSON()})
	if ride.DriverID != nil {
		d.notifier.NotifyUser(*ride.DriverID, NotifyStatusChanged, map[string]any{"ride": ride.AsDriverJSON()})
	}
	d.notifier.NotifyRide(ride.ID, NotifyStatusChanged, map[string]any{"ride": ride.AsDriverJSON()})
}

func (d *Dispatcher) emitLocationAndEta(ride *models.Ride) {
	locationPayload := map[string]any{"ride_id": ride.ID, "driver_location": ride.DriverLocation()}
	etaPayload := map[string]any{"ride_id": ride.ID, "eta_minutes": ride.EtaMinutes}

	d.notifier.NotifyUser(ride.TravelerID, NotifyLocationUpdated, locationPayload)
	d.notifier.NotifyUser(ride.TravelerID, NotifyEtaUpdated, etaPayload)
	if ride.DriverID != nil {
		d.notifier.NotifyUser(*ride.DriverID, NotifyLocationUpdated, locationPayload)
		d.notifier.NotifyUser(*ride.DriverID, NotifyEtaUpdated, etaPayload)
	}
	d.notifier.NotifyRide(ride.ID, NotifyLocationUpdated, locationPayload)
	d.notifier.NotifyRide(ride.ID, NotifyEtaUpdated, etaPayload)
}

// appendEvent writes one audit row. Audit failures are logged, never
// fatal to the transition that produced them.
func (d *Dispatcher) appendEvent(rideID uint, eventType, actor string, payload map[string]any) {
	event := models.NewRideEvent(rideID, eventType, actor, payload)
	if err := d.rides.AppendEvent(context.Background(), event); err != nil {
		log.Printf("ride %d: audit event %s not recorded: %v", rideID, eventType, err)
	}
}

func actorID(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}
