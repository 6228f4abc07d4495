package models

import (
	"encoding/json"
	"time"
)

// Ride statuses
const (
	RideStatusRequested            = "REQUESTED"
	RideStatusAcceptedPendingQuote = "ACCEPTED_PENDING_QUOTE"
	RideStatusQuoteSent            = "QUOTE_SENT"
	RideStatusQuoteAccepted        = "QUOTE_ACCEPTED"
	RideStatusDriverEnRoute        = "DRIVER_EN_ROUTE"
	RideStatusInProgress           = "IN_PROGRESS"
	RideStatusCompleted            = "COMPLETED"
	RideStatusCancelled            = "CANCELLED"
	RideStatusExpired              = "EXPIRED"
)

// ActiveRideStatuses are the non-terminal statuses. A traveler or driver
// may hold at most one ride in any of these at a time.
var ActiveRideStatuses = []string{
	RideStatusRequested,
	RideStatusAcceptedPendingQuote,
	RideStatusQuoteSent,
	RideStatusQuoteAccepted,
	RideStatusDriverEnRoute,
	RideStatusInProgress,
}

var rideTransitions = map[string][]string{
	RideStatusRequested:            {RideStatusAcceptedPendingQuote, RideStatusCancelled, RideStatusExpired},
	RideStatusAcceptedPendingQuote: {RideStatusQuoteSent, RideStatusCancelled, RideStatusExpired},
	RideStatusQuoteSent:            {RideStatusQuoteAccepted, RideStatusCancelled, RideStatusExpired},
	RideStatusQuoteAccepted:        {RideStatusDriverEnRoute, RideStatusInProgress, RideStatusCompleted, RideStatusCancelled},
	RideStatusDriverEnRoute:        {RideStatusInProgress, RideStatusCompleted, RideStatusCancelled},
	RideStatusInProgress:           {RideStatusCompleted, RideStatusCancelled},
	RideStatusCompleted:            {},
	RideStatusCancelled:            {},
	RideStatusExpired:              {},
}

// CanTransition reports whether the ride state machine permits moving
// from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range rideTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status has no outgoing transitions.
func IsTerminalStatus(status string) bool {
	return len(rideTransitions[status]) == 0
}

// IsActiveStatus reports whether a status counts toward the one-active-ride rule.
func IsActiveStatus(status string) bool {
	for _, s := range ActiveRideStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Location is a point with an optional human-readable address.
type Location struct {
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// Ride represents one active or historical trip negotiation between a
// traveler and a cab driver.
type Ride struct {
	ID           uint   `gorm:"primarykey"`
	TravelerID   uint   `gorm:"not null;index"`
	TravelerName string `gorm:"column:traveler_name"`

	DriverID      *uint  `gorm:"index"`
	DriverName    string `gorm:"column:driver_name"`
	VehicleType   string `gorm:"column:vehicle_type"`
	VehicleNumber string `gorm:"column:vehicle_number"`

	City    string `gorm:"column:city"`
	CityKey string `gorm:"column:city_key;index"`

	SourceAddr string  `gorm:"column:source_address"`
	SourceLat  float64 `gorm:"column:source_lat"`
	SourceLng  float64 `gorm:"column:source_lng"`
	DestAddr   string  `gorm:"column:dest_address"`
	DestLat    float64 `gorm:"column:dest_lat"`
	DestLng    float64 `gorm:"column:dest_lng"`

	Status      string   `gorm:"not null;index"`
	QuotedPrice *float64 `gorm:"column:quoted_price"`
	Currency    string   `gorm:"column:currency;default:'INR'"`
	QuoteNote   string   `gorm:"column:quote_note"`

	DriverLat  *float64 `gorm:"column:driver_lat"`
	DriverLng  *float64 `gorm:"column:driver_lng"`
	DriverAddr string   `gorm:"column:driver_address"`
	EtaMinutes *int     `gorm:"column:eta_minutes"`

	StartOTP           *string    `gorm:"column:start_otp"`
	StartOTPCreatedAt  *time.Time `gorm:"column:start_otp_created_at"`
	StartOTPVerifiedAt *time.Time `gorm:"column:start_otp_verified_at"`

	RatingStars     *int       `gorm:"column:rating_stars"`
	RatingMessage   string     `gorm:"column:rating_message"`
	RatingUpdatedAt *time.Time `gorm:"column:rating_updated_at"`

	AcceptedAt  *time.Time `gorm:"column:accepted_at"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// Source returns the pickup point.
func (r *Ride) Source() Location {
	return Location{Address: r.SourceAddr, Lat: r.SourceLat, Lng: r.SourceLng}
}

// Destination returns the dropoff point.
func (r *Ride) Destination() Location {
	return Location{Address: r.DestAddr, Lat: r.DestLat, Lng: r.DestLng}
}

// DriverLocation returns the driver's last reported location, or nil if
// the driver has not pinged yet.
func (r *Ride) DriverLocation() *Location {
	if r.DriverLat == nil || r.DriverLng == nil {
		return nil
	}
	return &Location{Address: r.DriverAddr, Lat: *r.DriverLat, Lng: *r.DriverLng}
}

// SetDriverLocation records the driver's latest position on the ride.
func (r *Ride) SetDriverLocation(loc Location) {
	lat, lng := loc.Lat, loc.Lng
	r.DriverLat = &lat
	r.DriverLng = &lng
	r.DriverAddr = loc.Address
}

// Rating returns the post-trip rating as a wire object, or nil if the
// ride has not been rated.
func (r *Ride) Rating() map[string]any {
	if r.RatingStars == nil && r.RatingMessage == "" {
		return nil
	}
	rating := map[string]any{"updated_at": r.RatingUpdatedAt}
	if r.RatingStars != nil {
		rating["stars"] = *r.RatingStars
	}
	if r.RatingMessage != "" {
		rating["message"] = r.RatingMessage
	}
	return rating
}

// AsJSON builds the traveler-facing wire payload for the ride, with
// nested source/destination/driver_location/rating objects.
func (r *Ride) AsJSON() map[string]any {
	payload := map[string]any{
		"id":            r.ID,
		"traveler_id":   r.TravelerID,
		"traveler_name": r.TravelerName,
		"driver_id":     r.DriverID,
		"city":          r.City,
		"city_key":      r.CityKey,
		"source":        r.Source(),
		"destination":   r.Destination(),
		"status":        r.Status,
		"quoted_price":  r.QuotedPrice,
		"currency":      r.Currency,
		"eta_minutes":   r.EtaMinutes,
		"created_at":    r.CreatedAt,
		"updated_at":    r.UpdatedAt,
		"accepted_at":   r.AcceptedAt,
		"started_at":    r.StartedAt,
		"completed_at":  r.CompletedAt,
	}
	if r.DriverName != "" {
		payload["driver_name"] = r.DriverName
	}
	if r.VehicleType != "" {
		payload["vehicle_type"] = r.VehicleType
	}
	if r.VehicleNumber != "" {
		payload["vehicle_number"] = r.VehicleNumber
	}
	if r.QuoteNote != "" {
		payload["quote_note"] = r.QuoteNote
	}
	if loc := r.DriverLocation(); loc != nil {
		payload["driver_location"] = loc
	}
	if r.StartOTP != nil {
		payload["start_otp"] = *r.StartOTP
		payload["start_otp_created_at"] = r.StartOTPCreatedAt
	}
	if r.StartOTPVerifiedAt != nil {
		payload["start_otp_verified_at"] = r.StartOTPVerifiedAt
	}
	if rating := r.Rating(); rating != nil {
		payload["rating"] = rating
	}
	return payload
}

// AsDriverJSON builds the driver-facing wire payload. Driver payloads
// must never carry the start OTP.
func (r *Ride) AsDriverJSON() map[string]any {
	payload := r.AsJSON()
	delete(payload, "start_otp")
	delete(payload, "start_otp_created_at")
	return payload
}

// Ride event types
const (
	EventRideRequested  = "RIDE_REQUESTED"
	EventRideAccepted   = "RIDE_ACCEPTED"
	EventQuoteSent      = "QUOTE_SENT"
	EventQuoteAccepted  = "QUOTE_ACCEPTED"
	EventQuoteRejected  = "QUOTE_REJECTED"
	EventDriverEnRoute  = "DRIVER_EN_ROUTE"
	EventRideStarted    = "RIDE_STARTED"
	EventRideCompleted  = "RIDE_COMPLETED"
	EventRideCancelled  = "RIDE_CANCELLED"
	EventRequestExpired = "REQUEST_EXPIRED"
	EventQuoteExpired   = "QUOTE_EXPIRED"
	EventRideRated      = "RIDE_RATED"
)

// SystemActor is the actor recorded on timer-driven events.
const SystemActor = "system"

// RideEvent is an append-only audit row. Events are written once per
// meaningful transition and never mutated or deleted.
type RideEvent struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	RideID    uint            `gorm:"not null;index" json:"ride_id"`
	EventType string          `gorm:"not null" json:"event_type"`
	ActorID   string          `gorm:"not null" json:"actor_id"`
	Payload   json.RawMessage `gorm:"type:jsonb" json:"payload"`
	Timestamp time.Time       `gorm:"not null" json:"timestamp"`
}

// TableName specifies the table name
func (RideEvent) TableName() string {
	return "ride_events"
}

// NewRideEvent builds an audit row with the payload marshalled in place.
// A payload that fails to marshal is recorded as an empty object rather
// than failing the transition that produced it.
func NewRideEvent(rideID uint, eventType, actorID string, payload map[string]any) *RideEvent {
	raw := json.RawMessage(`{}`)
	if len(payload) > 0 {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	return &RideEvent{
		RideID:    rideID,
		EventType: eventType,
		ActorID:   actorID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
}
