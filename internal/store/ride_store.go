package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripallied/tripallied-backend/internal/models"
)

// ErrNotFound is returned by Get-style methods for missing rows.
var ErrNotFound = errors.New("record not found")

// CASOutcome reports how a CompareAndSwapStatus call resolved.
type CASOutcome int

const (
	// CASApplied means the ride matched the expected status and the
	// mutation was written.
	CASApplied CASOutcome = iota
	// CASConflict means the ride exists but its status no longer matches;
	// nothing was written.
	CASConflict
	// CASNotFound means the ride does not exist.
	CASNotFound
)

// RideStore persists rides and their append-only event log.
type RideStore struct {
	db *gorm.DB
}

func NewRideStore(db *gorm.DB) *RideStore {
	return &RideStore{db: db}
}

func (s *RideStore) Create(ctx context.Context, ride *models.Ride) error {
	return s.db.WithContext(ctx).Create(ride).Error
}

func (s *RideStore) Get(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).First(&ride, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (s *RideStore) Save(ctx context.Context, ride *models.Ride) error {
	return s.db.WithContext(ctx).Save(ride).Error
}

// CompareAndSwapStatus applies mutate to the ride only if its current
// status still equals expected, inside one transaction with the row
// locked. The losing caller of a race gets CASConflict and the ride as
// it stands, with no partial writes.
func (s *RideStore) CompareAndSwapStatus(ctx context.Context, id uint, expected string, mutate func(*models.Ride)) (*models.Ride, CASOutcome, error) {
	var ride models.Ride
	outcome := CASApplied

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ride, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = CASNotFound
			return nil
		}
		if err != nil {
			return err
		}
		if ride.Status != expected {
			outcome = CASConflict
			return nil
		}
		mutate(&ride)
		return tx.Save(&ride).Error
	})
	if err != nil {
		return nil, CASConflict, err
	}
	if outcome == CASNotFound {
		return nil, outcome, nil
	}
	return &ride, outcome, nil
}

// ActiveForTraveler returns the traveler's ride in a non-terminal
// status, or nil when they have none.
func (s *RideStore) ActiveForTraveler(ctx context.Context, travelerID uint) (*models.Ride, error) {
	return s.activeRide(ctx, "traveler_id = ?", travelerID)
}

// ActiveForDriver returns the driver's ride in a non-terminal status,
// or nil when they have none.
func (s *RideStore) ActiveForDriver(ctx context.Context, driverID uint) (*models.Ride, error) {
	return s.activeRide(ctx, "driver_id = ?", driverID)
}

func (s *RideStore) activeRide(ctx context.Context, query string, userID uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).
		Where(query, userID).
		Where("status IN ?", models.ActiveRideStatuses).
		First(&ride).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

// ListForTraveler returns all of a traveler's rides, newest first.
func (s *RideStore) ListForTraveler(ctx context.Context, travelerID uint) ([]models.Ride, error) {
	var rides []models.Ride
	err := s.db.WithContext(ctx).
		Where("traveler_id = ?", travelerID).
		Order("created_at DESC").
		Find(&rides).Error
	return rides, err
}

// ListForDriver returns all of a driver's rides, newest first.
func (s *RideStore) ListForDriver(ctx context.Context, driverID uint) ([]models.Ride, error) {
	var rides []models.Ride
	err := s.db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Order("created_at DESC").
		Find(&rides).Error
	return rides, err
}

// NonTerminalForUser returns every non-terminal ride the user is party
// to. Used for ride-room recovery on reconnect.
func (s *RideStore) NonTerminalForUser(ctx context.Context, userID uint) ([]models.Ride, error) {
	var rides []models.Ride
	err := s.db.WithContext(ctx).
		Where("traveler_id = ? OR driver_id = ?", userID, userID).
		Where("status IN ?", models.ActiveRideStatuses).
		Find(&rides).Error
	return rides, err
}

// AppendEvent writes one audit row. Events are write-only.
func (s *RideStore) AppendEvent(ctx context.Context, event *models.RideEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// EventsForRide returns a ride's audit log in chronological order.
func (s *RideStore) EventsForRide(ctx context.Context, rideID uint) ([]models.RideEvent, error) {
	var events []models.RideEvent
	err := s.db.WithContext(ctx).
		Where("ride_id = ?", rideID).
		Order("timestamp ASC").
		Find(&events).Error
	return events, err
}
