package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripallied/tripallied-backend/internal/models"
)

// PresenceStore persists one heartbeat row per driver.
type PresenceStore struct {
	db *gorm.DB
}

func NewPresenceStore(db *gorm.DB) *PresenceStore {
	return &PresenceStore{db: db}
}

// Get returns the driver's presence row, or nil when the driver has
// never gone online.
func (s *PresenceStore) Get(ctx context.Context, driverID uint) (*models.DriverPresence, error) {
	var presence models.DriverPresence
	err := s.db.WithContext(ctx).Where("driver_id = ?", driverID).First(&presence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &presence, nil
}

// Upsert writes the presence row, creating it on the driver's first
// online toggle.
func (s *PresenceStore) Upsert(ctx context.Context, presence *models.DriverPresence) error {
	var existing models.DriverPresence
	result := s.db.WithContext(ctx).Where("driver_id = ?", presence.DriverID).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(presence).Error
	}
	if result.Error != nil {
		return result.Error
	}

	presence.ID = existing.ID
	presence.CreatedAt = existing.CreatedAt
	return s.db.WithContext(ctx).Save(presence).Error
}

// OnlineInCity returns every online driver presence in the city key.
func (s *PresenceStore) OnlineInCity(ctx context.Context, cityKey string) ([]models.DriverPresence, error) {
	if cityKey == "" {
		return nil, nil
	}
	var presences []models.DriverPresence
	err := s.db.WithContext(ctx).
		Where("online = ? AND city_key = ?", true, cityKey).
		Find(&presences).Error
	return presences, err
}

// ClearIfConnection marks the driver offline only if the given
// connection still owns the presence row. A disconnect from a stale,
// already-superseded connection leaves the fresher presence untouched.
// Returns the row as it stood and whether it was cleared.
func (s *PresenceStore) ClearIfConnection(ctx context.Context, driverID uint, connectionID string) (*models.DriverPresence, bool, error) {
	var presence models.DriverPresence
	cleared := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("driver_id = ?", driverID).First(&presence).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if presence.ConnectionID == nil || *presence.ConnectionID != connectionID {
			return nil
		}
		presence.Online = false
		presence.ConnectionID = nil
		presence.LastSeenAt = time.Now().UTC()
		cleared = true
		return tx.Save(&presence).Error
	})
	if err != nil {
		return nil, false, err
	}
	if presence.DriverID == 0 {
		return nil, false, nil
	}
	return &presence, cleared, nil
}
