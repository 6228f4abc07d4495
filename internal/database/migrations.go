package database

import (
	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/models"
)

func RunMigrations(db *gorm.DB) error {
	// Create tables if they don't exist
	err := db.AutoMigrate(
		&models.User{},
		&models.Ride{},
		&models.RideEvent{},
		&models.DriverPresence{},
	)
	if err != nil {
		return err
	}

	// Backfill columns added after the initial schema
	if db.Migrator().HasTable(&models.User{}) {
		columns := []string{
			"ADD COLUMN IF NOT EXISTS cab_rating_avg numeric DEFAULT 0",
			"ADD COLUMN IF NOT EXISTS cab_rating_count integer DEFAULT 0",
			"ADD COLUMN IF NOT EXISTS device_token text DEFAULT ''",
		}
		for _, column := range columns {
			if err := db.Exec("ALTER TABLE users " + column).Error; err != nil {
				return err
			}
		}

		db.Exec(`ALTER TABLE users DROP CONSTRAINT IF EXISTS users_role_check`)
		db.Exec(`ALTER TABLE users ADD CONSTRAINT users_role_check CHECK (role IN ('TRAVELER', 'BUSINESS', 'PLATFORM_ADMIN'))`)
	}

	if db.Migrator().HasTable(&models.Ride{}) {
		columns := []string{
			"ADD COLUMN IF NOT EXISTS currency text DEFAULT 'INR'",
			"ADD COLUMN IF NOT EXISTS city_key text DEFAULT ''",
		}
		for _, column := range columns {
			if err := db.Exec("ALTER TABLE rides " + column).Error; err != nil {
				return err
			}
		}

		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_rides_traveler_status ON rides (traveler_id, status)`).Error; err != nil {
			return err
		}
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_rides_driver_status ON rides (driver_id, status)`).Error; err != nil {
			return err
		}
	}

	if db.Migrator().HasTable(&models.RideEvent{}) {
		if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_ride_events_ride_ts ON ride_events (ride_id, timestamp)`).Error; err != nil {
			return err
		}
	}

	return nil
}
