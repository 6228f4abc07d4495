package store

import (
	"context"
	"errors"
	"math"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripallied/tripallied-backend/internal/models"
)

// UserStore reads user profiles and maintains the driver rating
// aggregate. User CRUD itself lives with the auth handlers.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ApplyDriverRating folds one star rating into the driver's running
// average: new_avg = (old_avg*old_count + stars) / (old_count+1).
func (s *UserStore) ApplyDriverRating(ctx context.Context, driverID uint, stars int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var driver models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&driver, driverID).Error; err != nil {
			return err
		}

		newCount := driver.CabRatingCount + 1
		newAvg := (driver.CabRatingAvg*float64(driver.CabRatingCount) + float64(stars)) / float64(newCount)

		driver.CabRatingCount = newCount
		driver.CabRatingAvg = math.Round(newAvg*100) / 100
		return tx.Save(&driver).Error
	})
}

// DeviceToken returns the user's registered FCM token, empty when the
// user never registered one.
func (s *UserStore) DeviceToken(ctx context.Context, userID uint) (string, error) {
	user, err := s.Get(ctx, userID)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.DeviceToken, nil
}

// SetDeviceToken stores or clears the user's FCM registration token.
func (s *UserStore) SetDeviceToken(ctx context.Context, userID uint, token string) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("device_token", token).Error
}
