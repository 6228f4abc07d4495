package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Role string

const (
	RoleTraveler      Role = "TRAVELER"
	RoleBusiness      Role = "BUSINESS"
	RolePlatformAdmin Role = "PLATFORM_ADMIN"
)

// BusinessType tags the kind of business account. Only CAB_DRIVER
// accounts participate in ride dispatch.
type BusinessType string

const (
	BusinessTypeCabDriver    BusinessType = "CAB_DRIVER"
	BusinessTypeHotel        BusinessType = "HOTEL"
	BusinessTypeRestaurant   BusinessType = "RESTAURANT"
	BusinessTypeTouristGuide BusinessType = "TOURIST_GUIDE_SERVICE"
)

type User struct {
	gorm.Model
	Username     string `gorm:"column:username;unique;not null"`
	Email        string `gorm:"column:email;unique;not null"`
	Password     string `gorm:"-:migration"` // Temporary field for password handling
	PasswordHash string `gorm:"column:password_hash;not null"`
	PhoneNumber  string `gorm:"column:phone_number"`
	City         string `gorm:"column:city"`
	Role         Role   `gorm:"column:role;not null;default:'TRAVELER'"`

	BusinessType BusinessType `gorm:"column:business_type"`

	// Cab driver profile details
	DriverName    string `gorm:"column:driver_name"`
	VehicleType   string `gorm:"column:vehicle_type"`
	VehicleNumber string `gorm:"column:vehicle_number"`

	// Running rating aggregate, updated after each rated ride
	CabRatingAvg   float64 `gorm:"column:cab_rating_avg;default:0"`
	CabRatingCount int     `gorm:"column:cab_rating_count;default:0"`

	// FCM registration token for push nudges, empty when unregistered
	DeviceToken string `gorm:"column:device_token"`
}

// TableName specifies the table name
func (User) TableName() string {
	return "users"
}

// IsTraveler reports whether the user can issue traveler ride commands.
func (u *User) IsTraveler() bool {
	return u.Role == RoleTraveler
}

// IsCabDriver reports whether the user can issue driver ride commands.
func (u *User) IsCabDriver() bool {
	return u.Role == RoleBusiness && u.BusinessType == BusinessTypeCabDriver
}

// DisplayName picks the best available human-readable name.
func (u *User) DisplayName() string {
	if u.IsCabDriver() && u.DriverName != "" {
		return u.DriverName
	}
	return u.Username
}

func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
