package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/internal/store"
)

// GetProfile returns the authenticated user's profile.
func GetProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		var user models.User
		if result := db.First(&user, userID); result.Error != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		c.JSON(200, gin.H{"user": userResponse(&user)})
	}
}

type UpdateProfileInput struct {
	Username      string `json:"username"`
	Phone         string `json:"phone"`
	City          string `json:"city"`
	DriverName    string `json:"driverName"`
	VehicleType   string `json:"vehicleType"`
	VehicleNumber string `json:"vehicleNumber"`
}

// UpdateProfile applies partial profile edits. Role and email are
// fixed at registration.
func UpdateProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		var input UpdateProfileInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if result := db.First(&user, userID); result.Error != nil {
			c.JSON(404, gin.H{"error": "User not found"})
			return
		}

		if input.Username != "" {
			user.Username = input.Username
		}
		if input.Phone != "" {
			user.PhoneNumber = input.Phone
		}
		if input.City != "" {
			user.City = input.City
		}
		if user.IsCabDriver() {
			if input.DriverName != "" {
				user.DriverName = input.DriverName
			}
			if input.VehicleType != "" {
				user.VehicleType = input.VehicleType
			}
			if input.VehicleNumber != "" {
				user.VehicleNumber = input.VehicleNumber
			}
		}

		if result := db.Save(&user); result.Error != nil {
			c.JSON(500, gin.H{"error": "Failed to update profile"})
			return
		}

		c.JSON(200, gin.H{"user": userResponse(&user)})
	}
}

type DeviceTokenInput struct {
	Token string `json:"token"`
}

// RegisterDeviceToken stores the caller's FCM token for push nudges.
// An empty token unregisters the device.
func RegisterDeviceToken(users *store.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		var input DeviceTokenInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if err := users.SetDeviceToken(c.Request.Context(), userID, input.Token); err != nil {
			c.JSON(500, gin.H{"error": "Failed to save device token"})
			return
		}

		c.JSON(200, gin.H{"message": "Device token updated"})
	}
}
