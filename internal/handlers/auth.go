package handlers

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/pkg/utils"
)

type RegisterInput struct {
	Username     string `json:"username" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	Phone        string `json:"phone"`
	City         string `json:"city"`
	Role         string `json:"role" binding:"required,oneof=TRAVELER BUSINESS"`
	BusinessType string `json:"businessType" binding:"omitempty,oneof=CAB_DRIVER HOTEL RESTAURANT TOURIST_GUIDE_SERVICE"`

	// Cab driver profile, required when businessType is CAB_DRIVER
	DriverName    string `json:"driverName"`
	VehicleType   string `json:"vehicleType"`
	VehicleNumber string `json:"vehicleNumber"`
}

func Register(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input RegisterInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if input.Role == string(models.RoleBusiness) && input.BusinessType == "" {
			c.JSON(400, gin.H{"error": "businessType is required for business accounts"})
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to hash password"})
			return
		}

		user := models.User{
			Username:      input.Username,
			Email:         input.Email,
			PasswordHash:  string(hashedPassword),
			PhoneNumber:   input.Phone,
			City:          input.City,
			Role:          models.Role(input.Role),
			BusinessType:  models.BusinessType(input.BusinessType),
			DriverName:    input.DriverName,
			VehicleType:   input.VehicleType,
			VehicleNumber: input.VehicleNumber,
		}

		if result := db.Create(&user); result.Error != nil {
			c.JSON(500, gin.H{"error": "Failed to create user: " + result.Error.Error()})
			return
		}

		token, err := utils.GenerateToken(&user)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(201, gin.H{
			"token": token,
			"user":  userResponse(&user),
		})
	}
}

type LoginInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func Login(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input LoginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var user models.User
		if result := db.Where("email = ?", input.Email).First(&user); result.Error != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}

		if err := user.CheckPassword(input.Password); err != nil {
			c.JSON(401, gin.H{"error": "Invalid credentials"})
			return
		}

		token, err := utils.GenerateToken(&user)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(200, gin.H{
			"token": token,
			"user":  userResponse(&user),
		})
	}
}

func userResponse(user *models.User) gin.H {
	response := gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"username":    user.Username,
		"phoneNumber": user.PhoneNumber,
		"city":        user.City,
		"role":        user.Role,
	}
	if user.Role == models.RoleBusiness {
		response["businessType"] = user.BusinessType
	}
	if user.IsCabDriver() {
		response["driverName"] = user.DriverName
		response["vehicleType"] = user.VehicleType
		response["vehicleNumber"] = user.VehicleNumber
		response["cabRatingAvg"] = user.CabRatingAvg
		response["cabRatingCount"] = user.CabRatingCount
	}
	return response
}
