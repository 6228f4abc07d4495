package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/dispatch"
	"github.com/tripallied/tripallied-backend/internal/models"
	"github.com/tripallied/tripallied-backend/internal/store"
)

// GetMyRides lists the traveler's ride history, newest first.
func GetMyRides(db *gorm.DB, rides *store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		history, err := rides.ListForTraveler(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load rides"})
			return
		}

		payload := make([]map[string]any, 0, len(history))
		for i := range history {
			payload = append(payload, history[i].AsJSON())
		}
		c.JSON(200, gin.H{"rides": payload})
	}
}

// GetDriverRides lists rides assigned to the driver, newest first.
func GetDriverRides(db *gorm.DB, rides *store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")

		user, ok := loadUser(c, db, userID)
		if !ok {
			return
		}
		if !user.IsCabDriver() {
			c.JSON(403, gin.H{"error": "Only cab drivers have assigned rides"})
			return
		}

		history, err := rides.ListForDriver(c.Request.Context(), userID)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load rides"})
			return
		}

		payload := make([]map[string]any, 0, len(history))
		for i := range history {
			payload = append(payload, history[i].AsDriverJSON())
		}
		c.JSON(200, gin.H{"rides": payload})
	}
}

// GetRide returns one ride visible to the caller.
func GetRide(db *gorm.DB, dispatcher *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		user, ok := loadUser(c, db, userID)
		if !ok {
			return
		}

		_, payload, err := dispatcher.GetVisibleRide(c.Request.Context(), user, rideID)
		if err != nil {
			respondDispatchError(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": payload})
	}
}

// EndRide is the REST fallback for ride completion. It runs the same
// transition as the realtime end_ride command.
func EndRide(dispatcher *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		ride, err := dispatcher.EndRide(c.Request.Context(), userID, rideID)
		if err != nil {
			respondDispatchError(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": ride.AsJSON()})
	}
}

type RatingInput struct {
	Stars   *int   `json:"stars"`
	Message string `json:"message"`
}

// RateRide records the traveler's rating for a completed ride.
func RateRide(dispatcher *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		var input RatingInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		ride, err := dispatcher.RateRide(c.Request.Context(), userID, rideID, input.Stars, input.Message)
		if err != nil {
			respondDispatchError(c, err)
			return
		}
		c.JSON(200, gin.H{"ride": ride.AsJSON()})
	}
}

// GetRideEvents returns the ride's audit trail in chronological order.
func GetRideEvents(db *gorm.DB, dispatcher *dispatch.Dispatcher, rides *store.RideStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		rideID, ok := rideIDParam(c)
		if !ok {
			return
		}

		user, ok := loadUser(c, db, userID)
		if !ok {
			return
		}

		// Visibility follows the ride itself.
		if _, _, err := dispatcher.GetVisibleRide(c.Request.Context(), user, rideID); err != nil {
			respondDispatchError(c, err)
			return
		}

		events, err := rides.EventsForRide(c.Request.Context(), rideID)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load ride events"})
			return
		}

		payload := make([]gin.H, 0, len(events))
		for _, event := range events {
			payload = append(payload, gin.H{
				"id":         event.ID,
				"ride_id":    event.RideID,
				"event_type": event.EventType,
				"actor_id":   event.ActorID,
				"payload":    event.Payload,
				"timestamp":  event.Timestamp,
			})
		}
		c.JSON(200, gin.H{"events": payload})
	}
}

func rideIDParam(c *gin.Context) (uint, bool) {
	raw := c.Param("rideId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(400, gin.H{"error": "Invalid ride id"})
		return 0, false
	}
	return uint(id), true
}

func loadUser(c *gin.Context, db *gorm.DB, userID uint) (*models.User, bool) {
	var user models.User
	if result := db.First(&user, userID); result.Error != nil {
		c.JSON(404, gin.H{"error": "User not found"})
		return nil, false
	}
	return &user, true
}

// respondDispatchError maps a dispatch error onto an HTTP status.
func respondDispatchError(c *gin.Context, err error) {
	dispatchErr := dispatch.AsError(err)

	status := 500
	switch dispatchErr.Code {
	case dispatch.CodeValidation, dispatch.CodeOTPRequired:
		status = 400
	case dispatch.CodeForbidden:
		status = 403
	case dispatch.CodeNotFound:
		status = 404
	case dispatch.CodeInvalidState, dispatch.CodeRideNotAvailable, dispatch.CodeActiveRideExists,
		dispatch.CodeDriverOffline, dispatch.CodeCityMismatch, dispatch.CodeOTPNotAvailable,
		dispatch.CodeOTPInvalid:
		status = 409
	case dispatch.CodeCityResolutionFailed, dispatch.CodeGeocodeFailed:
		status = 422
	}

	body := gin.H{"error": dispatchErr.Message, "code": dispatchErr.Code}
	if dispatchErr.Ride != nil {
		body["ride"] = dispatchErr.Ride.AsJSON()
	}
	c.JSON(status, body)
}
