package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tripallied/tripallied-backend/internal/dispatch"
	"github.com/tripallied/tripallied-backend/internal/services"
)

// GeocodeRoute resolves a ride's source/destination pair before the
// traveler commits to a request. It runs the same resolution the
// dispatcher applies on request_ride, so the preview and the eventual
// ride always agree on addresses and city.
func GeocodeRoute(db *gorm.DB, dispatcher *dispatch.Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		user, ok := loadUser(c, db, userID)
		if !ok {
			return
		}

		var cmd dispatch.RequestRideCommand
		if err := c.ShouldBindJSON(&cmd); err != nil {
			c.JSON(400, gin.H{"error": "Request body must be a JSON object with source and destination."})
			return
		}

		source, destination, err := dispatcher.ResolveRoute(c.Request.Context(), user, cmd)
		if err != nil {
			respondDispatchError(c, err)
			return
		}

		c.JSON(200, gin.H{
			"source":      placeJSON(source),
			"destination": placeJSON(destination),
		})
	}
}

// GeocodeSuggest returns typeahead candidates for a partial address.
// Queries shorter than three characters answer with an empty list
// rather than hammering the provider on every keystroke.
func GeocodeSuggest(db *gorm.DB, geocoder *services.GeocodeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Query    string `json:"query"`
			Limit    int    `json:"limit"`
			CityHint string `json:"city_hint"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(400, gin.H{"error": "Request body must be a JSON object."})
			return
		}

		query := strings.TrimSpace(body.Query)
		if len(query) < 3 {
			c.JSON(200, gin.H{"suggestions": []services.Suggestion{}})
			return
		}

		cityHint := strings.TrimSpace(body.CityHint)
		if cityHint == "" {
			userID := c.GetUint("userId")
			user, ok := loadUser(c, db, userID)
			if !ok {
				return
			}
			cityHint = user.City
		}

		suggestions, err := geocoder.Suggest(c.Request.Context(), query, cityHint, body.Limit)
		if err != nil {
			c.JSON(502, gin.H{"error": "Suggestion provider unavailable"})
			return
		}

		c.JSON(200, gin.H{"suggestions": suggestions})
	}
}

func placeJSON(place *dispatch.GeocodedPlace) gin.H {
	return gin.H{
		"address": place.Address,
		"city":    place.City,
		"lat":     place.Lat,
		"lng":     place.Lng,
	}
}
