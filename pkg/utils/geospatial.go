package utils

import (
	"math"

	"github.com/tripallied/tripallied-backend/internal/models"
)

// DefaultAvgSpeedKmph is the assumed average city traffic speed used for
// ETA estimates.
const DefaultAvgSpeedKmph = 25.0

// HaversineKm calculates the distance between two points on Earth
// using the Haversine formula. Returns distance in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371 // Earth's radius in kilometers

	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180

	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dlng/2)*math.Sin(dlng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// EstimateEtaMinutes estimates travel time between two points at the
// given average speed. Returns nil when either point is missing or the
// speed is not positive; otherwise at least 1 minute.
func EstimateEtaMinutes(from, to *models.Location, avgSpeedKmph float64) *int {
	if from == nil || to == nil || avgSpeedKmph <= 0 {
		return nil
	}

	distanceKm := HaversineKm(from.Lat, from.Lng, to.Lat, to.Lng)
	minutes := int(math.Ceil(distanceKm / avgSpeedKmph * 60))

	// Minimum 1 minute
	if minutes < 1 {
		minutes = 1
	}

	return &minutes
}
