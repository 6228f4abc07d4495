package utils

import (
	"math"
	"testing"

	"github.com/tripallied/tripallied-backend/internal/models"
)

func TestHaversineKm(t *testing.T) {
	// Jabalpur railway station to Dumna airport, roughly 18km apart.
	got := HaversineKm(23.1686, 79.9339, 23.1778, 80.0520)
	if got < 10 || got > 20 {
		t.Errorf("HaversineKm = %.2f, expected roughly 12km", got)
	}

	if got := HaversineKm(23.18, 79.98, 23.18, 79.98); got != 0 {
		t.Errorf("zero distance = %.6f, want 0", got)
	}
}

func TestEstimateEtaMinutes(t *testing.T) {
	from := &models.Location{Lat: 23.1686, Lng: 79.9339}
	to := &models.Location{Lat: 23.1778, Lng: 80.0520}

	eta := EstimateEtaMinutes(from, to, DefaultAvgSpeedKmph)
	if eta == nil {
		t.Fatal("expected an ETA, got nil")
	}
	wantMinutes := int(math.Ceil(HaversineKm(from.Lat, from.Lng, to.Lat, to.Lng) / DefaultAvgSpeedKmph * 60))
	if *eta != wantMinutes {
		t.Errorf("ETA = %d, want %d", *eta, wantMinutes)
	}
}

func TestEstimateEtaMinutesFloor(t *testing.T) {
	from := &models.Location{Lat: 23.16860, Lng: 79.93390}
	to := &models.Location{Lat: 23.16861, Lng: 79.93391}

	eta := EstimateEtaMinutes(from, to, DefaultAvgSpeedKmph)
	if eta == nil || *eta != 1 {
		t.Fatalf("near-zero distance ETA = %v, want 1", eta)
	}

	// Identical points must still report 1, never 0.
	same := &models.Location{Lat: 23.16, Lng: 79.93}
	eta = EstimateEtaMinutes(same, same, DefaultAvgSpeedKmph)
	if eta == nil || *eta != 1 {
		t.Fatalf("identical points ETA = %v, want 1", eta)
	}
}

func TestEstimateEtaMinutesMissingPoints(t *testing.T) {
	point := &models.Location{Lat: 23.1, Lng: 79.9}

	if eta := EstimateEtaMinutes(nil, point, DefaultAvgSpeedKmph); eta != nil {
		t.Errorf("nil from: got %d, want nil", *eta)
	}
	if eta := EstimateEtaMinutes(point, nil, DefaultAvgSpeedKmph); eta != nil {
		t.Errorf("nil to: got %d, want nil", *eta)
	}
	if eta := EstimateEtaMinutes(point, point, 0); eta != nil {
		t.Errorf("zero speed: got %d, want nil", *eta)
	}
}
