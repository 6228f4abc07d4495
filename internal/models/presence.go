package models

import (
	"time"

	"gorm.io/gorm"
)

// DriverPresence is a driver's mutable heartbeat row: whether they are
// online, in which city, their last known location, and which live
// connection owns the presence. One row per driver.
type DriverPresence struct {
	gorm.Model
	DriverID     uint      `gorm:"column:driver_id;not null;uniqueIndex"`
	Online       bool      `gorm:"column:online;not null;default:false;index"`
	City         string    `gorm:"column:city"`
	CityKey      string    `gorm:"column:city_key;index"`
	Lat          *float64  `gorm:"column:lat"`
	Lng          *float64  `gorm:"column:lng"`
	Address      string    `gorm:"column:address"`
	ConnectionID *string   `gorm:"column:connection_id"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
}

// TableName specifies the table name
func (DriverPresence) TableName() string {
	return "driver_presence"
}

// Location returns the driver's last known position, or nil if unknown.
func (p *DriverPresence) Location() *Location {
	if p.Lat == nil || p.Lng == nil {
		return nil
	}
	return &Location{Address: p.Address, Lat: *p.Lat, Lng: *p.Lng}
}

// SetLocation records the driver's position on the presence row.
func (p *DriverPresence) SetLocation(loc Location) {
	lat, lng := loc.Lat, loc.Lng
	p.Lat = &lat
	p.Lng = &lng
	p.Address = loc.Address
}

// AsJSON builds the wire payload for presence updates.
func (p *DriverPresence) AsJSON() map[string]any {
	payload := map[string]any{
		"driver_id":    p.DriverID,
		"online":       p.Online,
		"city":         p.City,
		"city_key":     p.CityKey,
		"last_seen_at": p.LastSeenAt,
	}
	if loc := p.Location(); loc != nil {
		payload["location"] = loc
	}
	return payload
}
