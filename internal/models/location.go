package models

import (
	"time"
)

// UserLocation is the last known position of a user: a single mutable
// cell per user, overwritten on every push. No history is retained.
// A row exists only after at least one successful push, so lat/lng are
// always present together.
// DB: user_locations
type UserLocation struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	UserID     uint      `gorm:"column:user_id;not null;uniqueIndex:user_locations_user_id_key" json:"user_id"`
	Lat        float64   `gorm:"column:lat;type:decimal(10,7);not null;index:idx_user_locations_lat_lng,priority:1" json:"lat"`
	Lng        float64   `gorm:"column:lng;type:decimal(10,7);not null;index:idx_user_locations_lat_lng,priority:2" json:"lng"`
	AccuracyM  *uint     `gorm:"column:accuracy_m" json:"accuracy_m,omitempty"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null;index:idx_user_locations_last_seen" json:"last_seen_at"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (UserLocation) TableName() string {
	return "user_locations"
}
