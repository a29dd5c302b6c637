package models

import (
	"time"
)

// User represents the users table. Account lifecycle (registration,
// passwords, roles) is owned by the auth service; this subsystem only
// reads the columns it needs to label nearby results.
// DB: users
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"column:name;size:100;not null" json:"name"`
	Email      string    `gorm:"column:email;size:255;not null;uniqueIndex:users_email_key" json:"email"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	DateJoined time.Time `gorm:"column:date_joined;not null;autoCreateTime" json:"date_joined"`

	// Relations
	Location *UserLocation `gorm:"foreignKey:UserID" json:"location,omitempty"`
}

func (User) TableName() string {
	return "users"
}
