package model

import "time"

// User represents an employee account. Authentication lives in an external
// service; this backend only needs the identity and display fields.
type User struct {
	ID        int64  `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;size:255;not null"`
	Username  string `gorm:"uniqueIndex;size:150;not null"`
	FirstName string `gorm:"size:100"`
	LastName  string `gorm:"size:100"`
	IsAdmin   bool
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// DisplayName returns the name shown on desk displays.
func (u *User) DisplayName() string {
	if u.FirstName == "" {
		return u.Username
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
