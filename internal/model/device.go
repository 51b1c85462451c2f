package model

import "time"

// DeskDevice is the embedded confirmation/display unit attached to a desk.
// A desk has at most one device; its presence decides whether a claim must
// be physically confirmed before becoming occupied.
type DeskDevice struct {
	ID           int64      `gorm:"primaryKey"`
	DeskID       int64      `gorm:"uniqueIndex;not null"`
	HardwareAddr string     `gorm:"uniqueIndex;size:64;not null"`
	IPAddress    string     `gorm:"size:64"`
	Status       string     `gorm:"size:16;not null;default:offline"` // online | offline
	LastSeen     *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
