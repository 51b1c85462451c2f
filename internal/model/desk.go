package model

import "time"

// DeskStatus is the closed set of occupancy states a desk can be in.
// Raw device vocabulary (e.g. the motor's "Normal") is normalized to this
// set at the adapter boundary and never stored.
type DeskStatus string

const (
	StatusAvailable           DeskStatus = "available"
	StatusPendingVerification DeskStatus = "pending_verification"
	StatusOccupied            DeskStatus = "occupied"
	StatusMoving              DeskStatus = "moving"
	StatusMaintenance         DeskStatus = "maintenance"
	StatusError               DeskStatus = "error"
)

// Claimed reports whether the status implies a current claimant.
// Invariant: CurrentUserID is non-nil iff Claimed() is true.
func (s DeskStatus) Claimed() bool {
	return s == StatusPendingVerification || s == StatusOccupied || s == StatusMoving
}

// Desk represents a height-adjustable desk and its live occupancy state.
type Desk struct {
	ID            int64      `gorm:"primaryKey"`
	Name          string     `gorm:"uniqueIndex;size:128;not null"`
	Location      string     `gorm:"size:256"`
	ExternalID    string     `gorm:"size:64"` // motor control endpoint identifier
	MinHeight     float64    `gorm:"not null;default:68"`
	MaxHeight     float64    `gorm:"not null;default:132"`
	CurrentHeight float64    `gorm:"not null;default:75"`
	Status        DeskStatus `gorm:"size:32;not null;default:available"`
	CurrentUserID *int64     `gorm:"index"`
	CreatedAt     time.Time  `gorm:"not null"`
	UpdatedAt     time.Time  `gorm:"not null"`

	// Associations
	CurrentUser *User       `gorm:"foreignKey:CurrentUserID"`
	Device      *DeskDevice `gorm:"foreignKey:DeskID"`
}

// ClaimedBy reports whether the desk is currently claimed by the given user.
func (d *Desk) ClaimedBy(userID int64) bool {
	return d.CurrentUserID != nil && *d.CurrentUserID == userID
}

// HeightInBounds reports whether the target height is within the desk's
// physical range, inclusive on both ends.
func (d *Desk) HeightInBounds(h float64) bool {
	return h >= d.MinHeight && h <= d.MaxHeight
}
