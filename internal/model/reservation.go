package model

import "time"

// ReservationStatus is the lifecycle state of a time-boxed booking.
type ReservationStatus string

const (
	ReservationPending             ReservationStatus = "pending"
	ReservationConfirmed           ReservationStatus = "confirmed"
	ReservationPendingConfirmation ReservationStatus = "pending_confirmation"
	ReservationActive              ReservationStatus = "active"
	ReservationCompleted           ReservationStatus = "completed"
	ReservationCancelled           ReservationStatus = "cancelled"
	ReservationNoShow              ReservationStatus = "no_show"
)

// Blocking reports whether a reservation in this status holds its time slot
// against other bookings on the same desk.
func (s ReservationStatus) Blocking() bool {
	return s == ReservationConfirmed || s == ReservationActive || s == ReservationPendingConfirmation
}

// Terminal reports whether the status admits no further transitions.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCompleted || s == ReservationCancelled || s == ReservationNoShow
}

// Reservation is a time-boxed desk booking. The [StartTime, EndTime)
// interval is half-open: two reservations conflict iff a < d && b > c.
type Reservation struct {
	ID             int64             `gorm:"primaryKey"`
	UserID         int64             `gorm:"index;not null"`
	DeskID         int64             `gorm:"index;not null"`
	StartTime      time.Time         `gorm:"index;not null"`
	EndTime        time.Time         `gorm:"not null"`
	Status         ReservationStatus `gorm:"size:32;not null;default:confirmed"`
	CheckedInAt    *time.Time
	CheckedOutAt   *time.Time
	CancelledAt    *time.Time
	CancelledByID  *int64 // nil for system-initiated settlement
	ReminderSentAt *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`

	// Associations
	User User `gorm:"constraint:OnDelete:CASCADE"`
	Desk Desk `gorm:"constraint:OnDelete:CASCADE"`
}

// Overlaps applies the half-open interval rule against another window.
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartTime.Before(end) && r.EndTime.After(start)
}
