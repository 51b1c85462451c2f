package model

import "time"

// Desk log action vocabulary.
const (
	ActionHotdeskStarted = "hotdesk_started"
	ActionHotdeskEnded   = "hotdesk_ended"
	ActionClaimConfirmed = "claim_confirmed"
	ActionClaimCancelled = "claim_cancelled"
	ActionCheckedIn      = "reservation_checked_in"
	ActionCheckedOut     = "reservation_checked_out"
	ActionNoShow         = "reservation_no_show"
	ActionAutoCompleted  = "reservation_auto_completed"
	ActionHeightChanged  = "height_changed"
)

// DeskLog is an append-only audit record of desk actions. UserID is nil for
// system actions (reclamation sweeps).
type DeskLog struct {
	ID        int64  `gorm:"primaryKey"`
	DeskID    int64  `gorm:"index;not null"`
	UserID    *int64 `gorm:"index"`
	Action    string `gorm:"size:64;not null"`
	Height    *float64
	CreatedAt time.Time `gorm:"index;not null"`

	// Associations
	Desk Desk `gorm:"constraint:OnDelete:CASCADE"`
}
