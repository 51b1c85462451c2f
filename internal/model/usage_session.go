package model

import "time"

// Session source tags.
const (
	SourceHotdesk     = "hotdesk"
	SourceReservation = "reservation"
)

// UsageSession is the ledger entry accumulating sitting/standing time while
// a claim is in effect. Time is attributed in segments bounded by height
// changes; the open segment (since LastHeightChange) is only persisted on
// the next mutation and projected forward for live reads.
type UsageSession struct {
	ID               int64     `gorm:"primaryKey"`
	UserID           int64     `gorm:"index;not null"`
	DeskID           int64     `gorm:"index;not null"`
	StartedAt        time.Time `gorm:"not null"`
	EndedAt          *time.Time
	SittingTime      int64 `gorm:"not null"` // seconds
	StandingTime     int64 `gorm:"not null"` // seconds
	PositionChanges  int   `gorm:"not null"`
	LastHeightChange time.Time `gorm:"not null"`
	Source           string    `gorm:"size:16;not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`

	// Associations
	User User `gorm:"constraint:OnDelete:CASCADE"`
	Desk Desk `gorm:"constraint:OnDelete:CASCADE"`
}

// Open reports whether the session is still accumulating time.
func (s *UsageSession) Open() bool { return s.EndedAt == nil }
