package model

import "time"

// PushSubscription holds a browser push subscription for a user. A user may
// register several browsers; expired subscriptions are pruned on delivery.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	UserID    int64     `gorm:"index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
