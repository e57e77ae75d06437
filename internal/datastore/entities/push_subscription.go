package entities

import "time"

// PushSubscription is a stored Web Push subscription.
type PushSubscription struct {
	ID             uint      `gorm:"primaryKey"`
	Endpoint       string    `gorm:"type:text;not null"`
	EndpointHash   string    `gorm:"size:64;not null;uniqueIndex"`
	P256dh         string    `gorm:"size:255;not null"`
	Auth           string    `gorm:"size:255;not null"`
	ExpirationTime *int64
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (PushSubscription) TableName() string {
	return "push_subscriptions"
}
