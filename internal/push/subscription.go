// Package push stores Web Push subscriptions and broadcasts notifications
// to them.
package push

import (
	"context"
	"time"
)

// Keys are the client's encryption keys from PushSubscription.toJSON().
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a browser push subscription as serialized by the client.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	// ExpirationTime is epoch milliseconds, or nil when the push service
	// set no expiry.
	ExpirationTime *int64 `json:"expirationTime"`
	Keys           Keys   `json:"keys"`
}

// Expired reports whether the subscription's expiry has passed at now.
func (s Subscription) Expired(now time.Time) bool {
	return s.ExpirationTime != nil && *s.ExpirationTime <= now.UnixMilli()
}

// Repository persists the subscription list.
type Repository interface {
	List(ctx context.Context) ([]Subscription, error)
	Append(ctx context.Context, sub Subscription) error
	Replace(ctx context.Context, subs []Subscription) error
}
