package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drsabri-stc/stcedge/internal/datastore/entities"
	"github.com/drsabri-stc/stcedge/internal/push"
)

// subscriptionRepository implements push.Repository.
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a SQL-backed push.Repository.
func NewSubscriptionRepository(db *gorm.DB) push.Repository {
	return &subscriptionRepository{db: db}
}

// List returns subscriptions in insertion order.
func (r *subscriptionRepository) List(ctx context.Context) ([]push.Subscription, error) {
	var rows []entities.PushSubscription
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	subs := make([]push.Subscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, toSubscription(&rows[i]))
	}
	return subs, nil
}

// Append stores sub. An existing endpoint is left untouched.
func (r *subscriptionRepository) Append(ctx context.Context, sub push.Subscription) error {
	row := fromSubscription(sub)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append push subscription: %w", err)
	}
	return nil
}

// Replace swaps the whole table content for subs in one transaction.
func (r *subscriptionRepository) Replace(ctx context.Context, subs []push.Subscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entities.PushSubscription{}).Error; err != nil {
			return fmt.Errorf("failed to clear push subscriptions: %w", err)
		}
		if len(subs) == 0 {
			return nil
		}
		rows := make([]entities.PushSubscription, 0, len(subs))
		for _, s := range subs {
			rows = append(rows, fromSubscription(s))
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to replace push subscriptions: %w", err)
		}
		return nil
	})
}

func fromSubscription(s push.Subscription) entities.PushSubscription {
	return entities.PushSubscription{
		Endpoint:       s.Endpoint,
		EndpointHash:   hashKey(s.Endpoint),
		P256dh:         s.Keys.P256dh,
		Auth:           s.Keys.Auth,
		ExpirationTime: s.ExpirationTime,
	}
}

func toSubscription(e *entities.PushSubscription) push.Subscription {
	return push.Subscription{
		Endpoint:       e.Endpoint,
		ExpirationTime: e.ExpirationTime,
		Keys:           push.Keys{P256dh: e.P256dh, Auth: e.Auth},
	}
}
