// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Subscription
// model (one unlimited-access window per user).
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

// GetSubscription fetches the subscription row of userID, or ErrNotFound when
// the user never subscribed. Callers must check EndDate themselves: an expired
// row is kept and reads as "not subscribed".
func GetSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// IsSubscribed reports whether userID holds a window ending after now.
func IsSubscribed(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error) {
	s, err := GetSubscription(ctx, db, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.EndDate.After(now.UTC()), nil
}

// ExtendSubscription starts or renews the window of userID by durationDays.
//
// Renewal while still active appends to the existing end date, never losing
// unused time; renewal after expiry (or first purchase) starts from now.
// The whole read-extend-write runs in one transaction so concurrent renewals
// serialize and each adds its full duration.
func ExtendSubscription(ctx context.Context, db *gorm.DB, userID string, durationDays int, now time.Time) (*domain.Subscription, error) {
	ts := now.UTC()
	var out domain.Subscription

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		startFrom := ts
		var existing domain.Subscription
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		switch {
		case err == nil:
			if existing.EndDate.After(ts) {
				startFrom = existing.EndDate
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first purchase
		default:
			return err
		}

		newEnd := startFrom.Add(time.Duration(durationDays) * 24 * time.Hour)
		if err := tx.Exec(
			`INSERT INTO subscriptions (user_id, start_date, end_date, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET
			   end_date = excluded.end_date,
			   updated_at = excluded.updated_at`,
			userID, ts, newEnd, ts,
		).Error; err != nil {
			return err
		}

		return tx.Where("user_id = ?", userID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
