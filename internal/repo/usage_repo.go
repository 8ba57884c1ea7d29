// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Usage model:
// the per-user daily counter and purchased-credit balance.
//
// Concurrency contract: every mutation here is a single guarded UPDATE (or an
// upsert) whose WHERE clause carries the business condition, with the outcome
// read from RowsAffected. Correctness therefore never depends on a separate
// read: two concurrent consumers of the last free slot cannot both pass.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

// GetUsage fetches the single ledger row of userID, or ErrNotFound when the
// user has never sent a message nor bought credits.
func GetUsage(ctx context.Context, db *gorm.DB, userID string) (*domain.Usage, error) {
	var u domain.Usage
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// TryConsumeMessage atomically spends one message unit for userID at time now.
//
// Order of draw-down:
//  1. free tier, while used < dailyLimit for now's calendar day
//  2. purchased credits, while credits > 0
//
// A calendar-day rollover zeroes the free-tier counter on first touch of the
// new day; the credit balance is carried forward verbatim. Returns false
// without mutating state when both pools are exhausted.
func TryConsumeMessage(ctx context.Context, db *gorm.DB, userID string, dailyLimit int, now time.Time) (bool, error) {
	day := domain.DayOf(now)
	ts := now.UTC()

	allowed := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lazily create the ledger row; an existing row is left untouched.
		if err := tx.Exec(
			`INSERT INTO limits (user_id, date, used, credits, updated_at)
			 VALUES (?, ?, 0, 0, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			userID, day, ts,
		).Error; err != nil {
			return err
		}

		// Day rollover: reset the free-tier counter only. Credits persist.
		if err := tx.Exec(
			`UPDATE limits SET date = ?, used = 0, updated_at = ? WHERE user_id = ? AND date <> ?`,
			day, ts, userID, day,
		).Error; err != nil {
			return err
		}

		// Free tier first.
		res := tx.Exec(
			`UPDATE limits SET used = used + 1, updated_at = ? WHERE user_id = ? AND used < ?`,
			ts, userID, dailyLimit,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			allowed = true
			return nil
		}

		// Fall back to purchased credits.
		res = tx.Exec(
			`UPDATE limits SET credits = credits - 1, updated_at = ? WHERE user_id = ? AND credits > 0`,
			ts, userID,
		)
		if res.Error != nil {
			return res.Error
		}
		allowed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// AddCredits adds quantity purchased credits to userID, creating the ledger
// row if needed. Same-day free-tier usage and any existing balance are
// preserved: the upsert touches only the credit column. quantity must be
// positive.
func AddCredits(ctx context.Context, db *gorm.DB, userID string, quantity int, now time.Time) error {
	if quantity <= 0 {
		return errors.New("credit quantity must be positive")
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO limits (user_id, date, used, credits, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   credits = limits.credits + excluded.credits,
		   updated_at = excluded.updated_at`,
		userID, domain.DayOf(now), quantity, now.UTC(),
	).Error
}

// RemainingToday reports the free-tier remainder and credit balance of userID
// as of now, applying rollover semantics without writing anything. A missing
// row reads as a fresh ledger.
func RemainingToday(ctx context.Context, db *gorm.DB, userID string, dailyLimit int, now time.Time) (daily, credits int, err error) {
	u, err := GetUsage(ctx, db, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dailyLimit, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	used := u.Used
	if u.Day != domain.DayOf(now) {
		used = 0
	}
	daily = dailyLimit - used
	if daily < 0 {
		daily = 0
	}
	credits = u.Credits
	if credits < 0 {
		credits = 0
	}
	return daily, credits, nil
}
