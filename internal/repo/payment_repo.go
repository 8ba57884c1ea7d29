// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PaymentIntent model: single-use, expiring, user-bound payment tokens.
//
// The consumption path fails closed. Every verification condition (token
// known, user bound, still pending, not expired) sits in the WHERE clause of
// one UPDATE, so concurrent redemption attempts of the same token yield
// exactly one success and the loser observes no state change.
package repo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

// ErrDuplicate indicates a payment token collision on insert. With 256-bit
// random tokens this is astronomically unlikely; CreatePaymentIntent retries
// once before giving up.
var ErrDuplicate = errors.New("duplicate")

// Consumption failures. All of them must surface to the payer as the same
// generic rejection; the distinction exists for security logging only.
var (
	ErrIntentUnknown      = errors.New("payment intent unknown")
	ErrIntentUserMismatch = errors.New("payment intent bound to another user")
	ErrIntentConsumed     = errors.New("payment intent already consumed")
	ErrIntentExpired      = errors.New("payment intent expired")
)

// tokenEntropyBytes sizes the bearer token at 256 bits, hex-encoded to 64
// characters.
const tokenEntropyBytes = 32

// newPaymentToken mints a cryptographically random bearer token.
func newPaymentToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreatePaymentIntent mints a fresh token and stores a pending intent for
// userID expiring at now+ttl. creditCount carries the purchased quantity for
// message packs and is zero for subscriptions.
func CreatePaymentIntent(ctx context.Context, db *gorm.DB, userID string, kind domain.IntentKind, amount int64, creditCount int, ttl time.Duration, now time.Time) (*domain.PaymentIntent, error) {
	ts := now.UTC()
	// One retry on token collision keeps the path total without looping forever.
	for attempt := 0; attempt < 2; attempt++ {
		token, err := newPaymentToken()
		if err != nil {
			return nil, err
		}
		rec := &domain.PaymentIntent{
			ID:          uuid.NewString(),
			UserID:      userID,
			Token:       token,
			Kind:        kind,
			Amount:      amount,
			CreditCount: creditCount,
			Status:      domain.IntentPending,
			CreatedAt:   ts,
			ExpiresAt:   ts.Add(ttl),
		}
		err = db.WithContext(ctx).Create(rec).Error
		if err == nil {
			return rec, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
	}
	return nil, ErrDuplicate
}

// GetPaymentIntent fetches an intent by its token, or ErrNotFound.
func GetPaymentIntent(ctx context.Context, db *gorm.DB, token string) (*domain.PaymentIntent, error) {
	var rec domain.PaymentIntent
	if err := db.WithContext(ctx).Where("payment_token = ?", token).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ConsumePaymentIntent atomically flips a pending, unexpired intent bound to
// claimedUser into completed, stamping UsedAt, and returns the consumed
// record. On any failed condition the intent is left untouched and one of
// ErrIntentUnknown, ErrIntentUserMismatch, ErrIntentConsumed or
// ErrIntentExpired is returned, classified from a follow-up read.
func ConsumePaymentIntent(ctx context.Context, db *gorm.DB, token, claimedUser string, now time.Time) (*domain.PaymentIntent, error) {
	ts := now.UTC()
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_intents
		 SET status = ?, used_at = ?
		 WHERE payment_token = ? AND user_id = ? AND status = ? AND expires_at > ?`,
		domain.IntentCompleted, ts, token, claimedUser, domain.IntentPending, ts,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return GetPaymentIntent(ctx, db, token)
	}

	// Nothing flipped: classify for the security log. State is unchanged.
	rec, err := GetPaymentIntent(ctx, db, token)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrIntentUnknown
	case err != nil:
		return nil, err
	case rec.UserID != claimedUser:
		return nil, ErrIntentUserMismatch
	case rec.Status != domain.IntentPending:
		return nil, ErrIntentConsumed
	default:
		return nil, ErrIntentExpired
	}
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
