// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the transcript
// (Message model). The transcript is append-only and keyed by user; it feeds
// recent-context assembly for the generation backend and is trimmed by the
// retention janitor. It carries no entitlement state.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// AppendMessage inserts a transcript row for userID with the given role and
// content. CreatedAt is set to UTC. On failure, it returns a DB error.
func AppendMessage(ctx context.Context, db *gorm.DB, userID, role, content string) (*domain.Message, error) {
	m := &domain.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// RecentHistory returns the last limit messages for userID in chronological
// order (oldest first), ready to be replayed to the generation backend.
// It returns an empty slice when the user has no transcript yet.
func RecentHistory(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// Newest-first from the index scan; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated transcript slice ordered
// (CreatedAt ASC, ID ASC). Use CountMessages for pagination metadata.
func ListMessagesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClearHistory hard-deletes the whole transcript of userID and returns the
// number of rows removed. The entitlement ledger is untouched.
func ClearHistory(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}

// PurgeMessagesBefore deletes transcript rows older than cutoff (all users)
// and returns the number of rows removed. Called by the retention janitor.
func PurgeMessagesBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}
