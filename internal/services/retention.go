// Package services – RetentionJanitor
//
// Periodic transcript trim: deletes messages older than a configured age.
// This is housekeeping, not correctness — entitlement state is never touched
// and payment intents are deliberately kept forever as an audit trail.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/repo"
)

// RetentionJanitor trims transcript rows older than MaxAge every Interval.
type RetentionJanitor struct {
	DB       *gorm.DB
	MaxAge   time.Duration
	Interval time.Duration

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

func (j *RetentionJanitor) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// RunOnce performs a single trim pass and returns the number of rows removed.
func (j *RetentionJanitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.MaxAge)
	return repo.PurgeMessagesBefore(ctx, j.DB, cutoff)
}

// Run trims on every tick until ctx is cancelled. Errors are logged and the
// loop keeps going; a failed pass is retried at the next tick.
func (j *RetentionJanitor) Run(ctx context.Context) {
	t := time.NewTicker(j.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := j.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("transcript retention pass failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("transcript retention pass")
			}
		}
	}
}
