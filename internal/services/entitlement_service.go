// Package services – EntitlementService
//
// This file implements the entitlement ledger and the quota decision on top
// of it: subscription windows, the daily free-tier counter, purchased credit
// balances, and the single CanSendMessage verdict the conversation layer
// gates on.
//
// The service keeps no entitlement state in memory; every check re-reads
// ground truth so that multiple server instances (or a restart) cannot
// double-spend a stale balance.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-billing/internal/domain"
	"github.com/tbourn/go-chat-billing/internal/repo"
)

// EntitlementRepo defines the ledger persistence contract required by
// EntitlementService.
type EntitlementRepo interface {
	// IsSubscribed reports whether userID holds a window ending after now.
	IsSubscribed(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error)

	// GetSubscription fetches the user's window row, or repo.ErrNotFound.
	GetSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error)

	// ExtendSubscription starts or renews the window by durationDays.
	ExtendSubscription(ctx context.Context, db *gorm.DB, userID string, durationDays int, now time.Time) (*domain.Subscription, error)

	// TryConsumeMessage atomically spends one unit (free tier, then credits).
	TryConsumeMessage(ctx context.Context, db *gorm.DB, userID string, dailyLimit int, now time.Time) (bool, error)

	// AddCredits adds purchased credits to the user's balance.
	AddCredits(ctx context.Context, db *gorm.DB, userID string, quantity int, now time.Time) error

	// RemainingToday reports free-tier remainder and credit balance read-only.
	RemainingToday(ctx context.Context, db *gorm.DB, userID string, dailyLimit int, now time.Time) (daily, credits int, err error)
}

// Status is the entitlement snapshot reported to the user.
type Status struct {
	// Subscribed is true while an unlimited window is active.
	Subscribed bool `json:"subscribed"`
	// DaysLeft counts whole days remaining on the subscription, at least 1
	// while active. Zero when not subscribed.
	DaysLeft int `json:"days_left,omitempty"`
	// DailyLimit echoes the configured free-tier size.
	DailyLimit int `json:"daily_limit"`
	// DailyRemaining is the unspent free tier for today.
	DailyRemaining int `json:"daily_remaining"`
	// PurchasedRemaining is the non-expiring purchased credit balance.
	PurchasedRemaining int `json:"purchased_remaining"`
	// TotalAvailable is DailyRemaining + PurchasedRemaining.
	TotalAvailable int `json:"total_available"`
}

// EntitlementService owns the per-user entitlement ledger.
type EntitlementService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the ledger repository used by this service.
	Repo EntitlementRepo

	// DailyLimit is the free-tier size per calendar day.
	DailyLimit int

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

// NewEntitlementService constructs an EntitlementService bound to db with the
// given free-tier size.
func NewEntitlementService(db *gorm.DB, r EntitlementRepo, dailyLimit int) *EntitlementService {
	return &EntitlementService{DB: db, Repo: r, DailyLimit: dailyLimit}
}

func (s *EntitlementService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// IsSubscribed reports whether userID currently holds an active subscription.
func (s *EntitlementService) IsSubscribed(ctx context.Context, userID string) (bool, error) {
	return s.Repo.IsSubscribed(ctx, s.DB, userID, s.now())
}

// ActivateSubscription starts or renews the user's unlimited window by
// durationDays. Renewing an active window extends it from its current end;
// duplicate activations are not an error and simply add more time —
// deduplication of the triggering purchase is the payment registry's job.
func (s *EntitlementService) ActivateSubscription(ctx context.Context, userID string, durationDays int) (*domain.Subscription, error) {
	return s.Repo.ExtendSubscription(ctx, s.DB, userID, durationDays, s.now())
}

// ApplyPurchasedCredits adds quantity non-expiring credits to the user's
// balance, preserving today's free-tier usage.
func (s *EntitlementService) ApplyPurchasedCredits(ctx context.Context, userID string, quantity int) error {
	return s.Repo.AddCredits(ctx, s.DB, userID, quantity, s.now())
}

// CanSendMessage is the quota verdict for one outgoing message. A subscribed
// user always passes without touching the counter; otherwise one unit is
// atomically consumed (free tier first, then purchased credits). A true
// result means the unit is already spent — there is no separate commit step.
func (s *EntitlementService) CanSendMessage(ctx context.Context, userID string) (bool, error) {
	tr := otel.Tracer("services/EntitlementService")
	ctx, span := tr.Start(ctx, "CanSendMessage",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	subscribed, err := s.Repo.IsSubscribed(ctx, s.DB, userID, s.now())
	if err != nil {
		return false, err
	}
	if subscribed {
		span.SetAttributes(attribute.Bool("quota.subscribed", true))
		return true, nil
	}

	allowed, err := s.Repo.TryConsumeMessage(ctx, s.DB, userID, s.DailyLimit, s.now())
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.Bool("quota.allowed", allowed))
	return allowed, nil
}

// GetStatus reports the user's current entitlement snapshot: subscription
// days left (whole days, at least 1 while active) and today's availability.
func (s *EntitlementService) GetStatus(ctx context.Context, userID string) (Status, error) {
	now := s.now()
	st := Status{DailyLimit: s.DailyLimit}

	sub, err := s.Repo.GetSubscription(ctx, s.DB, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Status{}, err
	}
	if sub != nil && sub.EndDate.After(now.UTC()) {
		st.Subscribed = true
		remaining := sub.EndDate.Sub(now.UTC())
		st.DaysLeft = int(remaining/(24*time.Hour)) + 1
	}

	daily, credits, err := s.Repo.RemainingToday(ctx, s.DB, userID, s.DailyLimit, now)
	if err != nil {
		return Status{}, err
	}
	st.DailyRemaining = daily
	st.PurchasedRemaining = credits
	st.TotalAvailable = daily + credits
	return st, nil
}
