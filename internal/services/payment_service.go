// Package services – PaymentService
//
// This file implements the payment intent registry front and the reconciler:
// minting single-use, expiring, user-bound tokens when a purchase is
// requested, and converting the payment rail's completion callback into
// exactly one entitlement mutation.
//
// Verification fails closed. Every rejection (unknown token, user mismatch,
// replay, expiry) is logged as a security anomaly with the concrete reason
// and counted in a Prometheus counter, while the caller only ever sees the
// opaque ErrPaymentRejected.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/domain"
	"github.com/tbourn/go-chat-billing/internal/repo"
)

// reconcileOutcomes counts reconciliation verdicts. The "outcome" label is
// either "granted" or one of the rejection reasons; rejections other than
// store errors are attack signals worth alerting on.
var reconcileOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_reconcile_total",
		Help: "Payment reconciliation attempts by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(reconcileOutcomes)
}

// CreditPack is one purchasable batch of message credits.
type CreditPack struct {
	// Count is the number of credits granted.
	Count int `json:"count"`
	// Price is the cost in the payment rail's unit.
	Price int64 `json:"price"`
}

// IntentRepo defines the registry persistence contract required by
// PaymentService.
type IntentRepo interface {
	// CreatePaymentIntent mints and stores a fresh pending intent.
	CreatePaymentIntent(ctx context.Context, db *gorm.DB, userID string, kind domain.IntentKind, amount int64, creditCount int, ttl time.Duration, now time.Time) (*domain.PaymentIntent, error)

	// ConsumePaymentIntent atomically verifies and consumes an intent.
	ConsumePaymentIntent(ctx context.Context, db *gorm.DB, token, claimedUser string, now time.Time) (*domain.PaymentIntent, error)
}

// Ledger is the slice of the entitlement service a successful reconciliation
// mutates.
type Ledger interface {
	// ActivateSubscription starts or renews the unlimited window.
	ActivateSubscription(ctx context.Context, userID string, durationDays int) (*domain.Subscription, error)

	// ApplyPurchasedCredits adds purchased credits to the balance.
	ApplyPurchasedCredits(ctx context.Context, userID string, quantity int) error
}

// Grant describes the entitlement effect applied by a successful
// reconciliation.
type Grant struct {
	Kind domain.IntentKind `json:"kind"`
	// CreditsAdded is set for message packs.
	CreditsAdded int `json:"credits_added,omitempty"`
	// SubscribedUntil is set for subscriptions.
	SubscribedUntil *time.Time `json:"subscribed_until,omitempty"`
}

// PaymentService mints payment intents and reconciles completion callbacks.
type PaymentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the intent registry repository.
	Repo IntentRepo
	// Ledger receives the purchased effect exactly once per token.
	Ledger Ledger

	// IntentTTL bounds how long a minted token stays consumable.
	IntentTTL time.Duration
	// SubscriptionDays is the window length granted per subscription purchase.
	SubscriptionDays int
	// SubscriptionPrice is the subscription cost in the rail's unit.
	SubscriptionPrice int64
	// Packs is the purchasable credit pack catalog.
	Packs []CreditPack

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// PackFor returns the catalog entry granting count credits, or ErrUnknownPack.
func (s *PaymentService) PackFor(count int) (CreditPack, error) {
	for _, p := range s.Packs {
		if p.Count == count {
			return p, nil
		}
	}
	return CreditPack{}, ErrUnknownPack
}

// CreateSubscriptionIntent mints a pending intent for a subscription purchase
// by userID and returns it (the token is the invoice payload handed to the
// payment rail).
func (s *PaymentService) CreateSubscriptionIntent(ctx context.Context, userID string) (*domain.PaymentIntent, error) {
	return s.Repo.CreatePaymentIntent(ctx, s.DB, userID,
		domain.IntentSubscription, s.SubscriptionPrice, 0, s.IntentTTL, s.now())
}

// CreateMessagePackIntent mints a pending intent for the catalog pack
// granting packCount credits. Unknown pack sizes are rejected before any
// token is minted.
func (s *PaymentService) CreateMessagePackIntent(ctx context.Context, userID string, packCount int) (*domain.PaymentIntent, error) {
	pack, err := s.PackFor(packCount)
	if err != nil {
		return nil, err
	}
	return s.Repo.CreatePaymentIntent(ctx, s.DB, userID,
		domain.IntentMessagePack, pack.Price, pack.Count, s.IntentTTL, s.now())
}

// Reconcile converts a payment completion callback into an entitlement
// mutation. The token is verified and consumed atomically; duplicated
// deliveries from the rail are therefore rejected here without any extra
// idempotency key. On success the purchased effect is applied exactly once
// and described in the returned Grant.
func (s *PaymentService) Reconcile(ctx context.Context, token, payerUserID string) (*Grant, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "Reconcile",
		trace.WithAttributes(attribute.String("user.id", payerUserID)),
	)
	defer span.End()

	rec, err := s.Repo.ConsumePaymentIntent(ctx, s.DB, token, payerUserID, s.now())
	if err != nil {
		if reason, anomaly := rejectionReason(err); anomaly {
			// Invalid, replayed, mismatched or expired tokens are attack
			// signals, not user errors.
			log.Warn().
				Str("user_id", payerUserID).
				Str("token_prefix", tokenPrefix(token)).
				Str("reason", reason).
				Msg("payment verification rejected")
			reconcileOutcomes.WithLabelValues(reason).Inc()
			return nil, ErrPaymentRejected
		}
		reconcileOutcomes.WithLabelValues("store_error").Inc()
		return nil, err
	}

	switch rec.Kind {
	case domain.IntentSubscription:
		sub, err := s.Ledger.ActivateSubscription(ctx, payerUserID, s.SubscriptionDays)
		if err != nil {
			// The intent is consumed but the grant failed: an operational
			// incident requiring manual reconciliation, never a silent loss.
			log.Error().Err(err).
				Str("user_id", payerUserID).
				Str("intent_id", rec.ID).
				Msg("subscription grant failed after verified payment")
			reconcileOutcomes.WithLabelValues("grant_failed").Inc()
			return nil, err
		}
		reconcileOutcomes.WithLabelValues("granted").Inc()
		end := sub.EndDate
		return &Grant{Kind: rec.Kind, SubscribedUntil: &end}, nil

	case domain.IntentMessagePack:
		if err := s.Ledger.ApplyPurchasedCredits(ctx, payerUserID, rec.CreditCount); err != nil {
			log.Error().Err(err).
				Str("user_id", payerUserID).
				Str("intent_id", rec.ID).
				Int("credits", rec.CreditCount).
				Msg("credit grant failed after verified payment")
			reconcileOutcomes.WithLabelValues("grant_failed").Inc()
			return nil, err
		}
		reconcileOutcomes.WithLabelValues("granted").Inc()
		return &Grant{Kind: rec.Kind, CreditsAdded: rec.CreditCount}, nil

	default:
		reconcileOutcomes.WithLabelValues("unknown_kind").Inc()
		return nil, ErrPaymentRejected
	}
}

// rejectionReason maps registry errors onto security-log labels. The second
// return is false for plain store failures.
func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, repo.ErrIntentUnknown):
		return "unknown_token", true
	case errors.Is(err, repo.ErrIntentUserMismatch):
		return "user_mismatch", true
	case errors.Is(err, repo.ErrIntentConsumed):
		return "replayed_token", true
	case errors.Is(err, repo.ErrIntentExpired):
		return "expired_token", true
	default:
		return "", false
	}
}

// tokenPrefix truncates a bearer token for logging. Full tokens never reach
// the logs.
func tokenPrefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n] + "…"
}
