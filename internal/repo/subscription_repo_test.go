package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

func TestGetSubscription_NotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Subscription{})

	_, err := GetSubscription(context.Background(), db, "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIsSubscribed_WindowBoundaries(t *testing.T) {
	db := newRepoDB(t, &domain.Subscription{})
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := domain.Subscription{
		UserID:    "u1",
		StartDate: now.Add(-10 * 24 * time.Hour),
		EndDate:   now.Add(5 * 24 * time.Hour),
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	if ok, err := IsSubscribed(ctx, db, "u1", now); err != nil || !ok {
		t.Fatalf("active window: ok=%v err=%v", ok, err)
	}
	if ok, err := IsSubscribed(ctx, db, "u1", sub.EndDate); err != nil || ok {
		t.Fatalf("window end is exclusive: ok=%v err=%v", ok, err)
	}
	if ok, err := IsSubscribed(ctx, db, "u1", sub.EndDate.Add(time.Second)); err != nil || ok {
		t.Fatalf("expired window: ok=%v err=%v", ok, err)
	}
	if ok, err := IsSubscribed(ctx, db, "nobody", now); err != nil || ok {
		t.Fatalf("never subscribed: ok=%v err=%v", ok, err)
	}
}

func TestExtendSubscription_FirstPurchaseStartsNow(t *testing.T) {
	db := newRepoDB(t, &domain.Subscription{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := ExtendSubscription(ctx, db, "u1", 30, now)
	if err != nil {
		t.Fatalf("ExtendSubscription: %v", err)
	}
	wantEnd := now.Add(30 * 24 * time.Hour)
	if !s.EndDate.Equal(wantEnd) {
		t.Fatalf("expected end %v, got %v", wantEnd, s.EndDate)
	}
	if !s.StartDate.Equal(now) {
		t.Fatalf("expected start %v, got %v", now, s.StartDate)
	}
}

func TestExtendSubscription_RenewalWhileActiveAppends(t *testing.T) {
	db := newRepoDB(t, &domain.Subscription{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ExtendSubscription(ctx, db, "u1", 30, now); err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	// renew 10 days in: remaining 20 days must not be lost
	later := now.Add(10 * 24 * time.Hour)
	s, err := ExtendSubscription(ctx, db, "u1", 30, later)
	if err != nil {
		t.Fatalf("renewal: %v", err)
	}
	wantEnd := now.Add(60 * 24 * time.Hour)
	if !s.EndDate.Equal(wantEnd) {
		t.Fatalf("renewal must append to the old end: want %v got %v", wantEnd, s.EndDate)
	}
}

func TestExtendSubscription_RenewalAfterExpiryRestarts(t *testing.T) {
	db := newRepoDB(t, &domain.Subscription{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := ExtendSubscription(ctx, db, "u1", 30, now); err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	// renew 40 days later, well past expiry
	later := now.Add(40 * 24 * time.Hour)
	s, err := ExtendSubscription(ctx, db, "u1", 30, later)
	if err != nil {
		t.Fatalf("renewal: %v", err)
	}
	wantEnd := later.Add(30 * 24 * time.Hour)
	if !s.EndDate.Equal(wantEnd) {
		t.Fatalf("post-expiry renewal must restart from now: want %v got %v", wantEnd, s.EndDate)
	}
}

func TestExtendSubscription_SequentialRenewalsAccumulate(t *testing.T) {
	db := newRepoDB(t, &domain.Subscription{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := ExtendSubscription(ctx, db, "u1", 30, now); err != nil {
			t.Fatalf("renewal %d: %v", i, err)
		}
	}

	s, err := GetSubscription(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	wantEnd := now.Add(90 * 24 * time.Hour)
	if !s.EndDate.Equal(wantEnd) {
		t.Fatalf("three renewals must stack to 90 days: want %v got %v", wantEnd, s.EndDate)
	}
}
