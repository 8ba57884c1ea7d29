package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-chat-billing/internal/domain"
)

func TestTryConsumeMessage_FreeTierUntilLimit(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	const limit = 3
	for i := 0; i < limit; i++ {
		ok, err := TryConsumeMessage(ctx, db, "u1", limit, now)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("consume %d: expected allowed", i)
		}
	}

	// fourth message of the day is denied
	ok, err := TryConsumeMessage(ctx, db, "u1", limit, now)
	if err != nil {
		t.Fatalf("consume over limit: %v", err)
	}
	if ok {
		t.Fatalf("expected denial after %d messages", limit)
	}

	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Used != limit || u.Credits != 0 || u.Day != "2026-03-01" {
		t.Fatalf("unexpected ledger: %+v", u)
	}
}

func TestTryConsumeMessage_DayRolloverResetsFreeTier(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)

	// exhaust day 1
	for i := 0; i < 2; i++ {
		if ok, err := TryConsumeMessage(ctx, db, "u1", 2, day1); err != nil || !ok {
			t.Fatalf("day1 consume %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := TryConsumeMessage(ctx, db, "u1", 2, day1); ok {
		t.Fatalf("day1 should be exhausted")
	}

	// next day the counter starts fresh
	ok, err := TryConsumeMessage(ctx, db, "u1", 2, day2)
	if err != nil {
		t.Fatalf("day2 consume: %v", err)
	}
	if !ok {
		t.Fatalf("expected fresh quota after rollover")
	}

	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Day != "2026-03-02" || u.Used != 1 {
		t.Fatalf("rollover not applied: %+v", u)
	}
}

func TestTryConsumeMessage_CreditsSurviveRollover(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if err := AddCredits(ctx, db, "u1", 5, day1); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}
	// burn the free tier on day 1
	if ok, err := TryConsumeMessage(ctx, db, "u1", 1, day1); err != nil || !ok {
		t.Fatalf("day1 free consume: ok=%v err=%v", ok, err)
	}

	// day 2: free tier resets, credits still 5
	daily, credits, err := RemainingToday(ctx, db, "u1", 1, day2)
	if err != nil {
		t.Fatalf("RemainingToday: %v", err)
	}
	if daily != 1 || credits != 5 {
		t.Fatalf("expected daily=1 credits=5, got daily=%d credits=%d", daily, credits)
	}
}

func TestTryConsumeMessage_DrawsDownCreditsAfterFreeTier(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := AddCredits(ctx, db, "u1", 2, now); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}

	// 1 free + 2 credits = 3 sends
	for i := 0; i < 3; i++ {
		ok, err := TryConsumeMessage(ctx, db, "u1", 1, now)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("consume %d: expected allowed", i)
		}
	}

	// fourth is denied, nothing goes negative
	if ok, _ := TryConsumeMessage(ctx, db, "u1", 1, now); ok {
		t.Fatalf("expected denial once free tier and credits are spent")
	}
	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Used != 1 || u.Credits != 0 {
		t.Fatalf("unexpected ledger after draw-down: %+v", u)
	}
}

func TestTryConsumeMessage_ConcurrentLastSlot(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// seed: one free slot left
	if ok, err := TryConsumeMessage(ctx, db, "u1", 2, now); err != nil || !ok {
		t.Fatalf("seed consume: ok=%v err=%v", ok, err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := TryConsumeMessage(ctx, db, "u1", 2, now)
			if err != nil {
				// SQLite may report busy under heavy contention; that still
				// must not grant the slot.
				results <- false
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}
	if granted > 1 {
		t.Fatalf("last slot granted %d times", granted)
	}

	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Used > 2 {
		t.Fatalf("counter overshot the limit: %+v", u)
	}
}

func TestAddCredits_AccumulatesAndValidates(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := AddCredits(ctx, db, "u1", 50, now); err != nil {
		t.Fatalf("first AddCredits: %v", err)
	}
	if err := AddCredits(ctx, db, "u1", 200, now); err != nil {
		t.Fatalf("second AddCredits: %v", err)
	}

	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Credits != 250 {
		t.Fatalf("expected 250 credits, got %d", u.Credits)
	}

	if err := AddCredits(ctx, db, "u1", 0, now); err == nil {
		t.Fatalf("expected error for non-positive quantity")
	}
	if err := AddCredits(ctx, db, "u1", -5, now); err == nil {
		t.Fatalf("expected error for negative quantity")
	}
}

func TestAddCredits_PreservesSameDayUsage(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if ok, err := TryConsumeMessage(ctx, db, "u1", 5, now); err != nil || !ok {
		t.Fatalf("seed consume: ok=%v err=%v", ok, err)
	}
	if err := AddCredits(ctx, db, "u1", 10, now); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}

	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Used != 1 || u.Credits != 10 {
		t.Fatalf("purchase must not reset same-day usage: %+v", u)
	}
}

func TestRemainingToday_MissingRowReadsFresh(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})

	daily, credits, err := RemainingToday(context.Background(), db, "nobody", 5, time.Now())
	if err != nil {
		t.Fatalf("RemainingToday: %v", err)
	}
	if daily != 5 || credits != 0 {
		t.Fatalf("expected fresh ledger 5/0, got %d/%d", daily, credits)
	}
}

func TestRemainingToday_StaleDayReadsAsReset(t *testing.T) {
	db := newRepoDB(t, &domain.Usage{})
	ctx := context.Background()

	day1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if ok, err := TryConsumeMessage(ctx, db, "u1", 3, day1); err != nil || !ok {
			t.Fatalf("seed consume %d: ok=%v err=%v", i, ok, err)
		}
	}

	daily, _, err := RemainingToday(ctx, db, "u1", 3, day1.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("RemainingToday: %v", err)
	}
	if daily != 3 {
		t.Fatalf("stale day must read as full quota, got %d", daily)
	}

	// read path must not have written anything
	u, err := GetUsage(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if u.Day != "2026-03-01" || u.Used != 3 {
		t.Fatalf("read path mutated the ledger: %+v", u)
	}
}
