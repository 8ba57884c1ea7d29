package domain

import (
	"testing"
	"time"
)

func TestDayOf_UTCNormalized(t *testing.T) {
	// 23:30 in UTC+3 is still 20:30 UTC the same day
	loc := time.FixedZone("UTC+3", 3*3600)
	local := time.Date(2026, 3, 1, 23, 30, 0, 0, loc)
	if got := DayOf(local); got != "2026-03-01" {
		t.Fatalf("DayOf(%v) = %q", local, got)
	}

	// 01:30 in UTC+3 belongs to the previous UTC day
	early := time.Date(2026, 3, 2, 1, 30, 0, 0, loc)
	if got := DayOf(early); got != "2026-03-01" {
		t.Fatalf("DayOf(%v) = %q", early, got)
	}

	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := DayOf(midnight); got != "2026-03-02" {
		t.Fatalf("DayOf(%v) = %q", midnight, got)
	}
}

func TestTableNames(t *testing.T) {
	cases := []struct {
		model interface{ TableName() string }
		want  string
	}{
		{Message{}, "messages"},
		{Usage{}, "limits"},
		{Subscription{}, "subscriptions"},
		{PaymentIntent{}, "payment_intents"},
	}
	for _, tc := range cases {
		if got := tc.model.TableName(); got != tc.want {
			t.Fatalf("TableName() = %q; want %q", got, tc.want)
		}
	}
}
