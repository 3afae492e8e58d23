package recurrence

import (
	"testing"
	"time"
)

func TestNextDaily(t *testing.T) {
	occ := time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	next := Next(occ, Rule{Freq: Daily})
	want := time.Date(2026, 3, 15, 8, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("daily next = %s, want %s", next, want)
	}
}

func TestNextDailyAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// DST starts 2026-03-08 in New York; the wall clock must hold at
	// 08:00 even though the elapsed time is 23 hours.
	occ := time.Date(2026, 3, 7, 8, 0, 0, 0, loc)
	next := Next(occ, Rule{Freq: Daily})
	if next.Hour() != 8 || next.Day() != 8 {
		t.Fatalf("daily across DST = %s, want Mar 8 08:00 local", next)
	}
}

func TestNextWeekly(t *testing.T) {
	occ := time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC)
	next := Next(occ, Rule{Freq: Weekly})
	if next.Weekday() != occ.Weekday() {
		t.Fatalf("weekly next changed weekday: %s", next.Weekday())
	}
	if got := next.Sub(occ); got != 7*24*time.Hour {
		t.Fatalf("weekly step = %s", got)
	}
}

func TestNextEveryN(t *testing.T) {
	occ := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	next := Next(occ, Rule{Freq: EveryN, Days: 3})
	want := time.Date(2026, 5, 13, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("every:3 next = %s, want %s", next, want)
	}
}

func TestNextMonthlyClamp(t *testing.T) {
	occ := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	next := Next(occ, Rule{Freq: Monthly})
	want := time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Jan 31 monthly next = %s, want %s", next, want)
	}

	// The clamp does not re-expand: Feb 28 stays on the 28th in March.
	after := Next(next, Rule{Freq: Monthly})
	want = time.Date(2026, 3, 28, 9, 0, 0, 0, time.UTC)
	if !after.Equal(want) {
		t.Fatalf("Feb 28 monthly next = %s, want %s", after, want)
	}
}

func TestNextMonthlyLeapYear(t *testing.T) {
	occ := time.Date(2028, 1, 31, 9, 0, 0, 0, time.UTC)
	next := Next(occ, Rule{Freq: Monthly})
	want := time.Date(2028, 2, 29, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Jan 31 monthly next in leap year = %s, want %s", next, want)
	}
}

func TestNextMonthlyDecemberWraps(t *testing.T) {
	occ := time.Date(2026, 12, 15, 7, 45, 0, 0, time.UTC)
	next := Next(occ, Rule{Freq: Monthly})
	want := time.Date(2027, 1, 15, 7, 45, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("December monthly next = %s, want %s", next, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, raw := range []string{"daily", "weekly", "monthly", "every:3"} {
		rule, err := Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if rule.String() != raw {
			t.Fatalf("round trip %q -> %q", raw, rule.String())
		}
	}
}

func TestParseRejectsBadRules(t *testing.T) {
	for _, raw := range []string{"", "hourly", "every:0", "every:-2", "every:x", "daily:3"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("parse %q: expected error", raw)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (Rule{Freq: EveryN, Days: 2}).Validate(); err != nil {
		t.Fatalf("every:2 should validate: %v", err)
	}
	if err := (Rule{Freq: EveryN}).Validate(); err == nil {
		t.Fatal("every with no day count should not validate")
	}
	if err := (Rule{Freq: "yearly"}).Validate(); err == nil {
		t.Fatal("unknown freq should not validate")
	}
}
