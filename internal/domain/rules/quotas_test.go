package rules

import (
	"testing"
	"time"
)

func TestDayKeyUsesTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	utc := time.Date(2026, 2, 8, 23, 30, 0, 0, time.UTC)
	got := DayKey(utc, loc)
	want := "2026-02-09"
	if got != want {
		t.Fatalf("unexpected day key: got %s want %s", got, want)
	}
}

func TestDayKeyDefaultsToUTC(t *testing.T) {
	utc := time.Date(2026, 2, 8, 23, 59, 59, 0, time.UTC)
	got := DayKey(utc, nil)
	want := "2026-02-08"
	if got != want {
		t.Fatalf("unexpected day key: got %s want %s", got, want)
	}
}

func TestNextDailyResetUsesTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	now := time.Date(2026, 2, 8, 23, 30, 0, 0, time.UTC) // 00:30 local, Feb 9
	got := NextDailyReset(now, loc)
	want := time.Date(2026, 2, 9, 23, 0, 0, 0, time.UTC) // midnight local Feb 10
	if !got.Equal(want) {
		t.Fatalf("unexpected reset: got %s want %s", got.Format(time.RFC3339), want.Format(time.RFC3339))
	}
}

func TestDayStartBeforeNow(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 4, 0, 0, time.UTC)
	start := DayStart(now, nil)
	if !start.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start: %s", start)
	}
}

func TestMonthStartAndNextMonthlyReset(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)

	start := MonthStart(now, nil)
	if !start.Equal(time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month start: %s", start)
	}

	next := NextMonthlyReset(now, nil)
	if !next.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next monthly reset: %s", next)
	}
}
