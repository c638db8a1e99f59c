package effort_test

import (
	"testing"
	"time"

	"github.com/meridian/effort-engine/effort"
)

func TestDaysBetween_Inclusive(t *testing.T) {
	start := effort.NewDay(2026, time.March, 10)
	if got := effort.DaysBetween(start, start); got != 1 {
		t.Errorf("same day should count as 1, got %d", got)
	}
	if got := effort.DaysBetween(start, effort.NewDay(2026, time.March, 12)); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	// Across a month boundary.
	if got := effort.DaysBetween(effort.NewDay(2026, time.March, 30), effort.NewDay(2026, time.April, 2)); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
}

func TestRangesOverlap(t *testing.T) {
	jan1 := effort.NewDay(2026, time.January, 1)
	jun30 := effort.NewDay(2026, time.June, 30)
	apr1 := effort.NewDay(2026, time.April, 1)
	dec31 := effort.NewDay(2026, time.December, 31)

	start, end, ok := effort.RangesOverlap(jan1, jun30, apr1, dec31)
	if !ok {
		t.Fatalf("expected overlap")
	}
	if !start.Equal(apr1) || !end.Equal(jun30) {
		t.Errorf("expected Apr 1..Jun 30, got %s..%s", start, end)
	}

	if _, _, ok := effort.RangesOverlap(jan1, effort.NewDay(2026, time.March, 31), apr1, dec31); ok {
		t.Errorf("adjacent ranges must not overlap")
	}
}

func TestMonthKey_Calendar(t *testing.T) {
	march := effort.MonthKey{Year: 2026, Month: time.March}

	if got := len(march.Days()); got != 31 {
		t.Errorf("expected 31 days, got %d", got)
	}
	if !march.First().Equal(effort.NewDay(2026, time.March, 1)) {
		t.Errorf("unexpected first day %s", march.First())
	}
	if !march.Last().Equal(effort.NewDay(2026, time.March, 31)) {
		t.Errorf("unexpected last day %s", march.Last())
	}
	if march.Next() != (effort.MonthKey{Year: 2026, Month: time.April}) {
		t.Errorf("unexpected next month %s", march.Next())
	}

	// Leap February.
	feb := effort.MonthKey{Year: 2028, Month: time.February}
	if got := len(feb.Days()); got != 29 {
		t.Errorf("expected 29 days in Feb 2028, got %d", got)
	}

	dec := effort.MonthKey{Year: 2026, Month: time.December}
	if dec.Next() != (effort.MonthKey{Year: 2027, Month: time.January}) {
		t.Errorf("December must roll into the next year, got %s", dec.Next())
	}
}

func TestParseMonthKey_RoundTrip(t *testing.T) {
	month, err := effort.ParseMonthKey("2026-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if month.String() != "2026-03" {
		t.Errorf("round trip broke: %s", month)
	}

	if _, err := effort.ParseMonthKey("March 2026"); err == nil {
		t.Errorf("expected an error for a non YYYY-MM value")
	}
}

func TestHolidaySet_IsWorkingDay(t *testing.T) {
	set := effort.NewHolidaySet([]effort.NationalHoliday{
		{Date: effort.NewDay(2026, time.March, 19)},
	})

	if set.IsWorkingDay(effort.NewDay(2026, time.March, 19)) {
		t.Errorf("holiday must not be a working day")
	}
	if set.IsWorkingDay(effort.NewDay(2026, time.March, 14)) {
		t.Errorf("Saturday must not be a working day")
	}
	if !set.IsWorkingDay(effort.NewDay(2026, time.March, 18)) {
		t.Errorf("a plain Wednesday is a working day")
	}
}
