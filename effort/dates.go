/*
dates.go - Day-granular calendar types

PURPOSE:
  Everything in this engine happens on whole calendar days and whole
  months: dedications span day ranges, liquidations expand into daily
  rows, capacity is computed per month. This file provides the Day and
  MonthKey types those computations share.

KEY CONCEPTS:
  - Day: a calendar day (UTC midnight), with range/weekend helpers
  - MonthKey: a (year, month) pair used as the grouping key for
    effort shares, capacity ceilings and locks
  - HolidaySet: fast lookup over loaded NationalHoliday rows

SEE ALSO:
  - types.go: records keyed by Day and MonthKey
  - capacity/calculator.go: the main consumer of the day iteration
*/
package effort

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - A calendar day at UTC midnight
// =============================================================================

type Day struct {
	Time time.Time
}

func NewDay(year int, month time.Month, day int) Day {
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates an arbitrary time to its calendar day.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses YYYY-MM-DD.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// Comparison
func (d Day) Before(other Day) bool        { return d.Time.Before(other.Time) }
func (d Day) After(other Day) bool         { return d.Time.After(other.Time) }
func (d Day) Equal(other Day) bool         { return d.Time.Equal(other.Time) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{Time: d.Time.AddDate(0, 0, n)} }

// Properties
func (d Day) Year() int             { return d.Time.Year() }
func (d Day) Month() time.Month     { return d.Time.Month() }
func (d Day) DayOfMonth() int       { return d.Time.Day() }
func (d Day) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Day) IsZero() bool          { return d.Time.IsZero() }

func (d Day) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Day) String() string { return d.Time.Format("2006-01-02") }

// DaysBetween returns the inclusive day count of [from, to].
// A one-day trip (from == to) counts as 1.
func DaysBetween(from, to Day) int {
	return int(to.Time.Sub(from.Time).Hours()/24) + 1
}

// RangesOverlap returns the intersection of [aStart,aEnd] and [bStart,bEnd],
// and whether it is non-empty.
func RangesOverlap(aStart, aEnd, bStart, bEnd Day) (Day, Day, bool) {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	return start, end, start.BeforeOrEqual(end)
}

// =============================================================================
// MONTH KEY - (year, month) grouping key
// =============================================================================

type MonthKey struct {
	Year  int
	Month time.Month
}

func MonthOf(d Day) MonthKey { return MonthKey{Year: d.Year(), Month: d.Month()} }

func (m MonthKey) First() Day { return NewDay(m.Year, m.Month, 1) }

func (m MonthKey) Last() Day {
	return Day{Time: time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

// Days returns every calendar day of the month, in order.
func (m MonthKey) Days() []Day {
	var days []Day
	for d := m.First(); d.BeforeOrEqual(m.Last()); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

func (m MonthKey) Contains(d Day) bool {
	return d.Year() == m.Year && d.Month() == m.Month
}

func (m MonthKey) Next() MonthKey { return MonthOf(m.Last().AddDays(1)) }

func (m MonthKey) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// ParseMonthKey parses YYYY-MM.
func ParseMonthKey(s string) (MonthKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return MonthKey{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthKey{Year: t.Year(), Month: t.Month()}, nil
}

// =============================================================================
// HOLIDAY SET - Loaded NationalHoliday rows, indexed for the day loops
// =============================================================================

type HolidaySet map[Day]bool

func NewHolidaySet(holidays []NationalHoliday) HolidaySet {
	set := make(HolidaySet, len(holidays))
	for _, h := range holidays {
		set[h.Date] = true
	}
	return set
}

func (hs HolidaySet) Contains(d Day) bool { return hs[d] }

// IsWorkingDay reports whether d counts toward capacity: not a weekend and
// not a national holiday.
func (hs HolidaySet) IsWorkingDay(d Day) bool {
	return !d.IsWeekend() && !hs.Contains(d)
}
