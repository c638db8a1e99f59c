/*
Package capacity computes working days, daily and monthly capacity (PM),
declared hours and hourly-cost rates from contract, affiliation and leave
data.

PURPOSE:
  The calculator is the first batch stage: capacity ceilings must exist
  before liquidations are allocated and before overloads can be detected.
  All operations are pure functions of stored data; the only writes are
  the ceiling refresh and the regenerated rate table.

CAPACITY MODEL:
  A month has a daily PM reference value of 1/workingDays, so a
  fully-dedicated person sums to 1.0 PM over the month. Each day's
  contribution shrinks with the governing dedication reduction and any
  leave on that day:

    paternity leave:  dailyRef × (1−dedic) × (1−leaveReduc)   (multiplicative)
    other leave:      dailyRef × (1−min(1, dedic+leaveReduc)) (additive, capped)

  The running total is clamped to 1 after every day, and the final value
  is rounded to 2 decimals. The per-day clamp is preserved exactly - it
  changes output for long months.

FAILURE SEMANTICS:
  Missing reference data (no dedication, no affiliation) degrades to a
  zero-valued result rather than erroring. Rate generation instead skips
  the bad segment with a warning (see rates.go).

SEE ALSO:
  - rates.go: hourly-cost segment generation
  - reconcile/engine.go: consumes the ceilings produced here
*/
package capacity

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

var one = decimal.NewFromInt(1)

// Calculator reads master data and produces capacity figures.
type Calculator struct {
	Store effort.Store
}

func NewCalculator(store effort.Store) *Calculator {
	return &Calculator{Store: store}
}

// =============================================================================
// WORKING DAYS
// =============================================================================

// WorkingDays counts the days of a month that are neither weekend nor
// national holiday.
func (c *Calculator) WorkingDays(ctx context.Context, month effort.MonthKey) (int, error) {
	holidays, err := c.holidaySet(ctx, month.Year)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, day := range month.Days() {
		if holidays.IsWorkingDay(day) {
			count++
		}
	}
	return count, nil
}

// WorkingDaysInYear sums WorkingDays over all twelve months.
func (c *Calculator) WorkingDaysInYear(ctx context.Context, year int) (int, error) {
	holidays, err := c.holidaySet(ctx, year)
	if err != nil {
		return 0, err
	}
	total := 0
	for m := time.January; m <= time.December; m++ {
		month := effort.MonthKey{Year: year, Month: m}
		for _, day := range month.Days() {
			if holidays.IsWorkingDay(day) {
				total++
			}
		}
	}
	return total, nil
}

func (c *Calculator) holidaySet(ctx context.Context, year int) (effort.HolidaySet, error) {
	rows, err := c.Store.Holidays(ctx, year)
	if err != nil {
		return nil, err
	}
	return effort.NewHolidaySet(rows), nil
}

// dailyReference is the PM value of one working day: 1/workingDays.
// Zero working days (pathological holiday data) yields zero.
func (c *Calculator) dailyReference(ctx context.Context, month effort.MonthKey) (decimal.Decimal, error) {
	wd, err := c.WorkingDays(ctx, month)
	if err != nil {
		return decimal.Zero, err
	}
	if wd == 0 {
		return decimal.Zero, nil
	}
	return one.DivRound(decimal.NewFromInt(int64(wd)), 12), nil
}

// =============================================================================
// DEDICATION RESOLUTION
// =============================================================================

// governingDedication returns the active dedication with the highest type
// rank for the given day, or nil when none covers it.
func governingDedication(dedications []effort.Dedication, day effort.Day) *effort.Dedication {
	var best *effort.Dedication
	for i := range dedications {
		d := &dedications[i]
		if !d.Active(day) {
			continue
		}
		if best == nil || d.Type > best.Type {
			best = d
		}
	}
	return best
}

// =============================================================================
// DAILY AND MONTHLY CAPACITY
// =============================================================================

// DailyCapacity returns the PM value of one day for a person: zero when a
// leave row exists for the day or no dedication covers it, otherwise the
// daily reference scaled by the dedication.
func (c *Calculator) DailyCapacity(ctx context.Context, person effort.PersonID, day effort.Day) (effort.PM, error) {
	leaves, err := c.Store.LeavesFor(ctx, person, day, day)
	if err != nil {
		return effort.ZeroPM(), err
	}
	if len(leaves) > 0 {
		return effort.ZeroPM(), nil
	}

	dedications, err := c.Store.DedicationsFor(ctx, person)
	if err != nil {
		return effort.ZeroPM(), err
	}
	governing := governingDedication(dedications, day)
	if governing == nil {
		return effort.ZeroPM(), nil
	}

	ref, err := c.dailyReference(ctx, effort.MonthOf(day))
	if err != nil {
		return effort.ZeroPM(), err
	}
	return effort.PMFromDecimal(ref.Mul(one.Sub(governing.ReductionFraction))), nil
}

// MonthlyCapacity computes the person's PM ceiling for a month: the sum of
// per-day contributions over working days, clamped to 1 after each day and
// rounded to 2 decimals.
func (c *Calculator) MonthlyCapacity(ctx context.Context, person effort.PersonID, month effort.MonthKey) (effort.PM, error) {
	holidays, err := c.holidaySet(ctx, month.Year)
	if err != nil {
		return effort.ZeroPM(), err
	}
	ref, err := c.dailyReference(ctx, month)
	if err != nil {
		return effort.ZeroPM(), err
	}
	dedications, err := c.Store.DedicationsFor(ctx, person)
	if err != nil {
		return effort.ZeroPM(), err
	}
	leaves, err := c.Store.LeavesFor(ctx, person, month.First(), month.Last())
	if err != nil {
		return effort.ZeroPM(), err
	}
	// One leave governs a day. Rows arrive day/type ordered, so on a
	// same-day collision the lowest leave type wins (paternity last).
	leaveByDay := make(map[effort.Day]effort.Leave, len(leaves))
	for _, l := range leaves {
		if _, taken := leaveByDay[l.Day]; !taken {
			leaveByDay[l.Day] = l
		}
	}

	total := decimal.Zero
	for _, day := range month.Days() {
		if !holidays.IsWorkingDay(day) {
			continue
		}

		governing := governingDedication(dedications, day)
		if governing == nil {
			// No contract covering the day.
			continue
		}
		dedic := governing.ReductionFraction

		var contribution decimal.Decimal
		if leave, ok := leaveByDay[day]; ok && leave.Type == effort.LeavePaternity {
			// Dedication first, then the leave reduction on the
			// already-adjusted daily value.
			contribution = ref.Mul(one.Sub(dedic)).Mul(one.Sub(leave.ReductionFraction))
		} else {
			reduction := dedic
			if leave, ok := leaveByDay[day]; ok {
				reduction = dedic.Add(leave.ReductionFraction)
				if reduction.GreaterThan(one) {
					reduction = one
				}
			}
			if reduction.GreaterThanOrEqual(one) {
				continue
			}
			contribution = ref.Mul(one.Sub(reduction))
		}

		total = total.Add(contribution)
		if total.GreaterThan(one) {
			total = one
		}
	}

	return effort.PMFromDecimal(total.Round(2)), nil
}

// =============================================================================
// DECLARED AND REQUIRED HOURS
// =============================================================================

// DeclaredHours sums recorded timesheet hours per month over [from, to].
func (c *Calculator) DeclaredHours(ctx context.Context, person effort.PersonID, from, to effort.Day) (map[effort.MonthKey]decimal.Decimal, error) {
	entries, err := c.Store.TimesheetFor(ctx, person, from, to)
	if err != nil {
		return nil, err
	}
	out := make(map[effort.MonthKey]decimal.Decimal)
	for _, e := range entries {
		key := effort.MonthOf(e.Day)
		out[key] = out[key].Add(e.Hours)
	}
	return out, nil
}

// MaxHoursForMonth computes the nominal workable hours of a month from the
// affiliation active on each working day. When exactly one affiliation
// covers the whole month the day loop collapses to
// workingDays × hoursPerDay.
func (c *Calculator) MaxHoursForMonth(ctx context.Context, person effort.PersonID, month effort.MonthKey) (decimal.Decimal, error) {
	assignments, err := c.Store.AffiliationAssignmentsFor(ctx, person)
	if err != nil {
		return decimal.Zero, err
	}
	holidays, err := c.holidaySet(ctx, month.Year)
	if err != nil {
		return decimal.Zero, err
	}

	hoursFor := func(day effort.Day) (decimal.Decimal, bool) {
		for _, a := range assignments {
			if !a.Active(day) {
				continue
			}
			rows, err := c.Store.AffiliationHoursFor(ctx, a.AffiliationID)
			if err != nil {
				return decimal.Zero, false
			}
			for _, h := range rows {
				if h.Covers(day) {
					return h.HoursPerDay, true
				}
			}
		}
		return decimal.Zero, false
	}

	// Shortcut: a single affiliation spanning the full month.
	var covering []effort.AffiliationAssignment
	for _, a := range assignments {
		if a.Active(month.First()) && a.Active(month.Last()) {
			covering = append(covering, a)
		}
	}
	if len(covering) == 1 && len(assignments) == 1 {
		if perDay, ok := hoursFor(month.First()); ok {
			wd, err := c.WorkingDays(ctx, month)
			if err != nil {
				return decimal.Zero, err
			}
			return perDay.Mul(decimal.NewFromInt(int64(wd))), nil
		}
	}

	total := decimal.Zero
	for _, day := range month.Days() {
		if !holidays.IsWorkingDay(day) {
			continue
		}
		if perDay, ok := hoursFor(day); ok {
			total = total.Add(perDay)
		}
	}
	return total, nil
}

// =============================================================================
// CEILING REFRESH - The calculator's one write
// =============================================================================

// RefreshCeiling recomputes and stores the capacity ceiling for one
// person/month.
func (c *Calculator) RefreshCeiling(ctx context.Context, person effort.PersonID, month effort.MonthKey) (effort.CapacityCeiling, error) {
	pm, err := c.MonthlyCapacity(ctx, person, month)
	if err != nil {
		return effort.CapacityCeiling{}, err
	}
	ceiling := effort.CapacityCeiling{PersonID: person, Month: month, Value: pm}
	if err := c.Store.SaveCeiling(ctx, ceiling); err != nil {
		return effort.CapacityCeiling{}, err
	}
	log.Printf("[Capacity] ceiling %s %s = %s", person, month, pm)
	return ceiling, nil
}
