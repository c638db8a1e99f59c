/*
rates.go - Person hourly-cost rate generation

One rate segment is produced per overlap window of
(dedication ∩ affiliation assignment ∩ affiliation hours):

  rate = annualCost / (dedicationFraction × dailyHours × workingDaysInYear)

where dedicationFraction is the worked fraction (1 − reduction). Segments
with a non-positive fraction, cost or daily hours are skipped with a
warning, not an error.
*/
package capacity

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

// GenerateRates computes and persists the hourly-cost table for a person.
// Returns the segments written and the count skipped.
func (c *Calculator) GenerateRates(ctx context.Context, person effort.PersonID) ([]effort.PersonRate, int, error) {
	dedications, err := c.Store.DedicationsFor(ctx, person)
	if err != nil {
		return nil, 0, err
	}
	assignments, err := c.Store.AffiliationAssignmentsFor(ctx, person)
	if err != nil {
		return nil, 0, err
	}

	var rates []effort.PersonRate
	skipped := 0

	for _, ded := range dedications {
		if !ded.Exists {
			continue
		}
		for _, assign := range assignments {
			if !assign.Exists {
				continue
			}
			start1, end1, ok := effort.RangesOverlap(ded.Start, ded.End, assign.Start, assign.End)
			if !ok {
				continue
			}

			hours, err := c.Store.AffiliationHoursFor(ctx, assign.AffiliationID)
			if err != nil {
				return nil, 0, err
			}
			for _, h := range hours {
				start, end, ok := effort.RangesOverlap(start1, end1, h.Start, h.End)
				if !ok {
					continue
				}

				rate, ok := c.segmentRate(ctx, person, ded, h, start)
				if !ok {
					skipped++
					continue
				}
				rates = append(rates, effort.PersonRate{
					ID:            uuid.NewString(),
					PersonID:      person,
					AffiliationID: assign.AffiliationID,
					Start:         start,
					End:           end,
					Rate:          rate,
				})
			}
		}
	}

	// Replace the person's previous table; segments carry fresh IDs on
	// every run, so appending would accumulate stale rows.
	if err := c.Store.DeletePersonRates(ctx, person); err != nil {
		return nil, skipped, err
	}
	for _, r := range rates {
		if err := c.Store.SavePersonRate(ctx, r); err != nil {
			return nil, skipped, err
		}
	}
	return rates, skipped, nil
}

func (c *Calculator) segmentRate(ctx context.Context, person effort.PersonID, ded effort.Dedication, h effort.AffiliationHours, start effort.Day) (decimal.Decimal, bool) {
	fraction := one.Sub(ded.ReductionFraction)
	if !fraction.IsPositive() {
		log.Printf("[Capacity] skipping rate segment for %s: dedication fraction %s not positive", person, fraction)
		return decimal.Zero, false
	}
	if !ded.AnnualCost.IsPositive() {
		log.Printf("[Capacity] skipping rate segment for %s: annual cost %s not positive", person, ded.AnnualCost)
		return decimal.Zero, false
	}
	if !h.HoursPerDay.IsPositive() {
		log.Printf("[Capacity] skipping rate segment for %s: daily hours %s not positive", person, h.HoursPerDay)
		return decimal.Zero, false
	}

	workingDays, err := c.WorkingDaysInYear(ctx, start.Year())
	if err != nil || workingDays == 0 {
		log.Printf("[Capacity] skipping rate segment for %s: no working days in %d", person, start.Year())
		return decimal.Zero, false
	}

	annualHours := h.HoursPerDay.Mul(decimal.NewFromInt(int64(workingDays)))
	return ded.AnnualCost.DivRound(fraction.Mul(annualHours), 6), true
}
