package capacity_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/capacity"
	"github.com/meridian/effort-engine/effort"
	"github.com/meridian/effort-engine/effort/store"
)

// rateFixture seeds the overlapping (dedication, affiliation, hours)
// triple that produces exactly one rate segment.
func rateFixture(t *testing.T, mem *store.Memory, annualCost, reduction string, hoursPerDay int64) {
	t.Helper()
	ctx := context.Background()
	if err := mem.SaveDedication(ctx, effort.Dedication{
		ID:                "ded-1",
		PersonID:          "p1",
		Start:             effort.NewDay(2026, time.January, 1),
		End:               effort.NewDay(2026, time.December, 31),
		ReductionFraction: decimal.RequireFromString(reduction),
		AnnualCost:        decimal.RequireFromString(annualCost),
		Exists:            true,
	}); err != nil {
		t.Fatalf("seed dedication: %v", err)
	}
	if err := mem.SaveAffiliationAssignment(ctx, effort.AffiliationAssignment{
		ID:            "aff-1",
		PersonID:      "p1",
		LineID:        "1",
		Start:         effort.NewDay(2026, time.January, 1),
		End:           effort.NewDay(2026, time.December, 31),
		AffiliationID: "UNIV",
		Exists:        true,
	}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	if err := mem.SaveAffiliationHours(ctx, effort.AffiliationHours{
		AffiliationID: "UNIV",
		Start:         effort.NewDay(2026, time.January, 1),
		End:           effort.NewDay(2026, time.December, 31),
		HoursPerDay:   decimal.NewFromInt(hoursPerDay),
	}); err != nil {
		t.Fatalf("seed hours: %v", err)
	}
}

func TestGenerateRates_FullOverlap_OneSegment(t *testing.T) {
	// GIVEN: A full-time dedication costing 66000/year over a full-year
	//        affiliation at 8 hours/day (261 working days in 2026)
	// WHEN: Generating rates
	// THEN: One segment at 66000 / (1 x 8 x 261), rounded to 6 decimals

	mem := store.NewMemory()
	rateFixture(t, mem, "66000", "0", 8)
	calc := capacity.NewCalculator(mem)

	rates, skipped, err := calc.GenerateRates(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 0 {
		t.Errorf("expected no skips, got %d", skipped)
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 rate, got %d", len(rates))
	}
	if !rates[0].Rate.Equal(decimal.RequireFromString("31.609195")) {
		t.Errorf("expected rate 31.609195, got %s", rates[0].Rate)
	}
	if !rates[0].Start.Equal(effort.NewDay(2026, time.January, 1)) ||
		!rates[0].End.Equal(effort.NewDay(2026, time.December, 31)) {
		t.Errorf("unexpected segment window %s..%s", rates[0].Start, rates[0].End)
	}

	stored, err := mem.PersonRates(context.Background(), "p1")
	if err != nil {
		t.Fatalf("load rates: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("expected 1 persisted rate, got %d", len(stored))
	}
}

func TestGenerateRates_Rerun_ReplacesTable(t *testing.T) {
	// GIVEN: A triple producing one segment, already generated once
	// WHEN: Generating again
	// THEN: Exactly one persisted rate remains; the run replaces the
	//       table instead of appending fresh-ID duplicates

	mem := store.NewMemory()
	rateFixture(t, mem, "66000", "0", 8)
	calc := capacity.NewCalculator(mem)
	ctx := context.Background()

	if _, _, err := calc.GenerateRates(ctx, "p1"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, _, err := calc.GenerateRates(ctx, "p1"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	stored, err := mem.PersonRates(ctx, "p1")
	if err != nil {
		t.Fatalf("load rates: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 persisted rate after re-run, got %d", len(stored))
	}
	if !stored[0].Rate.Equal(decimal.RequireFromString("31.609195")) {
		t.Errorf("expected rate 31.609195, got %s", stored[0].Rate)
	}
}

func TestGenerateRates_HalfTime_DoublesRate(t *testing.T) {
	// A 0.5 reduction halves the divisor, doubling the hourly cost.

	mem := store.NewMemory()
	rateFixture(t, mem, "66000", "0.5", 8)
	calc := capacity.NewCalculator(mem)

	rates, _, err := calc.GenerateRates(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 rate, got %d", len(rates))
	}
	if !rates[0].Rate.Equal(decimal.RequireFromString("63.218391")) {
		t.Errorf("expected rate 63.218391, got %s", rates[0].Rate)
	}
}

func TestGenerateRates_PartialOverlap_WindowsSegment(t *testing.T) {
	// GIVEN: A Jan-Jun dedication against an Apr-Dec affiliation
	// WHEN: Generating rates
	// THEN: The segment covers only Apr-Jun

	mem := store.NewMemory()
	ctx := context.Background()
	if err := mem.SaveDedication(ctx, effort.Dedication{
		ID:                "ded-1",
		PersonID:          "p1",
		Start:             effort.NewDay(2026, time.January, 1),
		End:               effort.NewDay(2026, time.June, 30),
		ReductionFraction: decimal.Zero,
		AnnualCost:        decimal.NewFromInt(66000),
		Exists:            true,
	}); err != nil {
		t.Fatalf("seed dedication: %v", err)
	}
	if err := mem.SaveAffiliationAssignment(ctx, effort.AffiliationAssignment{
		ID:            "aff-1",
		PersonID:      "p1",
		LineID:        "1",
		Start:         effort.NewDay(2026, time.April, 1),
		End:           effort.NewDay(2026, time.December, 31),
		AffiliationID: "UNIV",
		Exists:        true,
	}); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	if err := mem.SaveAffiliationHours(ctx, effort.AffiliationHours{
		AffiliationID: "UNIV",
		Start:         effort.NewDay(2026, time.January, 1),
		End:           effort.NewDay(2026, time.December, 31),
		HoursPerDay:   decimal.NewFromInt(8),
	}); err != nil {
		t.Fatalf("seed hours: %v", err)
	}
	calc := capacity.NewCalculator(mem)

	rates, _, err := calc.GenerateRates(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rates) != 1 {
		t.Fatalf("expected 1 rate, got %d", len(rates))
	}
	if !rates[0].Start.Equal(effort.NewDay(2026, time.April, 1)) ||
		!rates[0].End.Equal(effort.NewDay(2026, time.June, 30)) {
		t.Errorf("unexpected segment window %s..%s", rates[0].Start, rates[0].End)
	}
}

func TestGenerateRates_BadSegments_SkippedNotFailed(t *testing.T) {
	cases := []struct {
		name      string
		cost      string
		reduction string
		hours     int64
	}{
		{"ZeroCost", "0", "0", 8},
		{"FullReduction", "66000", "1", 8},
		{"ZeroHours", "66000", "0", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := store.NewMemory()
			rateFixture(t, mem, tc.cost, tc.reduction, tc.hours)
			calc := capacity.NewCalculator(mem)

			rates, skipped, err := calc.GenerateRates(context.Background(), "p1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(rates) != 0 {
				t.Errorf("expected no rates, got %d", len(rates))
			}
			if skipped != 1 {
				t.Errorf("expected 1 skip, got %d", skipped)
			}
		})
	}
}

func TestGenerateRates_NonExistentRows_Ignored(t *testing.T) {
	// Rows flagged as removed upstream must not produce segments.

	mem := store.NewMemory()
	ctx := context.Background()
	if err := mem.SaveDedication(ctx, effort.Dedication{
		ID:                "ded-1",
		PersonID:          "p1",
		Start:             effort.NewDay(2026, time.January, 1),
		End:               effort.NewDay(2026, time.December, 31),
		ReductionFraction: decimal.Zero,
		AnnualCost:        decimal.NewFromInt(66000),
		Exists:            false,
	}); err != nil {
		t.Fatalf("seed dedication: %v", err)
	}
	calc := capacity.NewCalculator(mem)

	rates, skipped, err := calc.GenerateRates(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rates) != 0 || skipped != 0 {
		t.Errorf("expected nothing generated, got %d rates / %d skips", len(rates), skipped)
	}
}
