package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
	"github.com/meridian/effort-engine/effort/store"
	"github.com/meridian/effort-engine/reconcile"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func march2026() effort.MonthKey {
	return effort.MonthKey{Year: 2026, Month: time.March}
}

func seedCeiling(t *testing.T, mem *store.Memory, person effort.PersonID, month effort.MonthKey, value float64) {
	t.Helper()
	err := mem.SaveCeiling(context.Background(), effort.CapacityCeiling{
		PersonID: person,
		Month:    month,
		Value:    effort.NewPM(value),
	})
	if err != nil {
		t.Fatalf("seed ceiling: %v", err)
	}
}

func seedShare(t *testing.T, mem *store.Memory, id string, person effort.PersonID, project effort.ProjectID, month effort.MonthKey, value float64) {
	t.Helper()
	err := mem.SaveShare(context.Background(), effort.EffortShare{
		ID:            id,
		AssignmentID:  effort.AssignmentID("asg-" + id),
		PersonID:      person,
		ProjectID:     project,
		WorkPackageID: effort.WorkPackageID("wp-" + id),
		WorkPackage:   "WP " + id,
		Month:         month,
		Value:         effort.NewPM(value),
	})
	if err != nil {
		t.Fatalf("seed share: %v", err)
	}
}

func seedTravelRow(t *testing.T, mem *store.Memory, id string, person effort.PersonID, project effort.ProjectID, day effort.Day, pm float64) {
	t.Helper()
	err := mem.SaveDailyAllocations(context.Background(), []effort.DailyProjectAllocation{{
		ID:             id,
		LiquidationID:  effort.LiquidationID("liq-" + id),
		PersonID:       person,
		ProjectID:      project,
		Day:            day,
		Dedication:     decimal.NewFromInt(100),
		PMContribution: effort.NewPM(pm),
		LineStatus:     effort.LineApplied,
	}})
	if err != nil {
		t.Fatalf("seed travel row: %v", err)
	}
}

func shareValue(t *testing.T, mem *store.Memory, person effort.PersonID, month effort.MonthKey, id string) decimal.Decimal {
	t.Helper()
	shares, err := mem.SharesFor(context.Background(), person, month)
	if err != nil {
		t.Fatalf("load shares: %v", err)
	}
	for _, s := range shares {
		if s.ID == id {
			return s.Value.Value
		}
	}
	t.Fatalf("share %s not found", id)
	return decimal.Zero
}

func assertValue(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestRebalance_NoCeiling_Fails(t *testing.T) {
	// GIVEN: Shares exist but no ceiling has been computed for the month
	// WHEN: Rebalancing
	// THEN: The run aborts with a constraint violation

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	seedShare(t, mem, "s1", person, "PRJ10000", march2026(), 0.5)

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, march2026())

	if !effort.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestRebalance_NoShares_Fails(t *testing.T) {
	mem := store.NewMemory()
	person := effort.PersonID("p1")
	seedCeiling(t, mem, person, march2026(), 1.0)

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, march2026())

	if !effort.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestRebalance_UnderCeiling_NoOp(t *testing.T) {
	// GIVEN: Total allocation 0.7 against a ceiling of 0.8
	// WHEN: Rebalancing
	// THEN: Nothing changes

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	seedCeiling(t, mem, person, march2026(), 0.8)
	seedShare(t, mem, "s1", person, "PRJ10000", march2026(), 0.3)
	seedShare(t, mem, "s2", person, "PRJ20000", march2026(), 0.4)

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, march2026())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Changed {
		t.Errorf("expected no-op, got changed result")
	}
	assertValue(t, shareValue(t, mem, person, march2026(), "s1"), "0.3")
	assertValue(t, shareValue(t, mem, person, march2026(), "s2"), "0.4")
}

// =============================================================================
// PROPORTIONAL SCALING
// =============================================================================

func TestRebalance_TwoEqualShares_ScaledToCeiling(t *testing.T) {
	// GIVEN: Ceiling 0.8 and two shares of 0.5 on different projects
	// WHEN: Rebalancing
	// THEN: Both land on 0.40 and the totals meet the ceiling exactly

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	seedCeiling(t, mem, person, march2026(), 0.8)
	seedShare(t, mem, "s1", person, "PRJ10000", march2026(), 0.5)
	seedShare(t, mem, "s2", person, "PRJ20000", march2026(), 0.5)

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, march2026())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Changed {
		t.Fatalf("expected a rebalanced result")
	}
	assertValue(t, shareValue(t, mem, person, march2026(), "s1"), "0.4")
	assertValue(t, shareValue(t, mem, person, march2026(), "s2"), "0.4")
	assertValue(t, result.Overload, "0.2")
}

func TestRebalance_MultipleLinesOneProject_RoundingDeltaOnLargest(t *testing.T) {
	// GIVEN: One project with three uneven lines and a ceiling forcing a cut
	// WHEN: Rebalancing
	// THEN: The project total matches the rounded target exactly

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	seedCeiling(t, mem, person, month, 0.9)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.11)
	seedShare(t, mem, "s2", person, "PRJ10000", month, 0.33)
	seedShare(t, mem, "s3", person, "PRJ10000", month, 0.76)

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	total := shareValue(t, mem, person, month, "s1").
		Add(shareValue(t, mem, person, month, "s2")).
		Add(shareValue(t, mem, person, month, "s3"))
	assertValue(t, total, "0.9")
}

// =============================================================================
// LOCKS
// =============================================================================

func TestRebalance_LockedProject_Untouched(t *testing.T) {
	// GIVEN: A locked project at 0.5 and a modifiable one at 0.5, ceiling 0.8
	// WHEN: Rebalancing
	// THEN: The locked share keeps 0.5 and the modifiable absorbs the full cut

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	seedCeiling(t, mem, person, month, 0.8)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.5)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.5)
	if err := mem.SaveLock(context.Background(), effort.ProjectMonthLock{
		PersonID:  person,
		ProjectID: "PRJ10000",
		Month:     month,
		IsLocked:  true,
	}); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Changed {
		t.Fatalf("expected a rebalanced result")
	}
	assertValue(t, shareValue(t, mem, person, month, "s1"), "0.5")
	assertValue(t, shareValue(t, mem, person, month, "s2"), "0.3")
}

func TestRebalance_LockedExceedsCeiling_Fails(t *testing.T) {
	// GIVEN: Locked shares alone already exceed the ceiling
	// WHEN: Rebalancing
	// THEN: The run aborts and no share moves

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	seedCeiling(t, mem, person, month, 0.5)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.7)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.2)
	if err := mem.SaveLock(context.Background(), effort.ProjectMonthLock{
		PersonID:  person,
		ProjectID: "PRJ10000",
		Month:     month,
		IsLocked:  true,
	}); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, month)

	if !effort.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	assertValue(t, shareValue(t, mem, person, month, "s1"), "0.7")
	assertValue(t, shareValue(t, mem, person, month, "s2"), "0.2")
}

// =============================================================================
// TRAVEL MINIMUMS
// =============================================================================

func TestRebalance_TravelMinimum_PinsProjectToMinimum(t *testing.T) {
	// GIVEN: Ceiling 0.5. Project A holds 0.4 with a travel minimum of 0.35;
	//        project B holds 0.6 with no travel. A straight proportional cut
	//        would drop A below its minimum.
	// WHEN: Rebalancing
	// THEN: A is pinned at 0.35 and B receives the remaining 0.15

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	day := effort.NewDay(2026, time.March, 10)
	seedCeiling(t, mem, person, month, 0.5)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.4)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.6)
	seedTravelRow(t, mem, "d1", person, "PRJ10000", day, 0.35)

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Changed {
		t.Fatalf("expected a rebalanced result")
	}
	assertValue(t, shareValue(t, mem, person, month, "s1"), "0.35")
	assertValue(t, shareValue(t, mem, person, month, "s2"), "0.15")
}

func TestRebalance_TravelMinimum_NotBindingWhenRatioSuffices(t *testing.T) {
	// GIVEN: A travel minimum low enough that uniform scaling already clears it
	// WHEN: Rebalancing
	// THEN: Both projects take the uniform ratio

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	day := effort.NewDay(2026, time.March, 10)
	seedCeiling(t, mem, person, month, 0.8)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.5)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.5)
	seedTravelRow(t, mem, "d1", person, "PRJ10000", day, 0.1)

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertValue(t, shareValue(t, mem, person, month, "s1"), "0.4")
	assertValue(t, shareValue(t, mem, person, month, "s2"), "0.4")
}

func TestRebalance_TravelMinimumsExceedAvailable_Fails(t *testing.T) {
	// GIVEN: Travel minimums that cannot fit under the ceiling
	// WHEN: Rebalancing
	// THEN: The run aborts and shares stay as they were

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	day := effort.NewDay(2026, time.March, 10)
	seedCeiling(t, mem, person, month, 0.3)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.6)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.6)
	seedTravelRow(t, mem, "d1", person, "PRJ10000", day, 0.4)

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, month)

	if !effort.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	assertValue(t, shareValue(t, mem, person, month, "s1"), "0.6")
	assertValue(t, shareValue(t, mem, person, month, "s2"), "0.6")
}

func TestRebalance_LockedTravelProject_MinimumNotChargedToPool(t *testing.T) {
	// GIVEN: A locked project carrying travel rows whose minimum (0.4)
	//        exceeds the cuttable pool (0.2), plus a modifiable project
	// WHEN: Rebalancing against a ceiling of 0.5
	// THEN: The run succeeds; the locked share is already funded outside
	//       the pool, so its travel minimum must not count against it

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	day := effort.NewDay(2026, time.March, 10)
	seedCeiling(t, mem, person, month, 0.5)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.3)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.4)
	seedTravelRow(t, mem, "d1", person, "PRJ10000", day, 0.4)
	err := mem.SaveLock(context.Background(), effort.ProjectMonthLock{
		PersonID:  person,
		ProjectID: "PRJ10000",
		Month:     month,
		IsLocked:  true,
	})
	if err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Changed {
		t.Errorf("expected a rebalanced result")
	}
	assertValue(t, shareValue(t, mem, person, month, "s1"), "0.3")
	assertValue(t, shareValue(t, mem, person, month, "s2"), "0.2")
}

// =============================================================================
// ROUNDING RESIDUE
// =============================================================================

func TestRebalance_RoundingOvershoot_TrimmedFromLargestLine(t *testing.T) {
	// GIVEN: Two 0.2 shares against a ceiling of 0.17, where each scaled
	//        line lands on 0.085 and rounds up to 0.09
	// WHEN: Rebalancing
	// THEN: The 0.01 overshoot is trimmed from one line and the persisted
	//       total matches the ceiling exactly

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	seedCeiling(t, mem, person, month, 0.17)
	seedShare(t, mem, "sa", person, "PRJ10000", month, 0.2)
	seedShare(t, mem, "sb", person, "PRJ20000", month, 0.2)

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Changed {
		t.Fatalf("expected a rebalanced result")
	}

	a := shareValue(t, mem, person, month, "sa")
	b := shareValue(t, mem, person, month, "sb")
	assertValue(t, a.Add(b), "0.17")
	low, high := a, b
	if high.LessThan(low) {
		low, high = high, low
	}
	assertValue(t, low, "0.08")
	assertValue(t, high, "0.09")
}

func TestRebalance_ResidueExceedsLargestLine_Fails(t *testing.T) {
	// GIVEN: Three 0.2 shares against a ceiling of 0.015: each scaled line
	//        rounds up to 0.01, so the 0.015 overshoot is bigger than any
	//        single adjusted line
	// WHEN: Rebalancing
	// THEN: The run aborts after correction and persists nothing

	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	seedCeiling(t, mem, person, month, 0.015)
	seedShare(t, mem, "sa", person, "PRJ10000", month, 0.2)
	seedShare(t, mem, "sb", person, "PRJ20000", month, 0.2)
	seedShare(t, mem, "sc", person, "PRJ30000", month, 0.2)

	engine := reconcile.NewEngine(mem)
	_, err := engine.Rebalance(context.Background(), person, month)

	if !errors.Is(err, effort.ErrExceedsAfterCorrection) {
		t.Fatalf("expected correction failure, got %v", err)
	}
	assertValue(t, shareValue(t, mem, person, month, "sa"), "0.2")
	assertValue(t, shareValue(t, mem, person, month, "sb"), "0.2")
	assertValue(t, shareValue(t, mem, person, month, "sc"), "0.2")
}

// =============================================================================
// SUMMARY
// =============================================================================

func TestRebalance_Result_ReportsBeforeAndAfter(t *testing.T) {
	mem := store.NewMemory()
	person := effort.PersonID("p1")
	month := march2026()
	seedCeiling(t, mem, person, month, 0.8)
	seedShare(t, mem, "s1", person, "PRJ10000", month, 0.5)
	seedShare(t, mem, "s2", person, "PRJ20000", month, 0.5)

	engine := reconcile.NewEngine(mem)
	result, err := engine.Rebalance(context.Background(), person, month)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Projects) != 2 {
		t.Fatalf("expected 2 project changes, got %d", len(result.Projects))
	}
	for _, pc := range result.Projects {
		assertValue(t, pc.Before, "0.5")
		assertValue(t, pc.After, "0.4")
	}
}
