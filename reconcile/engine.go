/*
Package reconcile detects months where a person's summed effort shares
exceed their capacity ceiling and proportionally rescales the shares,
honoring project locks and travel-derived minimums.

ALGORITHM:
  A straight proportional cut can under-fund a project whose share must,
  at minimum, justify travel days already recorded against it. The
  engine therefore ring-fences travel minimums first:

  1. If total <= ceiling, no-op.
  2. Partition shares into locked and modifiable projects. Locked
     shares never move; if they alone exceed the ceiling, abort.
  3. Compute each modifiable project's travel minimum from its daily
     allocation rows. If the cuttable pool cannot cover the minimums,
     abort.
  4. Iteratively pin every travel-bearing project that the current
     global ratio would push below its minimum to exactly that minimum,
     shrinking the pool and recomputing the ratio, until stable.
  5. Scale the remaining projects by the final ratio.

  All scaling rounds per-line to 2 decimals; each project's rounding
  delta lands on its largest-original line so project totals stay
  exact. A final residue check trims the largest adjusted line if
  accumulated rounding still overshoots the ceiling.

  Adjustments are computed as a proposed set over an immutable snapshot
  of the original values and applied atomically at the end; a failed run
  persists nothing.

SEE ALSO:
  - capacity/calculator.go: produces the ceilings
  - liquidation/aggregate.go: produces the shares being rebalanced
*/
package reconcile

import (
	"context"
	"log"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

var one = decimal.NewFromInt(1)

// Engine rebalances one person/month at a time.
type Engine struct {
	Store effort.TxStore
}

func NewEngine(store effort.TxStore) *Engine {
	return &Engine{Store: store}
}

// ProjectChange reports one project's before/after totals.
type ProjectChange struct {
	ProjectID effort.ProjectID
	Before    decimal.Decimal
	After     decimal.Decimal
	Locked    bool
}

// Result summarizes a rebalancing run.
type Result struct {
	PersonID       effort.PersonID
	Month          effort.MonthKey
	Ceiling        decimal.Decimal
	TotalAllocated decimal.Decimal
	Overload       decimal.Decimal
	Changed        bool
	Projects       []ProjectChange
}

// projectGroup is the mutable working state for one modifiable project.
type projectGroup struct {
	id       effort.ProjectID
	lines    []effort.EffortShare // snapshot of original values
	original decimal.Decimal      // sum of original line values
	min      decimal.Decimal      // travel-derived minimum, zero if none
	travel   bool
	treated  bool
	adjusted map[string]decimal.Decimal // shareID -> new value
	total    decimal.Decimal            // sum of adjusted values
}

// Rebalance enforces the capacity ceiling for one person/month.
func (e *Engine) Rebalance(ctx context.Context, person effort.PersonID, month effort.MonthKey) (*Result, error) {
	ceiling, err := e.Store.Ceiling(ctx, person, month)
	if err != nil {
		return nil, err
	}
	if ceiling == nil {
		return nil, &effort.ConstraintError{PersonID: person, Month: month, Cause: effort.ErrNoCeilingDefined}
	}
	shares, err := e.Store.SharesFor(ctx, person, month)
	if err != nil {
		return nil, err
	}
	if len(shares) == 0 {
		return nil, &effort.ConstraintError{PersonID: person, Month: month, Cause: effort.ErrNoEffortsFound}
	}

	result := &Result{PersonID: person, Month: month, Ceiling: ceiling.Value.Value}

	totalAllocated := decimal.Zero
	for _, s := range shares {
		totalAllocated = totalAllocated.Add(s.Value.Value)
	}
	result.TotalAllocated = totalAllocated

	if totalAllocated.LessThanOrEqual(ceiling.Value.Value) {
		return result, nil
	}
	result.Overload = totalAllocated.Sub(ceiling.Value.Value)

	// Partition by project into locked and modifiable.
	byProject := make(map[effort.ProjectID][]effort.EffortShare)
	for _, s := range shares {
		byProject[s.ProjectID] = append(byProject[s.ProjectID], s)
	}

	lockedTotal := decimal.Zero
	var groups []*projectGroup
	for projectID, lines := range byProject {
		sum := decimal.Zero
		for _, s := range lines {
			sum = sum.Add(s.Value.Value)
		}
		locked, err := e.Store.IsLocked(ctx, person, projectID, month)
		if err != nil {
			return nil, err
		}
		if locked {
			lockedTotal = lockedTotal.Add(sum)
			result.Projects = append(result.Projects, ProjectChange{
				ProjectID: projectID, Before: sum, After: sum, Locked: true,
			})
			continue
		}
		groups = append(groups, &projectGroup{
			id:       projectID,
			lines:    lines,
			original: sum,
			adjusted: make(map[string]decimal.Decimal),
		})
	}
	// Deterministic treatment order.
	sort.Slice(groups, func(i, j int) bool { return groups[i].id < groups[j].id })

	available := ceiling.Value.Value.Sub(lockedTotal)
	if available.IsNegative() {
		return nil, &effort.ConstraintError{PersonID: person, Month: month, Cause: effort.ErrLockedExceedsCeiling}
	}

	// Travel minimums from this month's daily allocation rows.
	travelRows, err := e.Store.DailyAllocationsForMonth(ctx, person, month)
	if err != nil {
		return nil, err
	}
	minByProject := make(map[effort.ProjectID]decimal.Decimal)
	for _, row := range travelRows {
		minByProject[row.ProjectID] = minByProject[row.ProjectID].Add(row.PMContribution.Value)
	}
	minTotalTravel := decimal.Zero
	for _, g := range groups {
		if min, ok := minByProject[g.id]; ok {
			g.min = min
			g.travel = true
			minTotalTravel = minTotalTravel.Add(min)
		}
	}
	if available.LessThan(minTotalTravel) {
		return nil, &effort.ConstraintError{PersonID: person, Month: month, Cause: effort.ErrInsufficientForTravel}
	}

	globalRatio := ratioFor(available, untreatedOriginals(groups))

	// Iterative correction: pin every travel-bearing project the current
	// ratio would under-fund to exactly its minimum, shrink the pool,
	// recompute, repeat until stable.
	for {
		violator := findViolator(groups, globalRatio)
		if violator == nil {
			break
		}
		pinToMinimum(violator)
		available = available.Sub(violator.min)
		globalRatio = ratioFor(available, untreatedOriginals(groups))
	}

	// Remaining travel-bearing projects take the final global ratio.
	for _, g := range groups {
		if g.treated || !g.travel {
			continue
		}
		scaleGroup(g, globalRatio)
		available = available.Sub(g.total)
	}

	// Projects with no travel requirement share whatever is left.
	nonTravelOriginals := decimal.Zero
	for _, g := range groups {
		if !g.treated {
			nonTravelOriginals = nonTravelOriginals.Add(g.original)
		}
	}
	nonTravelRatio := ratioFor(available, nonTravelOriginals)
	for _, g := range groups {
		if g.treated {
			continue
		}
		scaleGroup(g, nonTravelRatio)
	}

	// Final check: trim rounding residue from the largest adjusted line.
	finalTotal := lockedTotal
	for _, g := range groups {
		finalTotal = finalTotal.Add(g.total)
	}
	if finalTotal.GreaterThan(ceiling.Value.Value) {
		residue := finalTotal.Sub(ceiling.Value.Value)
		if trimResidue(groups, residue) {
			finalTotal = ceiling.Value.Value
		}
	}
	if finalTotal.GreaterThan(ceiling.Value.Value) {
		return nil, &effort.ConstraintError{PersonID: person, Month: month, Cause: effort.ErrExceedsAfterCorrection}
	}

	// Persist the proposed adjustment set atomically.
	updates := make(map[string]decimal.Decimal)
	for _, g := range groups {
		for id, v := range g.adjusted {
			updates[id] = v
		}
		result.Projects = append(result.Projects, ProjectChange{
			ProjectID: g.id, Before: g.original, After: g.total,
		})
	}
	err = e.Store.WithTx(ctx, func(tx effort.Store) error {
		return tx.UpdateShareValues(ctx, updates)
	})
	if err != nil {
		return nil, err
	}

	result.Changed = true
	log.Printf("[Reconcile] %s %s rebalanced: total %s -> %s (ceiling %s)",
		person, month, totalAllocated, finalTotal, ceiling.Value)
	return result, nil
}

// =============================================================================
// SCALING PRIMITIVES
// =============================================================================

func ratioFor(available, originals decimal.Decimal) decimal.Decimal {
	if !originals.IsPositive() {
		return one
	}
	ratio := available.DivRound(originals, 12)
	if ratio.GreaterThan(one) {
		return one
	}
	return ratio
}

func untreatedOriginals(groups []*projectGroup) decimal.Decimal {
	sum := decimal.Zero
	for _, g := range groups {
		if !g.treated {
			sum = sum.Add(g.original)
		}
	}
	return sum
}

// findViolator returns the first untreated travel-bearing project whose
// lines, scaled by ratio and rounded, would fall below its minimum.
func findViolator(groups []*projectGroup, ratio decimal.Decimal) *projectGroup {
	for _, g := range groups {
		if g.treated || !g.travel {
			continue
		}
		projected := decimal.Zero
		for _, line := range g.lines {
			projected = projected.Add(line.Value.Value.Mul(ratio).Round(2))
		}
		if projected.LessThan(g.min) {
			return g
		}
	}
	return nil
}

// pinToMinimum rescales a project's lines so their sum is exactly its
// travel minimum: a project-specific ratio per line (smallest original
// first), with the full rounding delta on the largest-original line.
func pinToMinimum(g *projectGroup) {
	ratio := ratioFor(g.min, g.original)
	applyRatio(g, ratio, g.min)
	g.treated = true
}

// scaleGroup applies a uniform ratio, targeting the rounded ideal total.
func scaleGroup(g *projectGroup, ratio decimal.Decimal) {
	target := g.original.Mul(ratio).Round(2)
	applyRatio(g, ratio, target)
	g.treated = true
}

// applyRatio scales every line (smallest original first), rounds each to
// 2 decimals, and assigns the delta between the target total and the
// rounded-line sum to the largest-original line.
func applyRatio(g *projectGroup, ratio, target decimal.Decimal) {
	ordered := make([]effort.EffortShare, len(g.lines))
	copy(ordered, g.lines)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Value.Value.Equal(ordered[j].Value.Value) {
			return ordered[i].Value.Value.LessThan(ordered[j].Value.Value)
		}
		return ordered[i].ID < ordered[j].ID
	})

	rounded := decimal.Zero
	for _, line := range ordered {
		v := line.Value.Value.Mul(ratio).Round(2)
		g.adjusted[line.ID] = v
		rounded = rounded.Add(v)
	}

	largest := ordered[len(ordered)-1]
	delta := target.Sub(rounded)
	if !delta.IsZero() {
		g.adjusted[largest.ID] = g.adjusted[largest.ID].Add(delta)
	}
	g.total = target
}

// trimResidue subtracts the overshoot from the single largest adjusted
// line, flooring at zero. Reports whether the full residue was absorbed.
func trimResidue(groups []*projectGroup, residue decimal.Decimal) bool {
	var bestGroup *projectGroup
	bestID := ""
	bestValue := decimal.Zero
	for _, g := range groups {
		for id, v := range g.adjusted {
			if bestGroup == nil || v.GreaterThan(bestValue) || (v.Equal(bestValue) && id < bestID) {
				bestGroup, bestID, bestValue = g, id, v
			}
		}
	}
	if bestGroup == nil {
		return false
	}
	next := bestValue.Sub(residue)
	if next.IsNegative() {
		bestGroup.adjusted[bestID] = decimal.Zero
		bestGroup.total = bestGroup.total.Sub(bestValue)
		return false
	}
	bestGroup.adjusted[bestID] = next
	bestGroup.total = bestGroup.total.Sub(residue)
	return true
}

// =============================================================================
// BATCH DRIVER
// =============================================================================

// RebalanceAll runs Rebalance for every person, continuing past
// per-person constraint failures.
func (e *Engine) RebalanceAll(ctx context.Context, month effort.MonthKey) (handled, failed int, err error) {
	persons, err := e.Store.Persons(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range persons {
		if _, err := e.Rebalance(ctx, p.ID, month); err != nil {
			if effort.IsConstraintViolation(err) {
				log.Printf("[Reconcile] %s %s skipped: %v", p.ID, month, err)
				failed++
				continue
			}
			return handled, failed, err
		}
		handled++
	}
	return handled, failed, nil
}
