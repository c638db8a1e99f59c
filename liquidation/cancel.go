/*
cancel.go - Transactional liquidation cancellation

Reverses the aggregation of one liquidation: for each
(project, person, month) group it re-derives how much travel effort the
REMAINING liquidations still justify, shrinks or zeroes the TRAVELS
share accordingly, then deletes the liquidation's daily rows and marks
it cancelled. The whole reversal commits atomically; any failure rolls
back everything.
*/
package liquidation

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/effort"
)

// Cancel reverses one liquidation's contribution to the effort ledger.
// Fails with ErrLiquidationNotFound when no daily rows exist.
func (p *Pipeline) Cancel(ctx context.Context, id effort.LiquidationID) error {
	err := p.Store.WithTx(ctx, func(tx effort.Store) error {
		return cancelInTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	log.Printf("[Allocation] %s cancelled", id)
	return nil
}

func cancelInTx(ctx context.Context, tx effort.Store, id effort.LiquidationID) error {
	rows, err := tx.DailyAllocationsByLiquidation(ctx, id)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("cancel %s: %w", id, effort.ErrLiquidationNotFound)
	}

	groups := make(map[groupKey]bool)
	for _, row := range rows {
		groups[groupKey{Project: row.ProjectID, Month: effort.MonthOf(row.Day), Person: row.PersonID}] = true
	}

	for key := range groups {
		if err := reverseGroup(ctx, tx, id, key); err != nil {
			return err
		}
	}

	if err := tx.DeleteDailyAllocations(ctx, id); err != nil {
		return err
	}
	return tx.SetLiquidationStatus(ctx, id, effort.LiquidationCancelled)
}

func reverseGroup(ctx context.Context, tx effort.Store, cancelled effort.LiquidationID, key groupKey) error {
	wp, err := tx.WorkPackageByName(ctx, key.Project, effort.TravelsWorkPackageName)
	if err != nil {
		return err
	}
	if wp == nil {
		// No TRAVELS package was ever created; nothing to reverse here.
		return nil
	}
	assignment, err := tx.AssignmentFor(ctx, key.Person, wp.ID)
	if err != nil {
		return err
	}
	if assignment == nil {
		return nil
	}

	shares, err := tx.SharesForProject(ctx, key.Person, key.Project, key.Month)
	if err != nil {
		return err
	}
	travels := findShare(shares, assignment.ID, key.Month)
	if travels == nil {
		return nil
	}

	// Travel effort the other liquidations still justify this month.
	all, err := tx.DailyAllocationsFor(ctx, key.Person, key.Project, key.Month)
	if err != nil {
		return err
	}
	totalRemaining := effort.ZeroPM()
	remainingRows := 0
	for _, row := range all {
		if row.LiquidationID == cancelled {
			continue
		}
		totalRemaining = totalRemaining.Add(row.PMContribution)
		remainingRows++
	}

	// Peer shares on the project/month, excluding TRAVELS itself.
	otherEffort := effort.ZeroPM()
	for _, s := range shares {
		if s.ID != travels.ID {
			otherEffort = otherEffort.Add(s.Value)
		}
	}

	switch {
	case remainingRows == 0:
		travels.Value = effort.ZeroPM()
	case otherEffort.GreaterOrEqual(totalRemaining):
		travels.Value = effort.ZeroPM()
	default:
		travels.Value = travels.Value.Sub(totalRemaining.Sub(otherEffort))
		if travels.Value.IsNegative() {
			travels.Value = effort.ZeroPM()
		}
	}

	return tx.UpdateShareValues(ctx, map[string]decimal.Decimal{travels.ID: travels.Value.Value})
}
