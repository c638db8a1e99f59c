/*
Package liquidation converts travel/mobility declarations into per-day,
per-project effort contributions and rolls them into monthly effort
shares, with a reversible cancellation path.

STATE MACHINE (per liquidation):

  new(0) --skip rule--> skipped(4)
  new(0) --conflict--> error(5)
  new(0) --expand days--> processed(3)
  processed(3) --aggregate, fully covered--> (lines applied(1))
  processed(3) --aggregate, shortfall--> (TRAVELS share added, lines applied(1))
  any non-terminal --cancel--> cancelled(6)
  override(7) bypasses the skip rule

This file holds the expansion stage (new -> processed/skipped/error).
Expansion is idempotent: pre-existing daily rows for the liquidation are
deleted before regeneration.

SEE ALSO:
  - aggregate.go: processed -> applied
  - cancel.go: transactional reversal
*/
package liquidation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian/effort-engine/capacity"
	"github.com/meridian/effort-engine/effort"
)

var hundred = decimal.NewFromInt(100)

// MaxTripDays is the duration at which a declaration stops generating
// daily rows: month-long stays are relocations, not travel.
const MaxTripDays = 30

// Pipeline runs the allocation stages over the liquidation store.
type Pipeline struct {
	Store      effort.TxStore
	Calculator *capacity.Calculator

	// HomeOffice is the destiny string that triggers the skip rule.
	HomeOffice string
}

func NewPipeline(store effort.TxStore, calc *capacity.Calculator, homeOffice string) *Pipeline {
	return &Pipeline{Store: store, Calculator: calc, HomeOffice: homeOffice}
}

// projectLine is one (code, dedication%) pair after conflict folding.
type projectLine struct {
	Code       string
	Dedication decimal.Decimal
}

// ExpandResult reports what expansion did with one liquidation.
type ExpandResult struct {
	Status effort.LiquidationStatus
	Rows   int
}

// Expand turns one declaration into daily project allocation rows and
// moves it to processed. Skipped and conflicting declarations end in
// their terminal states; only infrastructure failures return an error.
func (p *Pipeline) Expand(ctx context.Context, id effort.LiquidationID) (*ExpandResult, error) {
	liq, err := p.Store.Liquidation(ctx, id)
	if err != nil {
		return nil, err
	}
	if liq == nil {
		return nil, fmt.Errorf("liquidation %s: %w", id, effort.ErrReferenceMissing)
	}

	// Idempotent re-run: regenerate from scratch.
	if err := p.Store.DeleteDailyAllocations(ctx, liq.ID); err != nil {
		return nil, err
	}

	// Skip rule: home-office trips and month-long stays generate nothing,
	// unless the declaration was pre-set to override.
	if liq.Status != effort.LiquidationOverride &&
		(strings.EqualFold(liq.Destiny, p.HomeOffice) || liq.Duration() >= MaxTripDays) {
		if err := p.Store.SetLiquidationStatus(ctx, liq.ID, effort.LiquidationSkipped); err != nil {
			return nil, err
		}
		log.Printf("[Allocation] %s skipped (destiny=%s, days=%d)", liq.ID, liq.Destiny, liq.Duration())
		return &ExpandResult{Status: effort.LiquidationSkipped}, nil
	}

	lines, conflict := foldProjectLines(liq)
	if conflict {
		if err := p.Store.SetLiquidationStatus(ctx, liq.ID, effort.LiquidationError); err != nil {
			return nil, err
		}
		log.Printf("[Allocation] %s conflict: merged dedication exceeds 100%%", liq.ID)
		return &ExpandResult{Status: effort.LiquidationError}, nil
	}

	holidays, err := p.holidaySets(ctx, liq.Start, liq.End)
	if err != nil {
		return nil, err
	}

	var rows []effort.DailyProjectAllocation
	for day := liq.Start; day.BeforeOrEqual(liq.End); day = day.AddDays(1) {
		offDay := day.IsWeekend() || holidays[day.Year()].Contains(day)

		for _, line := range lines {
			project, err := p.resolveProject(ctx, line.Code)
			if err != nil {
				return nil, err
			}
			if project == nil {
				continue
			}

			pm := effort.ZeroPM()
			if !offDay {
				daily, err := p.Calculator.DailyCapacity(ctx, liq.PersonID, day)
				if err != nil {
					return nil, err
				}
				pm = daily.Mul(line.Dedication.DivRound(hundred, 12))
			}

			rows = append(rows, effort.DailyProjectAllocation{
				ID:             uuid.NewString(),
				LiquidationID:  liq.ID,
				PersonID:       liq.PersonID,
				ProjectID:      project.ID,
				Day:            day,
				Dedication:     line.Dedication,
				PMContribution: pm,
				LineStatus:     effort.LinePending,
			})
		}
	}

	if err := p.Store.SaveDailyAllocations(ctx, rows); err != nil {
		return nil, err
	}
	if err := p.Store.SetLiquidationStatus(ctx, liq.ID, effort.LiquidationProcessed); err != nil {
		return nil, err
	}
	log.Printf("[Allocation] %s expanded into %d daily rows", liq.ID, len(rows))
	return &ExpandResult{Status: effort.LiquidationProcessed, Rows: len(rows)}, nil
}

// foldProjectLines collapses the two declaration lines. Equal projects
// merge by summing dedications; a merged sum over 100% is a conflict.
func foldProjectLines(liq *effort.Liquidation) ([]projectLine, bool) {
	var lines []projectLine
	if liq.Project1 != "" {
		lines = append(lines, projectLine{Code: liq.Project1, Dedication: liq.Dedication1})
	}
	if liq.Project2 != "" {
		if liq.Project2 == liq.Project1 {
			merged := liq.Dedication1.Add(liq.Dedication2)
			if merged.GreaterThan(hundred) {
				return nil, true
			}
			lines[0].Dedication = merged
		} else {
			lines = append(lines, projectLine{Code: liq.Project2, Dedication: liq.Dedication2})
		}
	}
	return lines, false
}

// NormalizeProjectCode maps an 8-character sub-project code onto its
// parent by zeroing the last two characters. Other codes pass through.
func NormalizeProjectCode(code string) string {
	if len(code) == 8 {
		return code[:6] + "00"
	}
	return code
}

// resolveProject looks up the (normalized) project, or nil when unknown.
func (p *Pipeline) resolveProject(ctx context.Context, code string) (*effort.Project, error) {
	return p.Store.ProjectByCode(ctx, NormalizeProjectCode(code))
}

// holidaySets loads the holiday calendars of every year the trip spans.
func (p *Pipeline) holidaySets(ctx context.Context, start, end effort.Day) (map[int]effort.HolidaySet, error) {
	sets := make(map[int]effort.HolidaySet)
	for year := start.Year(); year <= end.Year(); year++ {
		rows, err := p.Store.Holidays(ctx, year)
		if err != nil {
			return nil, err
		}
		sets[year] = effort.NewHolidaySet(rows)
	}
	return sets, nil
}

// ExpandAll runs expansion over every new and override declaration.
// One declaration's failure does not abort the rest.
func (p *Pipeline) ExpandAll(ctx context.Context) (processed, failed int, err error) {
	for _, status := range []effort.LiquidationStatus{effort.LiquidationNew, effort.LiquidationOverride} {
		liqs, err := p.Store.LiquidationsByStatus(ctx, status)
		if err != nil {
			return processed, failed, err
		}
		for _, liq := range liqs {
			if _, err := p.Expand(ctx, liq.ID); err != nil {
				log.Printf("[Allocation] expand %s failed: %v", liq.ID, err)
				failed++
				continue
			}
			processed++
		}
	}
	return processed, failed, nil
}
