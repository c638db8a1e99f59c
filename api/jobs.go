/*
jobs.go - Named batch jobs over the engine stages

PURPOSE:
  Exposes the engine stages as named jobs the API and the scheduler can
  trigger: "capacity", "rates", "allocate", "reconcile" and "cancel".
  Every run writes one RunRecord to the execution log, whatever the
  outcome.

BATCH SEMANTICS:
  One item's failure never aborts a batch; it is counted and the run
  degrades to "warnings" or "failed". Only infrastructure errors (store
  failures) abort a job outright.

SEE ALSO:
  - scheduler.go: periodic capacity -> allocate -> reconcile cycle
  - effort/runlog.go: RunRecord and status derivation
*/
package api

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/effort-engine/capacity"
	"github.com/meridian/effort-engine/effort"
	"github.com/meridian/effort-engine/liquidation"
	"github.com/meridian/effort-engine/reconcile"
)

// Job names accepted by Runner.Run.
const (
	JobCapacity  = "capacity"
	JobRates     = "rates"
	JobAllocate  = "allocate"
	JobReconcile = "reconcile"
	JobCancel    = "cancel"
)

// JobParams narrows a job to one person or one liquidation. Year/Month
// select the target month for capacity and reconciliation.
type JobParams struct {
	PersonID      effort.PersonID
	LiquidationID effort.LiquidationID
	Year          int
	Month         time.Month
}

func (p JobParams) month() effort.MonthKey {
	return effort.MonthKey{Year: p.Year, Month: p.Month}
}

// Runner dispatches named jobs to the engine stages.
type Runner struct {
	Store      effort.TxStore
	Calculator *capacity.Calculator
	Pipeline   *liquidation.Pipeline
	Engine     *reconcile.Engine
}

func NewRunner(store effort.TxStore, homeOffice string) *Runner {
	calc := capacity.NewCalculator(store)
	return &Runner{
		Store:      store,
		Calculator: calc,
		Pipeline:   liquidation.NewPipeline(store, calc, homeOffice),
		Engine:     reconcile.NewEngine(store),
	}
}

// Run executes one named job and records the outcome.
func (r *Runner) Run(ctx context.Context, name string, params JobParams) (effort.RunRecord, error) {
	record := effort.RunRecord{
		ID:        uuid.NewString(),
		Process:   name,
		StartedAt: time.Now().UTC(),
	}

	var items, failures int
	var err error
	switch name {
	case JobCapacity:
		items, failures, err = r.runCapacity(ctx, params)
	case JobRates:
		items, failures, err = r.runRates(ctx, params)
	case JobAllocate:
		items, failures, err = r.runAllocate(ctx)
	case JobReconcile:
		items, failures, err = r.runReconcile(ctx, params)
	case JobCancel:
		items, failures, err = r.runCancel(ctx, params)
	default:
		return record, fmt.Errorf("unknown job %q: %w", name, effort.ErrValidation)
	}

	record.CompletedAt = time.Now().UTC()
	record.Items = items
	record.Failures = failures
	if err != nil {
		record.Status = effort.RunFailed
		record.Message = err.Error()
	} else {
		record.Status = effort.StatusFromCounts(items, failures)
	}

	if saveErr := r.Store.SaveRun(ctx, record); saveErr != nil {
		log.Printf("[Jobs] failed to record run %s: %v", name, saveErr)
	}
	log.Printf("[Jobs] %s finished: %d items, %d failures, status=%s", name, items, failures, record.Status)
	return record, err
}

// runCapacity refreshes monthly ceilings: one person when PersonID is
// set, otherwise everyone.
func (r *Runner) runCapacity(ctx context.Context, params JobParams) (int, int, error) {
	persons, err := r.targetPersons(ctx, params)
	if err != nil {
		return 0, 0, err
	}
	month := params.month()

	items, failures := 0, 0
	for _, p := range persons {
		if _, err := r.Calculator.RefreshCeiling(ctx, p.ID, month); err != nil {
			log.Printf("[Jobs] capacity %s %s failed: %v", p.ID, month, err)
			failures++
			continue
		}
		items++
	}
	return items, failures, nil
}

// runRates regenerates hourly-rate segments.
func (r *Runner) runRates(ctx context.Context, params JobParams) (int, int, error) {
	persons, err := r.targetPersons(ctx, params)
	if err != nil {
		return 0, 0, err
	}

	items, failures := 0, 0
	for _, p := range persons {
		// GenerateRates persists the regenerated table itself.
		_, skipped, err := r.Calculator.GenerateRates(ctx, p.ID)
		if err != nil {
			log.Printf("[Jobs] rates %s failed: %v", p.ID, err)
			failures++
			continue
		}
		failures += skipped
		items++
	}
	return items, failures, nil
}

// runAllocate expands pending liquidations into daily rows and folds
// them into monthly effort shares.
func (r *Runner) runAllocate(ctx context.Context) (int, int, error) {
	expanded, expandFailed, err := r.Pipeline.ExpandAll(ctx)
	if err != nil {
		return expanded, expandFailed, err
	}
	aggregated, aggFailed, err := r.Pipeline.Aggregate(ctx)
	return expanded + aggregated, expandFailed + aggFailed, err
}

// runReconcile rebalances overloaded months.
func (r *Runner) runReconcile(ctx context.Context, params JobParams) (int, int, error) {
	month := params.month()
	if params.PersonID != "" {
		if _, err := r.Engine.Rebalance(ctx, params.PersonID, month); err != nil {
			if effort.IsConstraintViolation(err) {
				return 0, 1, nil
			}
			return 0, 0, err
		}
		return 1, 0, nil
	}
	return r.Engine.RebalanceAll(ctx, month)
}

// runCancel reverses one processed liquidation.
func (r *Runner) runCancel(ctx context.Context, params JobParams) (int, int, error) {
	if params.LiquidationID == "" {
		return 0, 0, fmt.Errorf("cancel requires a liquidation id: %w", effort.ErrValidation)
	}
	if err := r.Pipeline.Cancel(ctx, params.LiquidationID); err != nil {
		return 0, 1, err
	}
	return 1, 0, nil
}

func (r *Runner) targetPersons(ctx context.Context, params JobParams) ([]effort.Person, error) {
	if params.PersonID != "" {
		return []effort.Person{{ID: params.PersonID}}, nil
	}
	return r.Store.Persons(ctx)
}
