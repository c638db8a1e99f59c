/*
runlog.go - Per-run execution log

Every batch job writes one RunRecord summarizing its outcome. One item's
failure never aborts the batch; the driver counts it and keeps going, and
the record ends up "warnings" or "failed" accordingly.
*/
package effort

import (
	"context"
	"time"
)

type RunStatus string

const (
	RunSuccess  RunStatus = "success"
	RunWarnings RunStatus = "warnings"
	RunFailed   RunStatus = "failed"
)

// RunRecord is one execution-log entry.
type RunRecord struct {
	ID          string
	Process     string // job name: capacity, rates, allocate, reconcile, cancel
	StartedAt   time.Time
	CompletedAt time.Time
	Status      RunStatus
	Message     string
	Items       int // items processed
	Failures    int // items skipped or failed
}

// StatusFromCounts derives the record status from the batch outcome.
func StatusFromCounts(items, failures int) RunStatus {
	switch {
	case failures == 0:
		return RunSuccess
	case failures < items:
		return RunWarnings
	default:
		return RunFailed
	}
}

type RunLogStore interface {
	SaveRun(ctx context.Context, r RunRecord) error
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
}
