/*
store.go - Persistence contracts

PURPOSE:
  Defines the interface between the engines and the database. The
  interfaces are grouped by concern so each engine depends only on what
  it reads: the calculator on reference data, the pipeline on
  liquidations and the project registry, reconciliation on the effort
  ledger.

TRANSACTIONS:
  Cancellation and reconciliation must mutate the effort ledger
  all-or-nothing. TxStore.WithTx runs a function against a tx-scoped
  Store; an error rolls everything back.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - effort/store/memory.go: in-memory for tests

SEE ALSO:
  - runlog.go: execution-log contract
*/
package effort

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REFERENCE STORE - Master data the calculator reads
// =============================================================================

type ReferenceStore interface {
	// Persons returns every person known to the engine.
	Persons(ctx context.Context) ([]Person, error)
	SavePerson(ctx context.Context, p Person) error

	// DedicationsFor returns all dedication segments for a person,
	// including logically deactivated ones (Exists=false).
	DedicationsFor(ctx context.Context, person PersonID) ([]Dedication, error)
	SaveDedication(ctx context.Context, d Dedication) error

	AffiliationAssignmentsFor(ctx context.Context, person PersonID) ([]AffiliationAssignment, error)
	SaveAffiliationAssignment(ctx context.Context, a AffiliationAssignment) error

	AffiliationHoursFor(ctx context.Context, affiliation AffiliationID) ([]AffiliationHours, error)
	SaveAffiliationHours(ctx context.Context, h AffiliationHours) error

	// LeavesFor returns leave rows in [from, to] inclusive, ordered by
	// day then leave type.
	LeavesFor(ctx context.Context, person PersonID, from, to Day) ([]Leave, error)
	SaveLeave(ctx context.Context, l Leave) error

	Holidays(ctx context.Context, year int) ([]NationalHoliday, error)
	SaveHoliday(ctx context.Context, h NationalHoliday) error

	TimesheetFor(ctx context.Context, person PersonID, from, to Day) ([]TimesheetEntry, error)
	SaveTimesheetEntry(ctx context.Context, e TimesheetEntry) error
}

// =============================================================================
// PROJECT STORE - Registry of projects, work packages and links
// =============================================================================

type ProjectStore interface {
	// ProjectByCode resolves a normalized project code. Returns
	// (nil, nil) when the code is unknown.
	ProjectByCode(ctx context.Context, code string) (*Project, error)
	SaveProject(ctx context.Context, p Project) error

	// WorkPackageByName finds a work package by (project, name).
	// Returns (nil, nil) when absent. A uniqueness constraint on
	// (project, name) guards the TRAVELS get-or-create.
	WorkPackageByName(ctx context.Context, project ProjectID, name string) (*WorkPackage, error)
	SaveWorkPackage(ctx context.Context, wp WorkPackage) error

	IsProjectMember(ctx context.Context, project ProjectID, person PersonID) (bool, error)
	SaveProjectMember(ctx context.Context, m ProjectMember) error

	// AssignmentFor finds the person's link to a work package.
	// Returns (nil, nil) when absent.
	AssignmentFor(ctx context.Context, person PersonID, wp WorkPackageID) (*WorkPackageAssignment, error)
	SaveAssignment(ctx context.Context, a WorkPackageAssignment) error
}

// =============================================================================
// EFFORT STORE - Ceilings, shares, locks, rates
// =============================================================================

type EffortStore interface {
	// Ceiling returns (nil, nil) when no ceiling exists for the month.
	Ceiling(ctx context.Context, person PersonID, month MonthKey) (*CapacityCeiling, error)
	SaveCeiling(ctx context.Context, c CapacityCeiling) error

	// SharesFor returns all of a person's effort shares for a month.
	SharesFor(ctx context.Context, person PersonID, month MonthKey) ([]EffortShare, error)

	// SharesForProject narrows to one project.
	SharesForProject(ctx context.Context, person PersonID, project ProjectID, month MonthKey) ([]EffortShare, error)

	// SaveShare upserts on (assignment, month).
	SaveShare(ctx context.Context, s EffortShare) error

	// UpdateShareValues applies a set of id->value mutations. Callers
	// needing atomicity wrap this in WithTx.
	UpdateShareValues(ctx context.Context, values map[string]decimal.Decimal) error

	IsLocked(ctx context.Context, person PersonID, project ProjectID, month MonthKey) (bool, error)
	SaveLock(ctx context.Context, l ProjectMonthLock) error

	SavePersonRate(ctx context.Context, r PersonRate) error
	PersonRates(ctx context.Context, person PersonID) ([]PersonRate, error)

	// DeletePersonRates drops a person's whole rate table. Regeneration
	// replaces the table rather than appending to it.
	DeletePersonRates(ctx context.Context, person PersonID) error
}

// =============================================================================
// LIQUIDATION STORE - Declarations and their daily expansion
// =============================================================================

type LiquidationStore interface {
	// Liquidation returns (nil, nil) when unknown.
	Liquidation(ctx context.Context, id LiquidationID) (*Liquidation, error)

	// LiquidationsByStatus lists declarations in one state; used by the
	// expansion stage to find new/override work.
	LiquidationsByStatus(ctx context.Context, status LiquidationStatus) ([]Liquidation, error)

	SaveLiquidation(ctx context.Context, l Liquidation) error
	SetLiquidationStatus(ctx context.Context, id LiquidationID, status LiquidationStatus) error

	SaveDailyAllocations(ctx context.Context, rows []DailyProjectAllocation) error
	DeleteDailyAllocations(ctx context.Context, id LiquidationID) error
	DailyAllocationsByLiquidation(ctx context.Context, id LiquidationID) ([]DailyProjectAllocation, error)

	// PendingDailyAllocations returns every row still in LinePending,
	// across all liquidations. The aggregation stage groups these.
	PendingDailyAllocations(ctx context.Context) ([]DailyProjectAllocation, error)

	// DailyAllocationsFor returns all rows (any line status, any
	// liquidation) for one person/project/month slice.
	DailyAllocationsFor(ctx context.Context, person PersonID, project ProjectID, month MonthKey) ([]DailyProjectAllocation, error)

	// DailyAllocationsForMonth returns all of a person's rows in a month;
	// reconciliation derives travel minimums from these.
	DailyAllocationsForMonth(ctx context.Context, person PersonID, month MonthKey) ([]DailyProjectAllocation, error)

	MarkAllocationsApplied(ctx context.Context, ids []string) error
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is everything the engines need from persistence.
type Store interface {
	ReferenceStore
	ProjectStore
	EffortStore
	LiquidationStore
	RunLogStore
}

// TxStore adds transactional execution. The Store handed to fn sees and
// joins the transaction; if fn returns an error the whole transaction is
// rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
