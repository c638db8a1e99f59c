/*
Package effort provides the core types and contracts of the effort
accounting engine.

PURPOSE:
  This package defines the shared vocabulary of the three engine stages:
  master-data records (dedications, affiliations, leave, holidays), the
  effort-share ledger rows the stages read and write, and the PM value
  type all fraction arithmetic goes through.

KEY CONCEPTS IN THIS FILE (types.go):
  - PM: a fraction of full-time-equivalent, decimal-backed
  - Dedication: a contract segment reducing a person's capacity
  - Liquidation: a travel declaration, later expanded into daily rows
  - EffortShare: the monthly allocation of a person to one work-package
  - CapacityCeiling: the authoritative monthly PM maximum per person

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere a fraction or rate lives;
     float64 never touches effort values.
  2. Type safety: distinct string ID types for persons, projects and
     work-packages so they cannot be mixed up.
  3. Records are plain data: the engines own all behavior.

SEE ALSO:
  - dates.go: Day and MonthKey
  - store.go: persistence contracts for these records
*/
package effort

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PM - Fraction of full-time-equivalent
// =============================================================================

// PM is a person-month fraction. Capacity ceilings, effort shares and daily
// contributions are all PM values.
type PM struct {
	Value decimal.Decimal
}

func NewPM(v float64) PM          { return PM{Value: decimal.NewFromFloat(v)} }
func PMFromDecimal(d decimal.Decimal) PM { return PM{Value: d} }
func ZeroPM() PM                  { return PM{Value: decimal.Zero} }
func OnePM() PM                   { return PM{Value: decimal.NewFromInt(1)} }

func MustParsePM(s string) PM {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroPM()
	}
	return PM{Value: d}
}

func (p PM) Add(o PM) PM                { return PM{Value: p.Value.Add(o.Value)} }
func (p PM) Sub(o PM) PM                { return PM{Value: p.Value.Sub(o.Value)} }
func (p PM) Mul(d decimal.Decimal) PM   { return PM{Value: p.Value.Mul(d)} }
func (p PM) Div(d decimal.Decimal) PM   { return PM{Value: p.Value.DivRound(d, 12)} }
func (p PM) Neg() PM                    { return PM{Value: p.Value.Neg()} }
func (p PM) IsZero() bool               { return p.Value.IsZero() }
func (p PM) IsNegative() bool           { return p.Value.IsNegative() }
func (p PM) IsPositive() bool           { return p.Value.IsPositive() }
func (p PM) GreaterThan(o PM) bool      { return p.Value.GreaterThan(o.Value) }
func (p PM) GreaterOrEqual(o PM) bool   { return p.Value.GreaterThanOrEqual(o.Value) }
func (p PM) LessThan(o PM) bool         { return p.Value.LessThan(o.Value) }
func (p PM) Min(o PM) PM                { if p.LessThan(o) { return p }; return o }

// Round2 rounds to 2 decimals, half away from zero. Every persisted share
// and ceiling value passes through this.
func (p PM) Round2() PM { return PM{Value: p.Value.Round(2)} }

func (p PM) String() string { return p.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PersonID string
type ProjectID string
type WorkPackageID string
type AssignmentID string
type LiquidationID string
type AffiliationID string

// =============================================================================
// MASTER DATA - Produced by the ingestion collaborators
// =============================================================================

// DedicationType ranks overlapping dedications; the highest value governs
// a given day.
type DedicationType int

// Dedication is a contract segment for a person. Segments may overlap;
// deactivation is logical (Exists=false), never a delete.
type Dedication struct {
	ID                string
	PersonID          PersonID
	Start             Day
	End               Day
	ReductionFraction decimal.Decimal // in [0,1], validated on ingestion
	Type              DedicationType
	AnnualCost        decimal.Decimal
	Exists            bool
}

// Active reports whether the segment governs the given day.
func (d Dedication) Active(day Day) bool {
	return d.Exists && day.AfterOrEqual(d.Start) && day.BeforeOrEqual(d.End)
}

// AffiliationAssignment links a person to an affiliation category over a
// date range. Disjoint per LineID.
type AffiliationAssignment struct {
	ID            string
	PersonID      PersonID
	LineID        string
	Start         Day
	End           Day
	AffiliationID AffiliationID
	ResponsibleID PersonID
	Exists        bool
}

func (a AffiliationAssignment) Active(day Day) bool {
	return a.Exists && day.AfterOrEqual(a.Start) && day.BeforeOrEqual(a.End)
}

// AffiliationHours gives the nominal full-time daily hours of an
// affiliation category over a date range.
type AffiliationHours struct {
	AffiliationID AffiliationID
	Start         Day
	End           Day
	HoursPerDay   decimal.Decimal
}

func (h AffiliationHours) Covers(day Day) bool {
	return day.AfterOrEqual(h.Start) && day.BeforeOrEqual(h.End)
}

// LeaveType distinguishes how an absence composes with dedication.
type LeaveType int

const (
	LeaveFull       LeaveType = iota // whole day absent
	LeavePartial                     // reduces the day proportionally
	LeaveNoContract                  // filler day, no contract coverage
	LeavePaternity                   // composes multiplicatively with dedication
)

// Leave is one absence day for a person.
type Leave struct {
	PersonID          PersonID
	Day               Day
	Type              LeaveType
	ReductionFraction decimal.Decimal // in [0,1]
	Hours             decimal.Decimal
	Legacy            bool
}

// NationalHoliday is a calendar-wide non-working day.
type NationalHoliday struct {
	Date Day
}

// TimesheetEntry is one declared-hours record.
type TimesheetEntry struct {
	PersonID PersonID
	Day      Day
	Hours    decimal.Decimal
}

// Person is the minimal person record the batch jobs iterate over.
type Person struct {
	ID   PersonID
	Name string
}

// =============================================================================
// PROJECT REGISTRY
// =============================================================================

// Project is a registry entry. The ID is the normalized (parent) project
// code; 8-character sub-project codes fold onto it.
type Project struct {
	ID    ProjectID
	Name  string
	Start Day
	End   Day
}

// TravelsWorkPackageName is the synthetic per-project work package that
// absorbs travel-derived effort with no existing coverage.
const TravelsWorkPackageName = "TRAVELS"

type WorkPackage struct {
	ID        WorkPackageID
	ProjectID ProjectID
	Name      string
	Start     Day
	End       Day
}

func (wp WorkPackage) IsTravels() bool { return wp.Name == TravelsWorkPackageName }

// WorkPackageAssignment links a person to a work package; effort shares
// hang off this link.
type WorkPackageAssignment struct {
	ID            AssignmentID
	WorkPackageID WorkPackageID
	PersonID      PersonID
}

// ProjectMember records that a person is staffed on a project at all.
type ProjectMember struct {
	ProjectID ProjectID
	PersonID  PersonID
}

// =============================================================================
// EFFORT LEDGER - Outputs of the calculator and pipeline
// =============================================================================

// CapacityCeiling is the authoritative monthly PM maximum for a person.
type CapacityCeiling struct {
	PersonID PersonID
	Month    MonthKey
	Value    PM
}

// EffortShare is the fraction of FTE a person dedicates to one
// work-package in one month. Unique per (assignment, month).
type EffortShare struct {
	ID            string
	AssignmentID  AssignmentID
	PersonID      PersonID
	ProjectID     ProjectID
	WorkPackageID WorkPackageID
	WorkPackage   string // work-package name, for TRAVELS exclusion checks
	Month         MonthKey
	Value         PM
}

func (s EffortShare) IsTravels() bool { return s.WorkPackage == TravelsWorkPackageName }

// ProjectMonthLock freezes a project's shares against reconciliation.
type ProjectMonthLock struct {
	PersonID  PersonID
	ProjectID ProjectID
	Month     MonthKey
	IsLocked  bool
}

// PersonRate is one hourly-cost segment, consumed by financial export.
type PersonRate struct {
	ID            string
	PersonID      PersonID
	AffiliationID AffiliationID
	Start         Day
	End           Day
	Rate          decimal.Decimal
}

// =============================================================================
// LIQUIDATION - Travel declarations and their daily expansion
// =============================================================================

type LiquidationStatus int

const (
	LiquidationNew             LiquidationStatus = 0
	LiquidationAdvancedApplied LiquidationStatus = 1
	LiquidationProcessed       LiquidationStatus = 3
	LiquidationSkipped         LiquidationStatus = 4
	LiquidationError           LiquidationStatus = 5
	LiquidationCancelled       LiquidationStatus = 6
	LiquidationOverride        LiquidationStatus = 7
)

// Expandable reports whether the expansion stage should pick this
// liquidation up.
func (s LiquidationStatus) Expandable() bool {
	return s == LiquidationNew || s == LiquidationOverride
}

// Liquidation is a travel/mobility declaration. Up to two project lines,
// each with a dedication percentage.
type Liquidation struct {
	ID          LiquidationID
	PersonID    PersonID
	Project1    string // raw project code, possibly 8 chars
	Dedication1 decimal.Decimal // percent, 0..100
	Project2    string
	Dedication2 decimal.Decimal
	Start       Day
	End         Day
	Destiny     string
	Reason      string
	Status      LiquidationStatus
}

// Duration is the inclusive day span of the trip.
func (l Liquidation) Duration() int { return DaysBetween(l.Start, l.End) }

type LineStatus int

const (
	LinePending LineStatus = 0
	LineApplied LineStatus = 1
)

// DailyProjectAllocation is one expanded row: the PM contribution of one
// liquidation day to one project. Rows exist iff the owning liquidation is
// processed, applied or being cancelled.
type DailyProjectAllocation struct {
	ID            string
	LiquidationID LiquidationID
	PersonID      PersonID
	ProjectID     ProjectID
	Day           Day
	Dedication    decimal.Decimal // percent, 0..100
	PMContribution PM
	LineStatus    LineStatus
}
