/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All engine error categories in one place. The batch drivers use the
  category predicates to decide whether a failure skips one record,
  degrades to a zero result, aborts one person/month, or rolls back a
  transaction.

CATEGORIES:
  1. Validation      - malformed input; skip the record, continue batch
  2. ReferenceMissing - no covering master data; degrade to zero, not fatal
  3. Conflict        - duplicate project dedications over 100%; mark the
                       liquidation errored, continue with the rest
  4. ConstraintViolation - reconciliation cannot satisfy its constraints;
                       abort that person/month, leave prior state untouched
  5. TransactionFailure - persistence error mid-write; full rollback

USAGE:
  if effort.IsConstraintViolation(err) {
      // record in run log, move to next person
  }

SEE ALSO:
  - reconcile/engine.go: produces the constraint violations
  - liquidation/cancel.go: transactional rollback path
*/
package effort

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed or out-of-range input, e.g. a
	// dedication fraction outside [0,1]. Out-of-range values are rejected,
	// never clamped.
	ErrValidation = errors.New("validation failed")

	// ErrReferenceMissing marks a lookup with no covering master data
	// (no dedication row, no affiliation row). Callers degrade to zero.
	ErrReferenceMissing = errors.New("reference data missing")

	// ErrDedicationConflict is returned when a liquidation's merged project
	// dedications exceed 100%.
	ErrDedicationConflict = errors.New("project dedications exceed 100%")

	// ErrNoCeilingDefined is returned when reconciliation runs for a
	// person/month with no capacity ceiling.
	ErrNoCeilingDefined = errors.New("no capacity ceiling defined")

	// ErrNoEffortsFound is returned when reconciliation runs for a
	// person/month with no effort shares.
	ErrNoEffortsFound = errors.New("no effort shares found")

	// ErrLockedExceedsCeiling is returned when locked shares alone exceed
	// the ceiling, leaving nothing to rebalance.
	ErrLockedExceedsCeiling = errors.New("locked effort exceeds ceiling")

	// ErrInsufficientForTravel is returned when the cuttable pool cannot
	// cover the travel minimums.
	ErrInsufficientForTravel = errors.New("capacity insufficient for travel minimums")

	// ErrExceedsAfterCorrection is returned when the rebalanced total still
	// exceeds the ceiling after residue correction.
	ErrExceedsAfterCorrection = errors.New("total still exceeds ceiling after correction")

	// ErrLiquidationNotFound is returned when cancellation finds no daily
	// rows for the liquidation.
	ErrLiquidationNotFound = errors.New("liquidation has no daily allocations")

	// ErrTransactionFailed marks a persistence failure mid-write.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FractionRangeError reports a fraction outside [0,1].
type FractionRangeError struct {
	Field string
	Value decimal.Decimal
}

func (e *FractionRangeError) Error() string {
	return fmt.Sprintf("%s out of range [0,1]: %s", e.Field, e.Value)
}

func (e *FractionRangeError) Unwrap() error { return ErrValidation }

// ConstraintError carries the person/month a reconciliation aborted on.
type ConstraintError struct {
	PersonID PersonID
	Month    MonthKey
	Cause    error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("reconciliation aborted for %s %s: %v", e.PersonID, e.Month, e.Cause)
}

func (e *ConstraintError) Unwrap() error { return e.Cause }

// =============================================================================
// CATEGORY PREDICATES
// =============================================================================

func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsReferenceMissing(err error) bool { return errors.Is(err, ErrReferenceMissing) }

// IsConstraintViolation groups the reconciliation abort conditions.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrLockedExceedsCeiling) ||
		errors.Is(err, ErrInsufficientForTravel) ||
		errors.Is(err, ErrExceedsAfterCorrection) ||
		errors.Is(err, ErrNoCeilingDefined) ||
		errors.Is(err, ErrNoEffortsFound)
}

// ValidateFraction rejects values outside [0,1]. Never clamps.
func ValidateFraction(field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
		return &FractionRangeError{Field: field, Value: v}
	}
	return nil
}
