/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Calculation and payroll packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Lookup errors - Missing employees, periods, payrolls, components
  2. Validation errors - Malformed input and overlapping effective windows
  3. Calculation errors - Failures while computing one employee

USAGE:
    if errors.Is(err, core.ErrEmployeeNotFound) {
        // report on the result instead of failing the batch
    }

SEE ALSO:
  - api/handlers.go: Maps these errors onto HTTP status codes
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEmployeeNotFound is returned when an employee record is missing or
	// has no position assignment covering the requested date.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrPeriodNotFound is returned when a pay period doesn't exist.
	ErrPeriodNotFound = errors.New("pay period not found")

	// ErrPayrollNotFound is returned when a payroll doesn't exist.
	ErrPayrollNotFound = errors.New("payroll not found")

	// ErrItemNotFound is returned when a payroll has no item for a component.
	ErrItemNotFound = errors.New("payroll item not found")

	// ErrComponentNotFound is returned when a salary component code is unknown.
	ErrComponentNotFound = errors.New("salary component not found")

	// ErrOverlappingWindow is returned when a write would give the same key
	// two effective windows covering one date.
	ErrOverlappingWindow = errors.New("overlapping effective window")

	// ErrDuplicatePayroll is returned when a second payroll is created for
	// the same employee and period.
	ErrDuplicatePayroll = errors.New("payroll already exists for employee and period")

	// ErrInvalidPeriod is returned when a period or period key is malformed.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrInvalidDate is returned when a date string cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidAmount is returned for malformed monetary input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPredicate is returned when an applicability predicate is malformed.
	ErrInvalidPredicate = errors.New("invalid applicability predicate")

	// ErrCalculationFailed is returned when an employee's calculation could
	// not complete.
	ErrCalculationFailed = errors.New("calculation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EmployeeNotFoundError names the employee and date that failed to resolve.
type EmployeeNotFoundError struct {
	EmployeeID EmployeeID
	AsOf       TimePoint
	Reason     string // "no employee record" or "no position assignment"
}

func (e *EmployeeNotFoundError) Error() string {
	return fmt.Sprintf("employee %s not found as of %s: %s", e.EmployeeID, e.AsOf, e.Reason)
}

func (e *EmployeeNotFoundError) Unwrap() error {
	return ErrEmployeeNotFound
}

// OverlapError reports the record a rejected write collided with.
type OverlapError struct {
	Kind       string // e.g. "position_assignment", "region_base_band"
	Key        string
	ExistingID string
	Existing   Window
}

func (e *OverlapError) Error() string {
	to := "open"
	if e.Existing.EffectiveTo != nil {
		to = e.Existing.EffectiveTo.String()
	}
	return fmt.Sprintf("%s %s overlaps %s [%s, %s]", e.Kind, e.Key, e.ExistingID, e.Existing.EffectiveFrom, to)
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlappingWindow
}

// CalculationError carries the per-employee messages of a failed calculation.
type CalculationError struct {
	EmployeeID EmployeeID
	PeriodID   PeriodID
	Messages   []string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation failed for employee %s period %s: %v", e.EmployeeID, e.PeriodID, e.Messages)
}

func (e *CalculationError) Unwrap() error {
	return ErrCalculationFailed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPredicate)
}

// IsConflict returns true if the error is a uniqueness or overlap violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOverlappingWindow) ||
		errors.Is(err, ErrDuplicatePayroll)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrPayrollNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrComponentNotFound)
}
