/*
store.go - Persistence interfaces for reference data, payrolls and audit logs

PURPOSE:
  Defines the interface between the calculation engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  ReferenceStore:      Read side of employees, positions, configs, bands, rules
  ReferenceWriter:     Seeding and maintenance of reference data
  PayrollStore:        Payrolls and their items
  CalculationLogStore: Append-only insurance calculation audit log
  Store / TxStore:     Everything above, optionally transactional

LOOKUP CONVENTIONS:
  Get* of a keyed record returns the matching sentinel not-found error
  (ErrEmployeeNotFound, ErrPeriodNotFound, ...). GetMonthlyBaseSnapshot
  returns (nil, nil) when no snapshot exists, since absence is routine.
  List* of effective-dated records returns every window; callers select the
  current one with Current().

WINDOW INTEGRITY:
  Save* of an effective-dated record fails with an *OverlapError when another
  record of the same key (employee; region+code; code+category) has an
  overlapping window. Saving a record with an existing ID replaces it.

TOTALS OWNERSHIP:
  SavePayrollTotals is reserved for payroll.Propagator. Every other path
  mutates items and lets the propagator derive totals.

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL via sqlx
  - core/store: In-memory for testing and the demo server

SEE ALSO:
  - ledger.go: Higher-level interface over CalculationLogStore
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

type ReferenceStore interface {
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	ListPositionAssignments(ctx context.Context, employeeID EmployeeID) ([]PositionAssignment, error)
	ListPayrollConfigs(ctx context.Context, employeeID EmployeeID) ([]PayrollConfig, error)
	GetMonthlyBaseSnapshot(ctx context.Context, employeeID EmployeeID, year int, month time.Month) (*MonthlyBaseSnapshot, error)

	// ListInsuranceTypeConfigs returns every config ordered by priority, then code.
	ListInsuranceTypeConfigs(ctx context.Context) ([]InsuranceTypeConfig, error)
	ListRegionBaseBands(ctx context.Context, region, insuranceCode string) ([]RegionBaseBand, error)
	ListEligibilityRules(ctx context.Context, insuranceCode, categoryID string) ([]EligibilityRule, error)

	GetPeriod(ctx context.Context, id PeriodID) (*PayPeriod, error)
	// ListPeriods returns periods overlapping [from, to], ordered by start date.
	ListPeriods(ctx context.Context, from, to TimePoint) ([]PayPeriod, error)

	GetComponent(ctx context.Context, code ComponentCode) (*SalaryComponent, error)
	ListComponents(ctx context.Context) ([]SalaryComponent, error)
}

type ReferenceWriter interface {
	SaveEmployee(ctx context.Context, e Employee) error
	SavePositionAssignment(ctx context.Context, a PositionAssignment) error
	SavePayrollConfig(ctx context.Context, c PayrollConfig) error
	SaveMonthlyBaseSnapshot(ctx context.Context, s MonthlyBaseSnapshot) error
	SaveInsuranceTypeConfig(ctx context.Context, c InsuranceTypeConfig) error
	SaveRegionBaseBand(ctx context.Context, b RegionBaseBand) error
	SaveEligibilityRule(ctx context.Context, r EligibilityRule) error
	SavePeriod(ctx context.Context, p PayPeriod) error
	SaveComponent(ctx context.Context, c SalaryComponent) error
}

// =============================================================================
// PAYROLL
// =============================================================================

type PayrollStore interface {
	GetPayroll(ctx context.Context, id PayrollID) (*Payroll, error)
	// FindPayroll returns ErrPayrollNotFound when the employee has no payroll for the period.
	FindPayroll(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (*Payroll, error)
	ListPayrolls(ctx context.Context, periodID PeriodID) ([]Payroll, error)
	// CreatePayroll fails with ErrDuplicatePayroll if (employee, period) exists.
	CreatePayroll(ctx context.Context, p Payroll) error
	SavePayrollTotals(ctx context.Context, id PayrollID, totals Totals) error

	ListItems(ctx context.Context, payrollID PayrollID) ([]PayrollItem, error)
	// UpsertItem keeps at most one item per (payroll, component).
	UpsertItem(ctx context.Context, item PayrollItem) error
	DeleteItem(ctx context.Context, payrollID PayrollID, component ComponentCode) error
	DeleteItemsBySource(ctx context.Context, payrollID PayrollID, source ItemSource) (int, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type CalculationLogStore interface {
	AppendLogs(ctx context.Context, entries []CalculationLogEntry) error
	// ListLogs returns entries ordered by creation, then insurance code.
	ListLogs(ctx context.Context, employeeID EmployeeID, periodID PeriodID) ([]CalculationLogEntry, error)
	ListLogsByPeriod(ctx context.Context, periodID PeriodID) ([]CalculationLogEntry, error)
	DeleteLogs(ctx context.Context, employeeID EmployeeID, periodID PeriodID) (int, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	ReferenceStore
	ReferenceWriter
	PayrollStore
	CalculationLogStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
