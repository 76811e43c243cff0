/*
resolver.go - Base and eligibility resolution

PURPOSE:
  Given an employee, an insurance type and a date, the Resolver answers two
  questions: which contribution base applies and whether the employee's
  personnel category is eligible for the type. It only reads.

BASE ORDER:
  1. Explicit override supplied by the caller
  2. Monthly base snapshot field for the calendar month of the date
     (absent or non-positive values fall through)
  3. Base salary of the payroll config effective on the date
  4. DefaultBase, with a warning

ELIGIBILITY:
  Fail closed. No current personnel category, or no eligibility rule for
  (type, category) effective on the date, means not eligible.

ERRORS:
  A missing employee record or a missing position assignment on the date is
  an *core.EmployeeNotFoundError. Everything else missing is soft.
*/
package insurance

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// DefaultRegion is used for employees without a region.
const DefaultRegion = "default"

type Resolver struct {
	Store         core.ReferenceStore
	DefaultBase   decimal.Decimal
	DefaultRegion string
}

func NewResolver(store core.ReferenceStore) *Resolver {
	return &Resolver{Store: store, DefaultBase: core.DefaultBase, DefaultRegion: DefaultRegion}
}

// EmployeeInfo is an employee with the position current on a date.
type EmployeeInfo struct {
	Employee core.Employee
	Position core.PositionAssignment
	Region   string
}

// EligibilityContext returns the predicate context of the employee.
func (e EmployeeInfo) EligibilityContext() core.EligibilityContext {
	return core.EligibilityContext{
		EmployeeID:   e.Employee.ID,
		DepartmentID: e.Position.DepartmentID,
		PositionID:   e.Position.PositionID,
		CategoryID:   e.Position.CategoryID,
	}
}

// Snapshot returns the audit snapshot of the employee.
func (e EmployeeInfo) Snapshot() *EmployeeSnapshot {
	return &EmployeeSnapshot{
		EmployeeID:   e.Employee.ID,
		Code:         e.Employee.Code,
		Name:         e.Employee.Name,
		Region:       e.Region,
		DepartmentID: e.Position.DepartmentID,
		PositionID:   e.Position.PositionID,
		CategoryID:   e.Position.CategoryID,
		CategoryName: e.Position.CategoryName,
	}
}

// ResolveEmployee loads the employee and the position assignment current at.
func (r *Resolver) ResolveEmployee(ctx context.Context, id core.EmployeeID, at core.TimePoint) (*EmployeeInfo, error) {
	emp, err := r.Store.GetEmployee(ctx, id)
	if errors.Is(err, core.ErrEmployeeNotFound) {
		return nil, &core.EmployeeNotFoundError{EmployeeID: id, AsOf: at, Reason: "no employee record"}
	}
	if err != nil {
		return nil, fmt.Errorf("load employee %s: %w", id, err)
	}

	positions, err := r.Store.ListPositionAssignments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load positions of %s: %w", id, err)
	}
	position, ok := core.Current(positions, at)
	if !ok {
		return nil, &core.EmployeeNotFoundError{EmployeeID: id, AsOf: at, Reason: "no position assignment"}
	}

	region := emp.Region
	if region == "" {
		region = r.defaultRegion()
	}
	return &EmployeeInfo{Employee: *emp, Position: position, Region: region}, nil
}

// ResolveBase resolves the contribution base for a field. The returned
// warnings are meant to be appended to the caller's list.
func (r *Resolver) ResolveBase(ctx context.Context, id core.EmployeeID, field core.BaseField, at core.TimePoint, overrides map[core.BaseField]decimal.Decimal) (BaseResolution, []string, error) {
	if v, ok := overrides[field]; ok && v.IsPositive() {
		return BaseResolution{Field: field, Amount: v, Source: SourceOverride}, nil, nil
	}

	snapshot, err := r.Store.GetMonthlyBaseSnapshot(ctx, id, at.Year(), at.Month())
	if err != nil {
		return BaseResolution{}, nil, fmt.Errorf("load base snapshot of %s: %w", id, err)
	}
	if snapshot != nil {
		if v, ok := snapshot.Field(field); ok {
			return BaseResolution{Field: field, Amount: v, Source: SourceMonthlySnapshot}, nil, nil
		}
	}

	configs, err := r.Store.ListPayrollConfigs(ctx, id)
	if err != nil {
		return BaseResolution{}, nil, fmt.Errorf("load payroll configs of %s: %w", id, err)
	}
	if cfg, ok := core.Current(configs, at); ok && cfg.BaseSalary.IsPositive() {
		return BaseResolution{Field: field, Amount: cfg.BaseSalary, Source: SourcePayrollConfig}, nil, nil
	}

	def := r.defaultBase()
	warning := fmt.Sprintf("no %s base or payroll config for employee %s on %s; using default base %s",
		field, id, at, def.StringFixed(2))
	return BaseResolution{Field: field, Amount: def, Source: SourceDefault}, []string{warning}, nil
}

// Eligible looks up the eligibility rule for a category. An empty category
// or a missing rule is not eligible.
func (r *Resolver) Eligible(ctx context.Context, code, categoryID string, at core.TimePoint) (bool, error) {
	if categoryID == "" {
		return false, nil
	}
	rules, err := r.Store.ListEligibilityRules(ctx, code, categoryID)
	if err != nil {
		return false, fmt.Errorf("load eligibility rules for %s/%s: %w", code, categoryID, err)
	}
	rule, ok := core.Current(rules, at)
	if !ok {
		return false, nil
	}
	return rule.Eligible, nil
}

// CheckEligibility reports whether an employee is eligible for an insurance
// type on a date.
func (r *Resolver) CheckEligibility(ctx context.Context, id core.EmployeeID, code string, at core.TimePoint) (bool, error) {
	info, err := r.ResolveEmployee(ctx, id, at)
	if err != nil {
		return false, err
	}
	return r.Eligible(ctx, code, info.Position.CategoryID, at)
}

// Resolution is the combined base and eligibility answer for one type.
type Resolution struct {
	Base     BaseResolution
	Eligible bool
}

// Resolve answers both questions for a single insurance type.
func (r *Resolver) Resolve(ctx context.Context, id core.EmployeeID, code string, at core.TimePoint) (Resolution, []string, error) {
	info, err := r.ResolveEmployee(ctx, id, at)
	if err != nil {
		return Resolution{}, nil, err
	}
	field := LookupPolicy(code).DefaultBaseField
	base, warnings, err := r.ResolveBase(ctx, id, field, at, nil)
	if err != nil {
		return Resolution{}, nil, err
	}
	eligible, err := r.Eligible(ctx, code, info.Position.CategoryID, at)
	if err != nil {
		return Resolution{}, nil, err
	}
	return Resolution{Base: base, Eligible: eligible}, warnings, nil
}

func (r *Resolver) defaultBase() decimal.Decimal {
	if r.DefaultBase.IsPositive() {
		return r.DefaultBase
	}
	return core.DefaultBase
}

func (r *Resolver) defaultRegion() string {
	if r.DefaultRegion != "" {
		return r.DefaultRegion
	}
	return DefaultRegion
}
