/*
Package core provides the primitives shared by every stage of the payroll
calculation engine.

PURPOSE:
  This package holds the record types, money helpers, effective-dated lookups
  and persistence interfaces that the insurance, payroll and batch packages
  build on. It knows nothing about specific insurance types or rate schedules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal amounts with the two rounding policies
  - Identifiers: type-safe IDs for employees, periods, payrolls, configs
  - ComponentType / ItemSource: how a payroll line feeds the totals
  - BaseField: which contribution base a rate applies to

ROUNDING POLICY:
  Contribution bases are clamped to whole currency units (0 places).
  Contribution amounts are rounded to cents (2 places).
  Both use decimal.Round (half away from zero), matching NUMERIC ROUND.

SEE ALSO:
  - model.go: Reference and payroll records
  - window.go: Effective-dated "current record" selection
  - store.go: Persistence interfaces
*/
package core

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// DefaultBase is used when neither a monthly snapshot nor a payroll config
// supplies a contribution base.
var DefaultBase = decimal.NewFromInt(5000)

// NewMoney returns a whole-unit amount.
func NewMoney(units int64) decimal.Decimal { return decimal.NewFromInt(units) }

// MustParseDecimal parses s or panics. Use for literals in seeds and tests.
func MustParseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RoundAmount rounds a contribution amount to cents.
func RoundAmount(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// RoundBase rounds a clamped contribution base to whole currency units.
func RoundBase(d decimal.Decimal) decimal.Decimal { return d.Round(0) }

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PeriodID string
type PayrollID string
type ConfigID string
type ComponentCode string

// =============================================================================
// PAYROLL COMPONENT CLASSIFICATION
// =============================================================================

// ComponentType decides which payroll total an item contributes to.
type ComponentType string

const (
	ComponentEarning   ComponentType = "earning"   // Summed into gross pay
	ComponentDeduction ComponentType = "deduction" // Summed into total deductions
	ComponentEmployer  ComponentType = "employer"  // Employer-side contribution, excluded from both totals
	ComponentInfo      ComponentType = "info"      // Display only
)

// Valid reports whether t is one of the known component types.
func (t ComponentType) Valid() bool {
	switch t {
	case ComponentEarning, ComponentDeduction, ComponentEmployer, ComponentInfo:
		return true
	}
	return false
}

// ItemSource records which path produced a payroll item.
type ItemSource string

const (
	SourceManual    ItemSource = "manual"
	SourceImport    ItemSource = "import"
	SourceInsurance ItemSource = "insurance" // Written by the calculation engine, rebuilt on recalculation
)

// =============================================================================
// CONTRIBUTION BASES
// =============================================================================

// BaseField names a contribution base carried by a monthly snapshot.
type BaseField string

const (
	BaseSocialInsurance     BaseField = "social_insurance"
	BaseHousingFund         BaseField = "housing_fund"
	BaseOccupationalPension BaseField = "occupational_pension"
)

// Valid reports whether f is a known base field.
func (f BaseField) Valid() bool {
	switch f {
	case BaseSocialInsurance, BaseHousingFund, BaseOccupationalPension:
		return true
	}
	return false
}
