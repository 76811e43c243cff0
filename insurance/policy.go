/*
policy.go - Per-insurance-type policy table

PURPOSE:
  Rates come from configuration, but some behaviour is fixed business policy
  keyed by insurance type code: which contribution base a type uses by
  default, whether the employee side is always zero, and how amounts are
  rounded. Those rules live here as data, one Policy per code, instead of
  as conditionals inside the calculator.

BUILT-IN POLICIES:
  pension, medical, unemployment, maternity, serious_illness
      social insurance base, standard rounding
  work_injury
      social insurance base, employer-only (employee amount is always 0)
  housing_fund
      housing fund base, rounding unconfirmed (see below)
  occupational_pension
      occupational pension base, standard rounding

HOUSING FUND ROUNDING:
  The housing fund is known to need a special rounding rule that has not
  been specified. It is registered as RoundingUnconfirmed: amounts use the
  standard 2-place rounding and every result that includes the type lists it
  in Metadata.UnconfirmedRounding so downstream consumers can tell.

REGISTRATION:
  Unknown codes resolve to a standard policy on the social insurance base.
  Call RegisterPolicy to add or replace an entry.
*/
package insurance

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// Insurance and fund type codes.
const (
	CodePension             = "pension"
	CodeMedical             = "medical"
	CodeUnemployment        = "unemployment"
	CodeWorkInjury          = "work_injury"
	CodeMaternity           = "maternity"
	CodeHousingFund         = "housing_fund"
	CodeOccupationalPension = "occupational_pension"
	CodeSeriousIllness      = "serious_illness"
)

// RoundingRule selects how contribution amounts are rounded.
type RoundingRule string

const (
	RoundingStandard    RoundingRule = "standard"    // 2 places, half away from zero
	RoundingUnconfirmed RoundingRule = "unconfirmed" // standard applied, flagged on the result
)

// Policy is the fixed behaviour of one insurance type.
type Policy struct {
	Code             string
	DefaultBaseField core.BaseField
	EmployerOnly     bool
	Rounding         RoundingRule
}

// Contribute computes the employee and employer amounts for a validated base.
func (p Policy) Contribute(base, employeeRate, employerRate decimal.Decimal) (employee, employer decimal.Decimal) {
	employee = core.RoundAmount(base.Mul(employeeRate))
	employer = core.RoundAmount(base.Mul(employerRate))
	if p.EmployerOnly {
		employee = decimal.Zero
	}
	return employee, employer
}

// BaseFieldFor returns the base field a config uses.
func (p Policy) BaseFieldFor(cfg core.InsuranceTypeConfig) core.BaseField {
	if cfg.BaseField.Valid() {
		return cfg.BaseField
	}
	return p.DefaultBaseField
}

// =============================================================================
// POLICY REGISTRY
// =============================================================================

var (
	policyRegistry = make(map[string]Policy)
	registryMu     sync.RWMutex
)

func init() {
	for _, p := range []Policy{
		{Code: CodePension, DefaultBaseField: core.BaseSocialInsurance, Rounding: RoundingStandard},
		{Code: CodeMedical, DefaultBaseField: core.BaseSocialInsurance, Rounding: RoundingStandard},
		{Code: CodeUnemployment, DefaultBaseField: core.BaseSocialInsurance, Rounding: RoundingStandard},
		{Code: CodeWorkInjury, DefaultBaseField: core.BaseSocialInsurance, EmployerOnly: true, Rounding: RoundingStandard},
		{Code: CodeMaternity, DefaultBaseField: core.BaseSocialInsurance, Rounding: RoundingStandard},
		{Code: CodeHousingFund, DefaultBaseField: core.BaseHousingFund, Rounding: RoundingUnconfirmed},
		{Code: CodeOccupationalPension, DefaultBaseField: core.BaseOccupationalPension, Rounding: RoundingStandard},
		{Code: CodeSeriousIllness, DefaultBaseField: core.BaseSocialInsurance, Rounding: RoundingStandard},
	} {
		RegisterPolicy(p)
	}
}

// RegisterPolicy adds or replaces the policy for p.Code.
func RegisterPolicy(p Policy) {
	registryMu.Lock()
	defer registryMu.Unlock()
	policyRegistry[p.Code] = p
}

// LookupPolicy returns the registered policy, or a standard policy on the
// social insurance base for unregistered codes.
func LookupPolicy(code string) Policy {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := policyRegistry[code]; ok {
		return p
	}
	return Policy{Code: code, DefaultBaseField: core.BaseSocialInsurance, Rounding: RoundingStandard}
}

// =============================================================================
// PAYROLL COMPONENT CODES
// =============================================================================

// EmployeeComponent is the deduction item code of an insurance type.
func EmployeeComponent(code string) core.ComponentCode {
	return core.ComponentCode(code + "_employee")
}

// EmployerComponent is the employer-contribution item code of an insurance type.
func EmployerComponent(code string) core.ComponentCode {
	return core.ComponentCode(code + "_employer")
}
