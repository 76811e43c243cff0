package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEE AND POSITION
// =============================================================================

// Employee is the identity record. Region selects the base bands that apply.
type Employee struct {
	ID       EmployeeID `json:"id"`
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	IDNumber string     `json:"id_number,omitempty"`
	Region   string     `json:"region,omitempty"`
	HireDate TimePoint  `json:"hire_date"`
	Active   bool       `json:"active"`
}

// PositionAssignment places an employee in a department, position and
// personnel category for a window. At most one is current per date.
type PositionAssignment struct {
	ID             string     `json:"id"`
	EmployeeID     EmployeeID `json:"employee_id"`
	DepartmentID   string     `json:"department_id"`
	DepartmentName string     `json:"department_name,omitempty"`
	PositionID     string     `json:"position_id"`
	PositionName   string     `json:"position_name,omitempty"`
	CategoryID     string     `json:"category_id,omitempty"` // Empty when no personnel category is set
	CategoryName   string     `json:"category_name,omitempty"`
	Window
}

func (a PositionAssignment) EffectiveWindow() Window { return a.Window }

// PayrollConfig carries the base salary for a window.
type PayrollConfig struct {
	ID         string          `json:"id"`
	EmployeeID EmployeeID      `json:"employee_id"`
	BaseSalary decimal.Decimal `json:"base_salary"`
	Window
}

func (c PayrollConfig) EffectiveWindow() Window { return c.Window }

// =============================================================================
// CONTRIBUTION BASES
// =============================================================================

// MonthlyBaseSnapshot holds the declared contribution bases for one calendar
// month. Nil fields are absent.
type MonthlyBaseSnapshot struct {
	EmployeeID              EmployeeID       `json:"employee_id"`
	Year                    int              `json:"year"`
	Month                   time.Month       `json:"month"`
	SocialInsuranceBase     *decimal.Decimal `json:"social_insurance_base,omitempty"`
	HousingFundBase         *decimal.Decimal `json:"housing_fund_base,omitempty"`
	OccupationalPensionBase *decimal.Decimal `json:"occupational_pension_base,omitempty"`
}

// Field returns the snapshot value for a base field. Absent and
// non-positive values report false.
func (s MonthlyBaseSnapshot) Field(f BaseField) (decimal.Decimal, bool) {
	var v *decimal.Decimal
	switch f {
	case BaseSocialInsurance:
		v = s.SocialInsuranceBase
	case BaseHousingFund:
		v = s.HousingFundBase
	case BaseOccupationalPension:
		v = s.OccupationalPensionBase
	}
	if v == nil || !v.IsPositive() {
		return decimal.Zero, false
	}
	return *v, true
}

// =============================================================================
// INSURANCE RULES
// =============================================================================

// InsuranceTypeConfig is one prioritized, time-bounded contribution rule.
// Rates are fractions: 0.08 means 8%.
type InsuranceTypeConfig struct {
	ID            ConfigID        `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Priority      int             `json:"priority"`
	EmployeeRate  decimal.Decimal `json:"employee_rate"`
	EmployerRate  decimal.Decimal `json:"employer_rate"`
	BaseField     BaseField       `json:"base_field,omitempty"` // Empty means the type's default base field
	Applicability Predicate       `json:"applicability"`
	Active        bool            `json:"active"`
	Window
}

func (c InsuranceTypeConfig) EffectiveWindow() Window { return c.Window }

// SameScope reports whether o versions c: same code and same applicability.
// Windows may overlap across scopes of one code, never within one.
func (c InsuranceTypeConfig) SameScope(o InsuranceTypeConfig) bool {
	return c.Code == o.Code && c.Applicability.Equal(o.Applicability)
}

// RegionBaseBand is the legal [MinBase, MaxBase] range of a contribution
// base for one region and insurance type.
type RegionBaseBand struct {
	ID            string          `json:"id"`
	Region        string          `json:"region"`
	InsuranceCode string          `json:"insurance_code"`
	MinBase       decimal.Decimal `json:"min_base"`
	MaxBase       decimal.Decimal `json:"max_base"`
	AverageSalary decimal.Decimal `json:"average_salary"`
	Window
}

func (b RegionBaseBand) EffectiveWindow() Window { return b.Window }

// EligibilityRule says whether a personnel category contributes to an
// insurance type. Categories without a rule are ineligible.
type EligibilityRule struct {
	ID            string `json:"id"`
	InsuranceCode string `json:"insurance_code"`
	CategoryID    string `json:"category_id"`
	Eligible      bool   `json:"eligible"`
	Window
}

func (r EligibilityRule) EffectiveWindow() Window { return r.Window }

// =============================================================================
// PAYROLL
// =============================================================================

// SalaryComponent is a payroll line definition.
type SalaryComponent struct {
	Code   ComponentCode `json:"code"`
	Name   string        `json:"name"`
	Type   ComponentType `json:"type"`
	Source ItemSource    `json:"source"`
}

// Totals are the derived payroll fields owned by the propagator.
type Totals struct {
	GrossPay        decimal.Decimal `json:"gross_pay"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	NetPay          decimal.Decimal `json:"net_pay"`
}

// Payroll is the per-employee, per-period container of payroll items.
type Payroll struct {
	ID         PayrollID  `json:"id"`
	EmployeeID EmployeeID `json:"employee_id"`
	PeriodID   PeriodID   `json:"period_id"`
	Totals
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PayrollItem is one (component, amount) line. Type is copied from the
// component so totals can be derived from items alone.
type PayrollItem struct {
	ID        string          `json:"id"`
	PayrollID PayrollID       `json:"payroll_id"`
	Component ComponentCode   `json:"component"`
	Type      ComponentType   `json:"type"`
	Source    ItemSource      `json:"source"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// =============================================================================
// AUDIT
// =============================================================================

// CalculationLogEntry is one component of one calculation, as written to
// the insurance calculation audit log.
type CalculationLogEntry struct {
	ID              string          `json:"id"`
	CalculationID   string          `json:"calculation_id"`
	EmployeeID      EmployeeID      `json:"employee_id"`
	PeriodID        PeriodID        `json:"period_id"`
	CalculationDate TimePoint       `json:"calculation_date"`
	InsuranceCode   string          `json:"insurance_code"`
	ConfigID        ConfigID        `json:"config_id"`
	BaseField       BaseField       `json:"base_field"`
	RawBase         decimal.Decimal `json:"raw_base"`
	BaseUsed        decimal.Decimal `json:"base_used"`
	EmployeeRate    decimal.Decimal `json:"employee_rate"`
	EmployerRate    decimal.Decimal `json:"employer_rate"`
	EmployeeAmount  decimal.Decimal `json:"employee_amount"`
	EmployerAmount  decimal.Decimal `json:"employer_amount"`
	Applicable      bool            `json:"is_applicable"`
	AdjustmentType  string          `json:"adjustment_type"`
	CreatedAt       time.Time       `json:"created_at"`
}
