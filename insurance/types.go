package insurance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// ResultVersion tags every CalculationResult for audit replay.
const ResultVersion = "insurance-calc/v1"

// ErrNoActiveConfig is returned when a single-type calculation names a code
// with no active config on the calculation date.
var ErrNoActiveConfig = errors.New("no active insurance type config")

// =============================================================================
// BASE VALIDATION
// =============================================================================

// AdjustmentType records what the validator did to a raw base.
type AdjustmentType string

const (
	AdjustmentNone     AdjustmentType = "none"
	AdjustmentMinLimit AdjustmentType = "min_limit"
	AdjustmentMaxLimit AdjustmentType = "max_limit"
	AdjustmentNoConfig AdjustmentType = "no_config" // No band; base passed through unchanged
)

// ReasonNoConfig is the validation reason when no region band exists.
const ReasonNoConfig = "no config found"

// BaseValidation is the outcome of clamping a raw base into its region band.
// MinBase and MaxBase are nil when no band was found.
type BaseValidation struct {
	Valid          bool             `json:"valid"`
	Base           decimal.Decimal  `json:"base"`
	AdjustedBase   decimal.Decimal  `json:"adjusted_base"`
	MinBase        *decimal.Decimal `json:"min_base,omitempty"`
	MaxBase        *decimal.Decimal `json:"max_base,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	AdjustmentType AdjustmentType   `json:"adjustment_type"`
}

// =============================================================================
// BASE RESOLUTION
// =============================================================================

// BaseSource records where a contribution base came from.
type BaseSource string

const (
	SourceOverride        BaseSource = "override"
	SourceMonthlySnapshot BaseSource = "monthly_snapshot"
	SourcePayrollConfig   BaseSource = "payroll_config"
	SourceDefault         BaseSource = "default"
)

// BaseResolution is a resolved contribution base.
type BaseResolution struct {
	Field  core.BaseField  `json:"field"`
	Amount decimal.Decimal `json:"amount"`
	Source BaseSource      `json:"source"`
}

// =============================================================================
// CALCULATION COMPONENT
// =============================================================================

// Component is the per-insurance-type output of one calculation. Components
// of inapplicable types are present with zero amounts.
type Component struct {
	InsuranceCode  string          `json:"insurance_code"`
	Name           string          `json:"name"`
	ConfigID       core.ConfigID   `json:"config_id"`
	Priority       int             `json:"priority"`
	BaseField      core.BaseField  `json:"base_field"`
	BaseSource     BaseSource      `json:"base_source"`
	RawBase        decimal.Decimal `json:"raw_base"`
	Base           decimal.Decimal `json:"base"` // Base the rates were applied to
	Validation     *BaseValidation `json:"validation,omitempty"`
	EmployeeRate   decimal.Decimal `json:"employee_rate"`
	EmployerRate   decimal.Decimal `json:"employer_rate"`
	EmployeeAmount decimal.Decimal `json:"employee_amount"`
	EmployerAmount decimal.Decimal `json:"employer_amount"`
	Applicable     bool            `json:"is_applicable"`
	Reason         string          `json:"reason,omitempty"`
}

// AdjustmentType returns the clamp outcome, or none when the base was not validated.
func (c Component) AdjustmentType() AdjustmentType {
	if c.Validation == nil {
		return AdjustmentNone
	}
	return c.Validation.AdjustmentType
}

// =============================================================================
// CALCULATION RESULT
// =============================================================================

// StepStage names the stage a calculation step belongs to.
type StepStage string

const (
	StageResolveEmployee StepStage = "resolve_employee"
	StageResolveBases    StepStage = "resolve_bases"
	StageEvaluate        StepStage = "evaluate"
	StageFailed          StepStage = "failed"
	StageFinalize        StepStage = "finalize"
)

// Step is one entry of the audit trail of a calculation.
type Step struct {
	Seq           int        `json:"seq"`
	Stage         StepStage  `json:"stage"`
	InsuranceCode string     `json:"insurance_code,omitempty"`
	Message       string     `json:"message"`
	Component     *Component `json:"component,omitempty"`
	At            time.Time  `json:"at"`
}

// EmployeeSnapshot is the employee as resolved on the calculation date.
type EmployeeSnapshot struct {
	EmployeeID   core.EmployeeID `json:"employee_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Region       string          `json:"region"`
	DepartmentID string          `json:"department_id"`
	PositionID   string          `json:"position_id"`
	CategoryID   string          `json:"category_id"`
	CategoryName string          `json:"category_name,omitempty"`
}

// Metadata carries the audit context of a result.
type Metadata struct {
	Version             string                            `json:"version"`
	CalculatedAt        time.Time                         `json:"calculated_at"`
	Employee            *EmployeeSnapshot                 `json:"employee,omitempty"`
	Bases               map[core.BaseField]BaseResolution `json:"bases,omitempty"`
	InsuranceFilter     []string                          `json:"insurance_filter,omitempty"`
	UnconfirmedRounding []string                          `json:"unconfirmed_rounding,omitempty"`
}

// Result is the aggregate of all components for one employee, period and
// date. A result with Errors is not a valid payroll contribution.
type Result struct {
	CalculationID   string          `json:"calculation_id"`
	EmployeeID      core.EmployeeID `json:"employee_id"`
	PeriodID        core.PeriodID   `json:"period_id"`
	CalculationDate core.TimePoint  `json:"calculation_date"`

	Components          []Component     `json:"components"`
	TotalEmployeeAmount decimal.Decimal `json:"total_employee_amount"`
	TotalEmployerAmount decimal.Decimal `json:"total_employer_amount"`
	AppliedRules        []string        `json:"applied_rules"`
	UnappliedRules      []string        `json:"unapplied_rules"`
	Steps               []Step          `json:"calculation_steps"`
	Warnings            []string        `json:"warnings"`
	Errors              []string        `json:"errors"`
	Metadata            Metadata        `json:"metadata"`
}

// Valid reports whether the result can be used as a payroll contribution.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// LogEntries returns one audit log entry per component, applicable or not.
func (r Result) LogEntries() []core.CalculationLogEntry {
	entries := make([]core.CalculationLogEntry, 0, len(r.Components))
	for _, c := range r.Components {
		entries = append(entries, core.CalculationLogEntry{
			CalculationID:   r.CalculationID,
			EmployeeID:      r.EmployeeID,
			PeriodID:        r.PeriodID,
			CalculationDate: r.CalculationDate,
			InsuranceCode:   c.InsuranceCode,
			ConfigID:        c.ConfigID,
			BaseField:       c.BaseField,
			RawBase:         c.RawBase,
			BaseUsed:        c.Base,
			EmployeeRate:    c.EmployeeRate,
			EmployerRate:    c.EmployerRate,
			EmployeeAmount:  c.EmployeeAmount,
			EmployerAmount:  c.EmployerAmount,
			Applicable:      c.Applicable,
			AdjustmentType:  string(c.AdjustmentType()),
		})
	}
	return entries
}

// PayrollItems returns the insurance-sourced payroll items of the result:
// an employee deduction and an employer contribution per applicable type.
func (r Result) PayrollItems(payrollID core.PayrollID) []core.PayrollItem {
	var items []core.PayrollItem
	for _, c := range r.Components {
		if !c.Applicable {
			continue
		}
		items = append(items,
			core.PayrollItem{
				PayrollID: payrollID,
				Component: EmployeeComponent(c.InsuranceCode),
				Type:      core.ComponentDeduction,
				Source:    core.SourceInsurance,
				Amount:    c.EmployeeAmount,
				Note:      r.CalculationID,
			},
			core.PayrollItem{
				PayrollID: payrollID,
				Component: EmployerComponent(c.InsuranceCode),
				Type:      core.ComponentEmployer,
				Source:    core.SourceInsurance,
				Amount:    c.EmployerAmount,
				Note:      r.CalculationID,
			},
		)
	}
	return items
}

// Request identifies one aggregate calculation. BaseOverrides replace the
// resolved base for a field; InsuranceCodes restricts the types evaluated.
type Request struct {
	EmployeeID      core.EmployeeID
	PeriodID        core.PeriodID
	CalculationDate core.TimePoint
	BaseOverrides   map[core.BaseField]decimal.Decimal
	InsuranceCodes  []string
}
