/*
dto.go - Request and response bodies of the HTTP API

NAMING CONVENTION:
  - *Request: Request body types from clients, validated with struct tags
  - *Response: Response wrappers that are not domain types

Domain results (insurance.Result, payroll.Detail, batch.Summary) are returned
as is; their JSON tags are the wire contract.

AMOUNTS AND DATES:
  Amounts decode from JSON numbers or strings into decimal.Decimal. Dates are
  YYYY-MM-DD strings decoded by core.TimePoint.
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/core"
	"github.com/warp/payroll-engine/insurance"
)

// PreviewRequest asks for an aggregate calculation without persisting it.
type PreviewRequest struct {
	EmployeeID      core.EmployeeID            `json:"employee_id" validate:"required"`
	PeriodID        core.PeriodID              `json:"period_id" validate:"required"`
	CalculationDate *core.TimePoint            `json:"calculation_date"` // Defaults to the period end
	BaseOverrides   map[string]decimal.Decimal `json:"base_overrides" validate:"omitempty,dive,keys,base_field,endkeys"`
	InsuranceCodes  []string                   `json:"insurance_codes" validate:"omitempty,dive,required"`
}

// ValidateBaseRequest clamps a raw base into its region band.
type ValidateBaseRequest struct {
	Region        string           `json:"region" validate:"required"`
	InsuranceCode string           `json:"insurance_code" validate:"required"`
	Base          *decimal.Decimal `json:"base" validate:"required"`
	Date          *core.TimePoint  `json:"date"` // Defaults to today
}

// BatchCalculateRequest runs the per-employee persisted calculation.
type BatchCalculateRequest struct {
	EmployeeIDs     []core.EmployeeID `json:"employee_ids" validate:"required,min=1,dive,required"`
	PeriodID        core.PeriodID     `json:"period_id" validate:"required"`
	CalculationDate *core.TimePoint   `json:"calculation_date"`
}

// BatchRecalculateRequest rebuilds every period overlapping [start, end].
// Without employee ids every employee with a payroll is rebuilt.
type BatchRecalculateRequest struct {
	StartDate   *core.TimePoint   `json:"start_date" validate:"required"`
	EndDate     *core.TimePoint   `json:"end_date" validate:"required"`
	EmployeeIDs []core.EmployeeID `json:"employee_ids" validate:"omitempty,dive,required"`
}

type CreatePayrollRequest struct {
	EmployeeID core.EmployeeID `json:"employee_id" validate:"required"`
	PeriodID   core.PeriodID   `json:"period_id" validate:"required"`
}

// UpsertItemRequest writes one manual or imported payroll line.
type UpsertItemRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
	Source core.ItemSource  `json:"source" validate:"omitempty,oneof=manual import"`
	Note   string           `json:"note" validate:"max=500"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BatchCalculateResponse struct {
	PeriodID  core.PeriodID `json:"period_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Rows      []batch.Row   `json:"rows"`
}

type EligibilityResponse struct {
	EmployeeID    core.EmployeeID `json:"employee_id"`
	InsuranceCode string          `json:"insurance_code"`
	Date          core.TimePoint  `json:"date"`
	Eligible      bool            `json:"eligible"`
}

// ResolutionResponse is the resolved base and eligibility for one type.
type ResolutionResponse struct {
	EmployeeID    core.EmployeeID          `json:"employee_id"`
	InsuranceCode string                   `json:"insurance_code"`
	Date          core.TimePoint           `json:"date"`
	Base          insurance.BaseResolution `json:"base"`
	Eligible      bool                     `json:"eligible"`
	Warnings      []string                 `json:"warnings"`
}

type CalculationLogsResponse struct {
	EmployeeID core.EmployeeID            `json:"employee_id"`
	PeriodID   core.PeriodID              `json:"period_id"`
	Entries    []core.CalculationLogEntry `json:"entries"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
