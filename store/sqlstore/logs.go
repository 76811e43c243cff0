package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

type logRow struct {
	ID              string          `db:"id"`
	CalculationID   string          `db:"calculation_id"`
	EmployeeID      string          `db:"employee_id"`
	PeriodID        string          `db:"period_id"`
	CalculationDate string          `db:"calculation_date"`
	InsuranceCode   string          `db:"insurance_code"`
	ConfigID        sql.NullString  `db:"config_id"`
	BaseField       sql.NullString  `db:"base_field"`
	RawBase         decimal.Decimal `db:"raw_base"`
	BaseUsed        decimal.Decimal `db:"base_used"`
	EmployeeRate    decimal.Decimal `db:"employee_rate"`
	EmployerRate    decimal.Decimal `db:"employer_rate"`
	EmployeeAmount  decimal.Decimal `db:"employee_amount"`
	EmployerAmount  decimal.Decimal `db:"employer_amount"`
	Applicable      bool            `db:"is_applicable"`
	AdjustmentType  string          `db:"adjustment_type"`
	CreatedAt       string          `db:"created_at"`
}

func toLogRow(e core.CalculationLogEntry) logRow {
	return logRow{
		ID:              e.ID,
		CalculationID:   e.CalculationID,
		EmployeeID:      string(e.EmployeeID),
		PeriodID:        string(e.PeriodID),
		CalculationDate: e.CalculationDate.String(),
		InsuranceCode:   e.InsuranceCode,
		ConfigID:        nullString(string(e.ConfigID)),
		BaseField:       nullString(string(e.BaseField)),
		RawBase:         e.RawBase,
		BaseUsed:        e.BaseUsed,
		EmployeeRate:    e.EmployeeRate,
		EmployerRate:    e.EmployerRate,
		EmployeeAmount:  e.EmployeeAmount,
		EmployerAmount:  e.EmployerAmount,
		Applicable:      e.Applicable,
		AdjustmentType:  e.AdjustmentType,
		CreatedAt:       formatTime(e.CreatedAt),
	}
}

func (r logRow) toModel() (core.CalculationLogEntry, error) {
	date, err := core.ParseDate(r.CalculationDate)
	if err != nil {
		return core.CalculationLogEntry{}, err
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return core.CalculationLogEntry{}, err
	}
	return core.CalculationLogEntry{
		ID:              r.ID,
		CalculationID:   r.CalculationID,
		EmployeeID:      core.EmployeeID(r.EmployeeID),
		PeriodID:        core.PeriodID(r.PeriodID),
		CalculationDate: date,
		InsuranceCode:   r.InsuranceCode,
		ConfigID:        core.ConfigID(r.ConfigID.String),
		BaseField:       core.BaseField(r.BaseField.String),
		RawBase:         r.RawBase,
		BaseUsed:        r.BaseUsed,
		EmployeeRate:    r.EmployeeRate,
		EmployerRate:    r.EmployerRate,
		EmployeeAmount:  r.EmployeeAmount,
		EmployerAmount:  r.EmployerAmount,
		Applicable:      r.Applicable,
		AdjustmentType:  r.AdjustmentType,
		CreatedAt:       created,
	}, nil
}

const logColumns = `id, calculation_id, employee_id, period_id, calculation_date, insurance_code,
	config_id, base_field, raw_base, base_used, employee_rate, employer_rate,
	employee_amount, employer_amount, is_applicable, adjustment_type, created_at`

// AppendLogs writes all entries in one statement.
func (s *Store) AppendLogs(ctx context.Context, entries []core.CalculationLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]logRow, len(entries))
	for i, e := range entries {
		rows[i] = toLogRow(e)
	}
	_, err := s.namedExec(ctx, `
		INSERT INTO insurance_calculation_logs (`+logColumns+`)
		VALUES (:id, :calculation_id, :employee_id, :period_id, :calculation_date, :insurance_code,
			:config_id, :base_field, :raw_base, :base_used, :employee_rate, :employer_rate,
			:employee_amount, :employer_amount, :is_applicable, :adjustment_type, :created_at)`,
		rows)
	return err
}

func (s *Store) ListLogs(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) ([]core.CalculationLogEntry, error) {
	var rows []logRow
	err := s.selectAll(ctx, &rows, `
		SELECT `+logColumns+` FROM insurance_calculation_logs
		WHERE employee_id = ? AND period_id = ?
		ORDER BY created_at, insurance_code`, string(employeeID), string(periodID))
	if err != nil {
		return nil, err
	}
	return convert(rows, logRow.toModel)
}

func (s *Store) ListLogsByPeriod(ctx context.Context, periodID core.PeriodID) ([]core.CalculationLogEntry, error) {
	var rows []logRow
	err := s.selectAll(ctx, &rows, `
		SELECT `+logColumns+` FROM insurance_calculation_logs
		WHERE period_id = ?
		ORDER BY created_at, insurance_code`, string(periodID))
	if err != nil {
		return nil, err
	}
	return convert(rows, logRow.toModel)
}

func (s *Store) DeleteLogs(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM insurance_calculation_logs WHERE employee_id = ? AND period_id = ?`,
		string(employeeID), string(periodID))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
