package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

type payrollRow struct {
	ID              string          `db:"id"`
	EmployeeID      string          `db:"employee_id"`
	PeriodID        string          `db:"period_id"`
	GrossPay        decimal.Decimal `db:"gross_pay"`
	TotalDeductions decimal.Decimal `db:"total_deductions"`
	NetPay          decimal.Decimal `db:"net_pay"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

func (r payrollRow) toModel() (core.Payroll, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return core.Payroll{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return core.Payroll{}, err
	}
	return core.Payroll{
		ID:         core.PayrollID(r.ID),
		EmployeeID: core.EmployeeID(r.EmployeeID),
		PeriodID:   core.PeriodID(r.PeriodID),
		Totals: core.Totals{
			GrossPay:        r.GrossPay,
			TotalDeductions: r.TotalDeductions,
			NetPay:          r.NetPay,
		},
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

type itemRow struct {
	ID        string          `db:"id"`
	PayrollID string          `db:"payroll_id"`
	Component string          `db:"component"`
	Type      string          `db:"type"`
	Source    string          `db:"source"`
	Amount    decimal.Decimal `db:"amount"`
	Note      sql.NullString  `db:"note"`
	UpdatedAt string          `db:"updated_at"`
}

func (r itemRow) toModel() (core.PayrollItem, error) {
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return core.PayrollItem{}, err
	}
	return core.PayrollItem{
		ID:        r.ID,
		PayrollID: core.PayrollID(r.PayrollID),
		Component: core.ComponentCode(r.Component),
		Type:      core.ComponentType(r.Type),
		Source:    core.ItemSource(r.Source),
		Amount:    r.Amount,
		Note:      r.Note.String,
		UpdatedAt: updated,
	}, nil
}

// =============================================================================
// PAYROLLS
// =============================================================================

const payrollColumns = `id, employee_id, period_id, gross_pay, total_deductions, net_pay, created_at, updated_at`

func (s *Store) getPayroll(ctx context.Context, query string, args ...any) (*core.Payroll, error) {
	var row payrollRow
	err := s.get(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrPayrollNotFound
	}
	if err != nil {
		return nil, err
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPayroll(ctx context.Context, id core.PayrollID) (*core.Payroll, error) {
	return s.getPayroll(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE id = ?`, string(id))
}

func (s *Store) FindPayroll(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (*core.Payroll, error) {
	return s.getPayroll(ctx, `SELECT `+payrollColumns+` FROM payrolls WHERE employee_id = ? AND period_id = ?`,
		string(employeeID), string(periodID))
}

func (s *Store) ListPayrolls(ctx context.Context, periodID core.PeriodID) ([]core.Payroll, error) {
	var rows []payrollRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+payrollColumns+` FROM payrolls WHERE period_id = ? ORDER BY employee_id`, string(periodID))
	if err != nil {
		return nil, err
	}
	return convert(rows, payrollRow.toModel)
}

func (s *Store) CreatePayroll(ctx context.Context, p core.Payroll) error {
	_, err := s.namedExec(ctx, `
		INSERT INTO payrolls (`+payrollColumns+`)
		VALUES (:id, :employee_id, :period_id, :gross_pay, :total_deductions, :net_pay, :created_at, :updated_at)`,
		payrollRow{
			ID:              string(p.ID),
			EmployeeID:      string(p.EmployeeID),
			PeriodID:        string(p.PeriodID),
			GrossPay:        p.GrossPay,
			TotalDeductions: p.TotalDeductions,
			NetPay:          p.NetPay,
			CreatedAt:       formatTime(p.CreatedAt),
			UpdatedAt:       formatTime(p.UpdatedAt),
		})
	if err != nil && isUniqueConstraintError(err) {
		return core.ErrDuplicatePayroll
	}
	return err
}

func (s *Store) SavePayrollTotals(ctx context.Context, id core.PayrollID, totals core.Totals) error {
	res, err := s.exec(ctx, `
		UPDATE payrolls SET gross_pay = ?, total_deductions = ?, net_pay = ?, updated_at = ?
		WHERE id = ?`,
		totals.GrossPay, totals.TotalDeductions, totals.NetPay, formatTime(nowUTC()), string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrPayrollNotFound
	}
	return nil
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, payroll_id, component, type, source, amount, note, updated_at`

func (s *Store) ListItems(ctx context.Context, id core.PayrollID) ([]core.PayrollItem, error) {
	var rows []itemRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+itemColumns+` FROM payroll_items WHERE payroll_id = ? ORDER BY component`, string(id))
	if err != nil {
		return nil, err
	}
	return convert(rows, itemRow.toModel)
}

// UpsertItem inserts or replaces the item for (payroll, component). The
// existing row keeps its id.
func (s *Store) UpsertItem(ctx context.Context, item core.PayrollItem) error {
	return s.atomically(ctx, func(tx *Store) error {
		var exists int
		err := tx.get(ctx, &exists, `SELECT COUNT(*) FROM payrolls WHERE id = ?`, string(item.PayrollID))
		if err != nil {
			return err
		}
		if exists == 0 {
			return core.ErrPayrollNotFound
		}
		_, err = tx.namedExec(ctx, `
			INSERT INTO payroll_items (`+itemColumns+`)
			VALUES (:id, :payroll_id, :component, :type, :source, :amount, :note, :updated_at)
			ON CONFLICT (payroll_id, component) DO UPDATE SET
				type = excluded.type, source = excluded.source, amount = excluded.amount,
				note = excluded.note, updated_at = excluded.updated_at`,
			itemRow{
				ID:        item.ID,
				PayrollID: string(item.PayrollID),
				Component: string(item.Component),
				Type:      string(item.Type),
				Source:    string(item.Source),
				Amount:    item.Amount,
				Note:      nullString(item.Note),
				UpdatedAt: formatTime(item.UpdatedAt),
			})
		return err
	})
}

func (s *Store) DeleteItem(ctx context.Context, id core.PayrollID, component core.ComponentCode) error {
	res, err := s.exec(ctx, `DELETE FROM payroll_items WHERE payroll_id = ? AND component = ?`,
		string(id), string(component))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrItemNotFound
	}
	return nil
}

func (s *Store) DeleteItemsBySource(ctx context.Context, id core.PayrollID, source core.ItemSource) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM payroll_items WHERE payroll_id = ? AND source = ?`,
		string(id), string(source))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
