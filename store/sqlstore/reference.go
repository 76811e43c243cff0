package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// ROW TYPES
// =============================================================================

type employeeRow struct {
	ID       string         `db:"id"`
	Code     string         `db:"code"`
	Name     string         `db:"name"`
	IDNumber sql.NullString `db:"id_number"`
	Region   sql.NullString `db:"region"`
	HireDate string         `db:"hire_date"`
	Active   bool           `db:"active"`
}

func (r employeeRow) toModel() (core.Employee, error) {
	hired, err := core.ParseDate(r.HireDate)
	if err != nil {
		return core.Employee{}, err
	}
	return core.Employee{
		ID:       core.EmployeeID(r.ID),
		Code:     r.Code,
		Name:     r.Name,
		IDNumber: r.IDNumber.String,
		Region:   r.Region.String,
		HireDate: hired,
		Active:   r.Active,
	}, nil
}

type positionRow struct {
	ID             string         `db:"id"`
	EmployeeID     string         `db:"employee_id"`
	DepartmentID   string         `db:"department_id"`
	DepartmentName sql.NullString `db:"department_name"`
	PositionID     string         `db:"position_id"`
	PositionName   sql.NullString `db:"position_name"`
	CategoryID     sql.NullString `db:"category_id"`
	CategoryName   sql.NullString `db:"category_name"`
	windowCols
}

func (r positionRow) toModel() (core.PositionAssignment, error) {
	w, err := r.window()
	if err != nil {
		return core.PositionAssignment{}, err
	}
	return core.PositionAssignment{
		ID:             r.ID,
		EmployeeID:     core.EmployeeID(r.EmployeeID),
		DepartmentID:   r.DepartmentID,
		DepartmentName: r.DepartmentName.String,
		PositionID:     r.PositionID,
		PositionName:   r.PositionName.String,
		CategoryID:     r.CategoryID.String,
		CategoryName:   r.CategoryName.String,
		Window:         w,
	}, nil
}

type payrollConfigRow struct {
	ID         string          `db:"id"`
	EmployeeID string          `db:"employee_id"`
	BaseSalary decimal.Decimal `db:"base_salary"`
	windowCols
}

func (r payrollConfigRow) toModel() (core.PayrollConfig, error) {
	w, err := r.window()
	if err != nil {
		return core.PayrollConfig{}, err
	}
	return core.PayrollConfig{ID: r.ID, EmployeeID: core.EmployeeID(r.EmployeeID), BaseSalary: r.BaseSalary, Window: w}, nil
}

type snapshotRow struct {
	EmployeeID              string              `db:"employee_id"`
	Year                    int                 `db:"year"`
	Month                   int                 `db:"month"`
	SocialInsuranceBase     decimal.NullDecimal `db:"social_insurance_base"`
	HousingFundBase         decimal.NullDecimal `db:"housing_fund_base"`
	OccupationalPensionBase decimal.NullDecimal `db:"occupational_pension_base"`
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

type insuranceConfigRow struct {
	ID            string          `db:"id"`
	Code          string          `db:"code"`
	Name          string          `db:"name"`
	Priority      int             `db:"priority"`
	EmployeeRate  decimal.Decimal `db:"employee_rate"`
	EmployerRate  decimal.Decimal `db:"employer_rate"`
	BaseField     sql.NullString  `db:"base_field"`
	Applicability string          `db:"applicability"`
	Active        bool            `db:"active"`
	windowCols
}

func (r insuranceConfigRow) toModel() (core.InsuranceTypeConfig, error) {
	w, err := r.window()
	if err != nil {
		return core.InsuranceTypeConfig{}, err
	}
	pred, err := core.ParsePredicate([]byte(r.Applicability))
	if err != nil {
		return core.InsuranceTypeConfig{}, fmt.Errorf("config %s: %w", r.ID, err)
	}
	return core.InsuranceTypeConfig{
		ID:            core.ConfigID(r.ID),
		Code:          r.Code,
		Name:          r.Name,
		Priority:      r.Priority,
		EmployeeRate:  r.EmployeeRate,
		EmployerRate:  r.EmployerRate,
		BaseField:     core.BaseField(r.BaseField.String),
		Applicability: pred,
		Active:        r.Active,
		Window:        w,
	}, nil
}

type bandRow struct {
	ID            string          `db:"id"`
	Region        string          `db:"region"`
	InsuranceCode string          `db:"insurance_code"`
	MinBase       decimal.Decimal `db:"min_base"`
	MaxBase       decimal.Decimal `db:"max_base"`
	AverageSalary decimal.Decimal `db:"average_salary"`
	windowCols
}

func (r bandRow) toModel() (core.RegionBaseBand, error) {
	w, err := r.window()
	if err != nil {
		return core.RegionBaseBand{}, err
	}
	return core.RegionBaseBand{
		ID:            r.ID,
		Region:        r.Region,
		InsuranceCode: r.InsuranceCode,
		MinBase:       r.MinBase,
		MaxBase:       r.MaxBase,
		AverageSalary: r.AverageSalary,
		Window:        w,
	}, nil
}

type ruleRow struct {
	ID            string `db:"id"`
	InsuranceCode string `db:"insurance_code"`
	CategoryID    string `db:"category_id"`
	Eligible      bool   `db:"eligible"`
	windowCols
}

func (r ruleRow) toModel() (core.EligibilityRule, error) {
	w, err := r.window()
	if err != nil {
		return core.EligibilityRule{}, err
	}
	return core.EligibilityRule{ID: r.ID, InsuranceCode: r.InsuranceCode, CategoryID: r.CategoryID, Eligible: r.Eligible, Window: w}, nil
}

type periodRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`
	PayDate   string `db:"pay_date"`
}

func (r periodRow) toModel() (core.PayPeriod, error) {
	start, err := core.ParseDate(r.StartDate)
	if err != nil {
		return core.PayPeriod{}, err
	}
	end, err := core.ParseDate(r.EndDate)
	if err != nil {
		return core.PayPeriod{}, err
	}
	pay, err := core.ParseDate(r.PayDate)
	if err != nil {
		return core.PayPeriod{}, err
	}
	return core.PayPeriod{ID: core.PeriodID(r.ID), Name: r.Name, Start: start, End: end, PayDate: pay}, nil
}

type componentRow struct {
	Code   string `db:"code"`
	Name   string `db:"name"`
	Type   string `db:"type"`
	Source string `db:"source"`
}

// convert maps rows to models, stopping at the first malformed row.
func convert[R any, M any](rows []R, fn func(R) (M, error)) ([]M, error) {
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		m, err := fn(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// =============================================================================
// EMPLOYEES AND POSITIONS
// =============================================================================

const employeeColumns = `id, code, name, id_number, region, hire_date, active`

func (s *Store) GetEmployee(ctx context.Context, id core.EmployeeID) (*core.Employee, error) {
	var row employeeRow
	err := s.get(ctx, &row, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	e, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	var rows []employeeRow
	if err := s.selectAll(ctx, &rows, `SELECT `+employeeColumns+` FROM employees ORDER BY code, id`); err != nil {
		return nil, err
	}
	return convert(rows, employeeRow.toModel)
}

func (s *Store) SaveEmployee(ctx context.Context, e core.Employee) error {
	_, err := s.namedExec(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (:id, :code, :name, :id_number, :region, :hire_date, :active)
		ON CONFLICT (id) DO UPDATE SET
			code = excluded.code, name = excluded.name, id_number = excluded.id_number,
			region = excluded.region, hire_date = excluded.hire_date, active = excluded.active`,
		employeeRow{
			ID:       string(e.ID),
			Code:     e.Code,
			Name:     e.Name,
			IDNumber: nullString(e.IDNumber),
			Region:   nullString(e.Region),
			HireDate: e.HireDate.String(),
			Active:   e.Active,
		})
	return err
}

const positionColumns = `id, employee_id, department_id, department_name, position_id, position_name,
	category_id, category_name, effective_from, effective_to`

func (s *Store) ListPositionAssignments(ctx context.Context, id core.EmployeeID) ([]core.PositionAssignment, error) {
	var rows []positionRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+positionColumns+` FROM position_assignments WHERE employee_id = ? ORDER BY effective_from`, string(id))
	if err != nil {
		return nil, err
	}
	return convert(rows, positionRow.toModel)
}

func (s *Store) SavePositionAssignment(ctx context.Context, a core.PositionAssignment) error {
	return s.atomically(ctx, func(tx *Store) error {
		existing, err := tx.ListPositionAssignments(ctx, a.EmployeeID)
		if err != nil {
			return err
		}
		if err := rejectOverlap(existing, a.Window, "position_assignment", string(a.EmployeeID),
			func(x core.PositionAssignment) string { return x.ID }, a.ID); err != nil {
			return err
		}
		_, err = tx.namedExec(ctx, `
			INSERT INTO position_assignments (`+positionColumns+`)
			VALUES (:id, :employee_id, :department_id, :department_name, :position_id, :position_name,
				:category_id, :category_name, :effective_from, :effective_to)
			ON CONFLICT (id) DO UPDATE SET
				employee_id = excluded.employee_id,
				department_id = excluded.department_id, department_name = excluded.department_name,
				position_id = excluded.position_id, position_name = excluded.position_name,
				category_id = excluded.category_id, category_name = excluded.category_name,
				effective_from = excluded.effective_from, effective_to = excluded.effective_to`,
			positionRow{
				ID:             a.ID,
				EmployeeID:     string(a.EmployeeID),
				DepartmentID:   a.DepartmentID,
				DepartmentName: nullString(a.DepartmentName),
				PositionID:     a.PositionID,
				PositionName:   nullString(a.PositionName),
				CategoryID:     nullString(a.CategoryID),
				CategoryName:   nullString(a.CategoryName),
				windowCols:     toWindowCols(a.Window),
			})
		return err
	})
}

// =============================================================================
// SALARY AND BASES
// =============================================================================

func (s *Store) ListPayrollConfigs(ctx context.Context, id core.EmployeeID) ([]core.PayrollConfig, error) {
	var rows []payrollConfigRow
	err := s.selectAll(ctx, &rows, `
		SELECT id, employee_id, base_salary, effective_from, effective_to
		FROM payroll_configs WHERE employee_id = ? ORDER BY effective_from`, string(id))
	if err != nil {
		return nil, err
	}
	return convert(rows, payrollConfigRow.toModel)
}

func (s *Store) SavePayrollConfig(ctx context.Context, c core.PayrollConfig) error {
	return s.atomically(ctx, func(tx *Store) error {
		existing, err := tx.ListPayrollConfigs(ctx, c.EmployeeID)
		if err != nil {
			return err
		}
		if err := rejectOverlap(existing, c.Window, "payroll_config", string(c.EmployeeID),
			func(x core.PayrollConfig) string { return x.ID }, c.ID); err != nil {
			return err
		}
		_, err = tx.namedExec(ctx, `
			INSERT INTO payroll_configs (id, employee_id, base_salary, effective_from, effective_to)
			VALUES (:id, :employee_id, :base_salary, :effective_from, :effective_to)
			ON CONFLICT (id) DO UPDATE SET
				employee_id = excluded.employee_id, base_salary = excluded.base_salary,
				effective_from = excluded.effective_from, effective_to = excluded.effective_to`,
			payrollConfigRow{ID: c.ID, EmployeeID: string(c.EmployeeID), BaseSalary: c.BaseSalary, windowCols: toWindowCols(c.Window)})
		return err
	})
}

func (s *Store) GetMonthlyBaseSnapshot(ctx context.Context, id core.EmployeeID, year int, month time.Month) (*core.MonthlyBaseSnapshot, error) {
	var row snapshotRow
	err := s.get(ctx, &row, `
		SELECT employee_id, year, month, social_insurance_base, housing_fund_base, occupational_pension_base
		FROM monthly_base_snapshots WHERE employee_id = ? AND year = ? AND month = ?`,
		string(id), year, int(month))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &core.MonthlyBaseSnapshot{
		EmployeeID:              core.EmployeeID(row.EmployeeID),
		Year:                    row.Year,
		Month:                   time.Month(row.Month),
		SocialInsuranceBase:     fromNullDecimal(row.SocialInsuranceBase),
		HousingFundBase:         fromNullDecimal(row.HousingFundBase),
		OccupationalPensionBase: fromNullDecimal(row.OccupationalPensionBase),
	}, nil
}

func (s *Store) SaveMonthlyBaseSnapshot(ctx context.Context, snap core.MonthlyBaseSnapshot) error {
	_, err := s.namedExec(ctx, `
		INSERT INTO monthly_base_snapshots
			(employee_id, year, month, social_insurance_base, housing_fund_base, occupational_pension_base)
		VALUES (:employee_id, :year, :month, :social_insurance_base, :housing_fund_base, :occupational_pension_base)
		ON CONFLICT (employee_id, year, month) DO UPDATE SET
			social_insurance_base = excluded.social_insurance_base,
			housing_fund_base = excluded.housing_fund_base,
			occupational_pension_base = excluded.occupational_pension_base`,
		snapshotRow{
			EmployeeID:              string(snap.EmployeeID),
			Year:                    snap.Year,
			Month:                   int(snap.Month),
			SocialInsuranceBase:     toNullDecimal(snap.SocialInsuranceBase),
			HousingFundBase:         toNullDecimal(snap.HousingFundBase),
			OccupationalPensionBase: toNullDecimal(snap.OccupationalPensionBase),
		})
	return err
}

// =============================================================================
// INSURANCE RULES
// =============================================================================

const insuranceConfigColumns = `id, code, name, priority, employee_rate, employer_rate, base_field,
	applicability, active, effective_from, effective_to`

func (s *Store) ListInsuranceTypeConfigs(ctx context.Context) ([]core.InsuranceTypeConfig, error) {
	var rows []insuranceConfigRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+insuranceConfigColumns+` FROM insurance_type_configs ORDER BY priority, code, effective_from`)
	if err != nil {
		return nil, err
	}
	return convert(rows, insuranceConfigRow.toModel)
}

func (s *Store) listInsuranceTypeConfigsByCode(ctx context.Context, code string) ([]core.InsuranceTypeConfig, error) {
	var rows []insuranceConfigRow
	err := s.selectAll(ctx, &rows,
		`SELECT `+insuranceConfigColumns+` FROM insurance_type_configs WHERE code = ? ORDER BY effective_from`, code)
	if err != nil {
		return nil, err
	}
	return convert(rows, insuranceConfigRow.toModel)
}

func (s *Store) SaveInsuranceTypeConfig(ctx context.Context, c core.InsuranceTypeConfig) error {
	pred, err := json.Marshal(c.Applicability)
	if err != nil {
		return fmt.Errorf("encode applicability: %w", err)
	}
	return s.atomically(ctx, func(tx *Store) error {
		existing, err := tx.listInsuranceTypeConfigsByCode(ctx, c.Code)
		if err != nil {
			return err
		}
		scope := existing[:0]
		for _, x := range existing {
			if x.SameScope(c) {
				scope = append(scope, x)
			}
		}
		if err := rejectOverlap(scope, c.Window, "insurance_type_config", c.Code,
			func(x core.InsuranceTypeConfig) string { return string(x.ID) }, string(c.ID)); err != nil {
			return err
		}
		_, err = tx.namedExec(ctx, `
			INSERT INTO insurance_type_configs (`+insuranceConfigColumns+`)
			VALUES (:id, :code, :name, :priority, :employee_rate, :employer_rate, :base_field,
				:applicability, :active, :effective_from, :effective_to)
			ON CONFLICT (id) DO UPDATE SET
				code = excluded.code, name = excluded.name, priority = excluded.priority,
				employee_rate = excluded.employee_rate, employer_rate = excluded.employer_rate,
				base_field = excluded.base_field, applicability = excluded.applicability,
				active = excluded.active,
				effective_from = excluded.effective_from, effective_to = excluded.effective_to`,
			insuranceConfigRow{
				ID:            string(c.ID),
				Code:          c.Code,
				Name:          c.Name,
				Priority:      c.Priority,
				EmployeeRate:  c.EmployeeRate,
				EmployerRate:  c.EmployerRate,
				BaseField:     nullString(string(c.BaseField)),
				Applicability: string(pred),
				Active:        c.Active,
				windowCols:    toWindowCols(c.Window),
			})
		return err
	})
}

func (s *Store) ListRegionBaseBands(ctx context.Context, region, code string) ([]core.RegionBaseBand, error) {
	var rows []bandRow
	err := s.selectAll(ctx, &rows, `
		SELECT id, region, insurance_code, min_base, max_base, average_salary, effective_from, effective_to
		FROM region_base_bands WHERE region = ? AND insurance_code = ? ORDER BY effective_from`, region, code)
	if err != nil {
		return nil, err
	}
	return convert(rows, bandRow.toModel)
}

func (s *Store) SaveRegionBaseBand(ctx context.Context, b core.RegionBaseBand) error {
	return s.atomically(ctx, func(tx *Store) error {
		existing, err := tx.ListRegionBaseBands(ctx, b.Region, b.InsuranceCode)
		if err != nil {
			return err
		}
		if err := rejectOverlap(existing, b.Window, "region_base_band", b.Region+"/"+b.InsuranceCode,
			func(x core.RegionBaseBand) string { return x.ID }, b.ID); err != nil {
			return err
		}
		_, err = tx.namedExec(ctx, `
			INSERT INTO region_base_bands
				(id, region, insurance_code, min_base, max_base, average_salary, effective_from, effective_to)
			VALUES (:id, :region, :insurance_code, :min_base, :max_base, :average_salary, :effective_from, :effective_to)
			ON CONFLICT (id) DO UPDATE SET
				region = excluded.region, insurance_code = excluded.insurance_code,
				min_base = excluded.min_base, max_base = excluded.max_base,
				average_salary = excluded.average_salary,
				effective_from = excluded.effective_from, effective_to = excluded.effective_to`,
			bandRow{
				ID:            b.ID,
				Region:        b.Region,
				InsuranceCode: b.InsuranceCode,
				MinBase:       b.MinBase,
				MaxBase:       b.MaxBase,
				AverageSalary: b.AverageSalary,
				windowCols:    toWindowCols(b.Window),
			})
		return err
	})
}

func (s *Store) ListEligibilityRules(ctx context.Context, code, categoryID string) ([]core.EligibilityRule, error) {
	var rows []ruleRow
	err := s.selectAll(ctx, &rows, `
		SELECT id, insurance_code, category_id, eligible, effective_from, effective_to
		FROM eligibility_rules WHERE insurance_code = ? AND category_id = ? ORDER BY effective_from`, code, categoryID)
	if err != nil {
		return nil, err
	}
	return convert(rows, ruleRow.toModel)
}

func (s *Store) SaveEligibilityRule(ctx context.Context, r core.EligibilityRule) error {
	return s.atomically(ctx, func(tx *Store) error {
		existing, err := tx.ListEligibilityRules(ctx, r.InsuranceCode, r.CategoryID)
		if err != nil {
			return err
		}
		if err := rejectOverlap(existing, r.Window, "eligibility_rule", r.InsuranceCode+"/"+r.CategoryID,
			func(x core.EligibilityRule) string { return x.ID }, r.ID); err != nil {
			return err
		}
		_, err = tx.namedExec(ctx, `
			INSERT INTO eligibility_rules (id, insurance_code, category_id, eligible, effective_from, effective_to)
			VALUES (:id, :insurance_code, :category_id, :eligible, :effective_from, :effective_to)
			ON CONFLICT (id) DO UPDATE SET
				insurance_code = excluded.insurance_code, category_id = excluded.category_id,
				eligible = excluded.eligible,
				effective_from = excluded.effective_from, effective_to = excluded.effective_to`,
			ruleRow{
				ID:            r.ID,
				InsuranceCode: r.InsuranceCode,
				CategoryID:    r.CategoryID,
				Eligible:      r.Eligible,
				windowCols:    toWindowCols(r.Window),
			})
		return err
	})
}

// =============================================================================
// PERIODS AND COMPONENTS
// =============================================================================

func (s *Store) GetPeriod(ctx context.Context, id core.PeriodID) (*core.PayPeriod, error) {
	var row periodRow
	err := s.get(ctx, &row, `SELECT id, name, start_date, end_date, pay_date FROM pay_periods WHERE id = ?`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrPeriodNotFound
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

func (s *Store) ListPeriods(ctx context.Context, from, to core.TimePoint) ([]core.PayPeriod, error) {
	var rows []periodRow
	err := s.selectAll(ctx, &rows, `
		SELECT id, name, start_date, end_date, pay_date FROM pay_periods
		WHERE start_date <= ? AND end_date >= ?
		ORDER BY start_date`, to.String(), from.String())
	if err != nil {
		return nil, err
	}
	return convert(rows, periodRow.toModel)
}

func (s *Store) SavePeriod(ctx context.Context, p core.PayPeriod) error {
	_, err := s.namedExec(ctx, `
		INSERT INTO pay_periods (id, name, start_date, end_date, pay_date)
		VALUES (:id, :name, :start_date, :end_date, :pay_date)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, start_date = excluded.start_date,
			end_date = excluded.end_date, pay_date = excluded.pay_date`,
		periodRow{
			ID:        string(p.ID),
			Name:      p.Name,
			StartDate: p.Start.String(),
			EndDate:   p.End.String(),
			PayDate:   p.PayDate.String(),
		})
	return err
}

func (s *Store) GetComponent(ctx context.Context, code core.ComponentCode) (*core.SalaryComponent, error) {
	var row componentRow
	err := s.get(ctx, &row, `SELECT code, name, type, source FROM salary_components WHERE code = ?`, string(code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrComponentNotFound
	}
	if err != nil {
		return nil, err
	}
	c := row.toModel()
	return &c, nil
}

func (s *Store) ListComponents(ctx context.Context) ([]core.SalaryComponent, error) {
	var rows []componentRow
	if err := s.selectAll(ctx, &rows, `SELECT code, name, type, source FROM salary_components ORDER BY code`); err != nil {
		return nil, err
	}
	out := make([]core.SalaryComponent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) SaveComponent(ctx context.Context, c core.SalaryComponent) error {
	_, err := s.namedExec(ctx, `
		INSERT INTO salary_components (code, name, type, source)
		VALUES (:code, :name, :type, :source)
		ON CONFLICT (code) DO UPDATE SET
			name = excluded.name, type = excluded.type, source = excluded.source`,
		componentRow{Code: string(c.Code), Name: c.Name, Type: string(c.Type), Source: string(c.Source)})
	return err
}

func (r componentRow) toModel() core.SalaryComponent {
	return core.SalaryComponent{
		Code:   core.ComponentCode(r.Code),
		Name:   r.Name,
		Type:   core.ComponentType(r.Type),
		Source: core.ItemSource(r.Source),
	}
}
