package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

// schema is shared by both dialects. {{money}} and {{bool}} are replaced per
// driver before execution.
const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id         TEXT PRIMARY KEY,
	code       TEXT NOT NULL,
	name       TEXT NOT NULL,
	id_number  TEXT,
	region     TEXT,
	hire_date  TEXT NOT NULL,
	active     {{bool}} NOT NULL
);

CREATE TABLE IF NOT EXISTS position_assignments (
	id              TEXT PRIMARY KEY,
	employee_id     TEXT NOT NULL,
	department_id   TEXT NOT NULL,
	department_name TEXT,
	position_id     TEXT NOT NULL,
	position_name   TEXT,
	category_id     TEXT,
	category_name   TEXT,
	effective_from  TEXT NOT NULL,
	effective_to    TEXT
);

CREATE INDEX IF NOT EXISTS idx_position_assignments_employee
	ON position_assignments(employee_id, effective_from);

CREATE TABLE IF NOT EXISTS payroll_configs (
	id             TEXT PRIMARY KEY,
	employee_id    TEXT NOT NULL,
	base_salary    {{money}} NOT NULL,
	effective_from TEXT NOT NULL,
	effective_to   TEXT
);

CREATE INDEX IF NOT EXISTS idx_payroll_configs_employee
	ON payroll_configs(employee_id, effective_from);

CREATE TABLE IF NOT EXISTS monthly_base_snapshots (
	employee_id               TEXT NOT NULL,
	year                      INTEGER NOT NULL,
	month                     INTEGER NOT NULL,
	social_insurance_base     {{money}},
	housing_fund_base         {{money}},
	occupational_pension_base {{money}},
	PRIMARY KEY (employee_id, year, month)
);

CREATE TABLE IF NOT EXISTS insurance_type_configs (
	id             TEXT PRIMARY KEY,
	code           TEXT NOT NULL,
	name           TEXT NOT NULL,
	priority       INTEGER NOT NULL,
	employee_rate  {{money}} NOT NULL,
	employer_rate  {{money}} NOT NULL,
	base_field     TEXT,
	applicability  TEXT NOT NULL,
	active         {{bool}} NOT NULL,
	effective_from TEXT NOT NULL,
	effective_to   TEXT
);

CREATE INDEX IF NOT EXISTS idx_insurance_type_configs_code
	ON insurance_type_configs(code, effective_from);

CREATE TABLE IF NOT EXISTS region_base_bands (
	id             TEXT PRIMARY KEY,
	region         TEXT NOT NULL,
	insurance_code TEXT NOT NULL,
	min_base       {{money}} NOT NULL,
	max_base       {{money}} NOT NULL,
	average_salary {{money}} NOT NULL,
	effective_from TEXT NOT NULL,
	effective_to   TEXT
);

CREATE INDEX IF NOT EXISTS idx_region_base_bands_key
	ON region_base_bands(region, insurance_code, effective_from);

CREATE TABLE IF NOT EXISTS eligibility_rules (
	id             TEXT PRIMARY KEY,
	insurance_code TEXT NOT NULL,
	category_id    TEXT NOT NULL,
	eligible       {{bool}} NOT NULL,
	effective_from TEXT NOT NULL,
	effective_to   TEXT
);

CREATE INDEX IF NOT EXISTS idx_eligibility_rules_key
	ON eligibility_rules(insurance_code, category_id, effective_from);

CREATE TABLE IF NOT EXISTS pay_periods (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	pay_date   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pay_periods_range
	ON pay_periods(start_date, end_date);

CREATE TABLE IF NOT EXISTS salary_components (
	code   TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	type   TEXT NOT NULL,
	source TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payrolls (
	id               TEXT PRIMARY KEY,
	employee_id      TEXT NOT NULL,
	period_id        TEXT NOT NULL,
	gross_pay        {{money}} NOT NULL,
	total_deductions {{money}} NOT NULL,
	net_pay          {{money}} NOT NULL,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	UNIQUE (employee_id, period_id)
);

CREATE TABLE IF NOT EXISTS payroll_items (
	id         TEXT PRIMARY KEY,
	payroll_id TEXT NOT NULL REFERENCES payrolls(id) ON DELETE CASCADE,
	component  TEXT NOT NULL,
	type       TEXT NOT NULL,
	source     TEXT NOT NULL,
	amount     {{money}} NOT NULL,
	note       TEXT,
	updated_at TEXT NOT NULL,
	UNIQUE (payroll_id, component)
);

CREATE TABLE IF NOT EXISTS insurance_calculation_logs (
	id               TEXT PRIMARY KEY,
	calculation_id   TEXT NOT NULL,
	employee_id      TEXT NOT NULL,
	period_id        TEXT NOT NULL,
	calculation_date TEXT NOT NULL,
	insurance_code   TEXT NOT NULL,
	config_id        TEXT,
	base_field       TEXT,
	raw_base         {{money}} NOT NULL,
	base_used        {{money}} NOT NULL,
	employee_rate    {{money}} NOT NULL,
	employer_rate    {{money}} NOT NULL,
	employee_amount  {{money}} NOT NULL,
	employer_amount  {{money}} NOT NULL,
	is_applicable    {{bool}} NOT NULL,
	adjustment_type  TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insurance_calculation_logs_employee_period
	ON insurance_calculation_logs(employee_id, period_id);
CREATE INDEX IF NOT EXISTS idx_insurance_calculation_logs_calculation
	ON insurance_calculation_logs(calculation_id);
`

func schemaFor(driver string) string {
	money, boolean := "TEXT", "INTEGER"
	if driver == DriverPostgres {
		money, boolean = "NUMERIC(18,4)", "BOOLEAN"
	}
	return strings.NewReplacer("{{money}}", money, "{{bool}}", boolean).Replace(schema)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaFor(s.db.DriverName()), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
