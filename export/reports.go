package export

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/batch"
	"github.com/warp/payroll-engine/core"
)

// Report kinds.
const (
	ReportPayrollDetails      = "payroll_details"
	ReportContributionBases   = "contribution_bases"
	ReportPersonnelCategories = "personnel_categories"
	ReportCalculations        = "calculations"
)

// Labels used in file names.
var reportLabels = map[string]string{
	ReportPayrollDetails:      "工资明细",
	ReportContributionBases:   "员工缴费基数",
	ReportPersonnelCategories: "员工身份类别",
	ReportCalculations:        "calculations",
}

// Label returns the file name label of a report, or "" when unknown.
func Label(kind string) string { return reportLabels[kind] }

// SupportsPDF reports whether a report renders legibly with the PDF core fonts.
func SupportsPDF(kind string) bool { return kind == ReportCalculations }

const uncategorized = "未分类"

// Common columns of the Chinese reports.
const (
	colPeriod       = "薪资周期"
	colPeriodStart  = "周期开始日期"
	colPeriodEnd    = "周期结束日期"
	colPayDate      = "发放日期"
	colCode         = "员工编号"
	colName         = "员工姓名"
	colIDNumber     = "身份证号"
	colCategory     = "人员类别"
	colCategoryCode = "人员类别编码"
	colDepartment   = "部门名称"
	colPosition     = "职位名称"
	colHireDate     = "入职日期"
	colStatus       = "员工状态"
	colGross        = "应发合计"
	colDeductions   = "扣除合计"
	colNet          = "实发合计"
)

var baseColumns = []string{
	colPeriod, colPeriodStart, colPeriodEnd, colPayDate,
	colCode, colName, colIDNumber, colCategory, colDepartment, colPosition, colHireDate, colStatus,
}

var totalColumns = []string{colGross, colDeductions, colNet}

// Builder assembles report datasets from the store.
type Builder struct {
	Store core.Store
}

func NewBuilder(store core.Store) *Builder {
	return &Builder{Store: store}
}

// Build dispatches on the report kind.
func (b *Builder) Build(ctx context.Context, kind string, periodID core.PeriodID, includeZero bool) (Dataset, error) {
	switch kind {
	case ReportPayrollDetails:
		return b.PayrollDetails(ctx, periodID, includeZero)
	case ReportContributionBases:
		return b.ContributionBases(ctx, periodID)
	case ReportPersonnelCategories:
		return b.PersonnelCategories(ctx, periodID)
	case ReportCalculations:
		return b.Calculations(ctx, periodID)
	}
	return Dataset{}, fmt.Errorf("%w: %q", ErrUnknownReport, kind)
}

// =============================================================================
// PERIOD ROWS
// =============================================================================

// entry is one payroll of the period with the employee context it is
// reported under.
type entry struct {
	payroll  core.Payroll
	employee core.Employee
	position *core.PositionAssignment
}

func (e entry) category() string {
	if e.position == nil || e.position.CategoryName == "" {
		return uncategorized
	}
	return e.position.CategoryName
}

func (b *Builder) entries(ctx context.Context, periodID core.PeriodID) (*core.PayPeriod, []entry, error) {
	period, err := b.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, nil, err
	}
	payrolls, err := b.Store.ListPayrolls(ctx, periodID)
	if err != nil {
		return nil, nil, err
	}

	out := make([]entry, 0, len(payrolls))
	for _, p := range payrolls {
		emp, err := b.Store.GetEmployee(ctx, p.EmployeeID)
		if err != nil {
			return nil, nil, fmt.Errorf("payroll %s: %w", p.ID, err)
		}
		positions, err := b.Store.ListPositionAssignments(ctx, p.EmployeeID)
		if err != nil {
			return nil, nil, err
		}
		e := entry{payroll: p, employee: *emp}
		if pos, ok := core.Current(positions, period.End); ok {
			e.position = &pos
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b entry) int {
		return cmp.Or(
			cmp.Compare(a.category(), b.category()),
			cmp.Compare(a.employee.Code, b.employee.Code),
			cmp.Compare(a.employee.Name, b.employee.Name),
		)
	})
	return period, out, nil
}

func baseRow(period *core.PayPeriod, e entry) map[string]string {
	status := "在职"
	if !e.employee.Active {
		status = "离职"
	}
	row := map[string]string{
		colPeriod:      period.Name,
		colPeriodStart: period.Start.String(),
		colPeriodEnd:   period.End.String(),
		colPayDate:     period.PayDate.String(),
		colCode:        e.employee.Code,
		colName:        e.employee.Name,
		colIDNumber:    e.employee.IDNumber,
		colCategory:    e.category(),
		colStatus:      status,
		colGross:       money(e.payroll.GrossPay),
		colDeductions:  money(e.payroll.TotalDeductions),
		colNet:         money(e.payroll.NetPay),
	}
	if !e.employee.HireDate.IsZero() {
		row[colHireDate] = e.employee.HireDate.String()
	}
	if e.employee.Name == "" {
		row[colName] = "未知姓名"
	}
	if e.position != nil {
		row[colDepartment] = e.position.DepartmentName
		row[colPosition] = e.position.PositionName
	}
	return row
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// percent renders a fractional rate as a percentage: 0.08 is "8.00%".
func percent(rate decimal.Decimal) string {
	return rate.Shift(2).StringFixed(2) + "%"
}

// =============================================================================
// PAYROLL DETAILS
// =============================================================================

var typeOrder = map[core.ComponentType]int{
	core.ComponentEarning:   0,
	core.ComponentDeduction: 1,
	core.ComponentEmployer:  2,
	core.ComponentInfo:      3,
}

// PayrollDetails has one column per salary component used in the period.
func (b *Builder) PayrollDetails(ctx context.Context, periodID core.PeriodID, includeZero bool) (Dataset, error) {
	period, entries, err := b.entries(ctx, periodID)
	if err != nil {
		return Dataset{}, err
	}

	type column struct {
		code  core.ComponentCode
		label string
		typ   core.ComponentType
	}
	columns := map[core.ComponentCode]column{}
	rows := make([]map[string]string, 0, len(entries))
	itemsByRow := make([]map[core.ComponentCode]decimal.Decimal, 0, len(entries))

	for _, e := range entries {
		items, err := b.Store.ListItems(ctx, e.payroll.ID)
		if err != nil {
			return Dataset{}, err
		}
		amounts := map[core.ComponentCode]decimal.Decimal{}
		for _, it := range items {
			amounts[it.Component] = it.Amount
			if _, ok := columns[it.Component]; ok {
				continue
			}
			label := string(it.Component)
			if c, err := b.Store.GetComponent(ctx, it.Component); err == nil && c.Name != "" {
				label = c.Name
			}
			columns[it.Component] = column{code: it.Component, label: label, typ: it.Type}
		}
		rows = append(rows, baseRow(period, e))
		itemsByRow = append(itemsByRow, amounts)
	}

	ordered := make([]column, 0, len(columns))
	for _, c := range columns {
		ordered = append(ordered, c)
	}
	slices.SortFunc(ordered, func(a, b column) int {
		return cmp.Or(cmp.Compare(typeOrder[a.typ], typeOrder[b.typ]), cmp.Compare(a.code, b.code))
	})

	headers := append([]string{}, baseColumns...)
	numeric := make([]string, 0, len(ordered)+len(totalColumns))
	for _, c := range ordered {
		header := uniqueHeader(headers, c.label, c.code)
		headers = append(headers, header)
		numeric = append(numeric, header)
		for i, row := range rows {
			if v, ok := itemsByRow[i][c.code]; ok {
				row[header] = money(v)
			}
		}
	}
	headers = append(headers, totalColumns...)
	numeric = append(numeric, totalColumns...)

	data := Dataset{Headers: headers, Rows: rows}
	if !includeZero {
		data = dropZeroColumns(data, numeric)
	}
	return data, nil
}

// uniqueHeader disambiguates two components with the same display name.
func uniqueHeader(existing []string, label string, code core.ComponentCode) string {
	if slices.Contains(existing, label) {
		return fmt.Sprintf("%s(%s)", label, code)
	}
	return label
}

// dropZeroColumns removes numeric columns that are zero or empty in every row.
func dropZeroColumns(data Dataset, numeric []string) Dataset {
	drop := map[string]bool{}
	for _, h := range numeric {
		zero := true
		for _, row := range data.Rows {
			if v := row[h]; v != "" {
				if d, err := decimal.NewFromString(v); err != nil || !d.IsZero() {
					zero = false
					break
				}
			}
		}
		if zero {
			drop[h] = true
		}
	}
	kept := make([]string, 0, len(data.Headers))
	for _, h := range data.Headers {
		if !drop[h] {
			kept = append(kept, h)
		}
	}
	data.Headers = kept
	return data
}

// =============================================================================
// CONTRIBUTION BASES
// =============================================================================

// ContributionBases reports the latest persisted calculation of each
// employee in the period.
func (b *Builder) ContributionBases(ctx context.Context, periodID core.PeriodID) (Dataset, error) {
	period, entries, err := b.entries(ctx, periodID)
	if err != nil {
		return Dataset{}, err
	}
	configs, err := b.Store.ListInsuranceTypeConfigs(ctx)
	if err != nil {
		return Dataset{}, err
	}
	logs, err := b.Store.ListLogsByPeriod(ctx, periodID)
	if err != nil {
		return Dataset{}, err
	}
	latest := latestCalculations(logs)

	// Columns follow config priority; codes only seen in logs go last.
	names := map[string]string{}
	var codes []string
	for _, c := range configs {
		if _, ok := names[c.Code]; !ok {
			names[c.Code] = c.Name
			codes = append(codes, c.Code)
		}
	}
	var extra []string
	for _, calc := range latest {
		for _, l := range calc {
			if _, ok := names[l.InsuranceCode]; !ok {
				names[l.InsuranceCode] = l.InsuranceCode
				extra = append(extra, l.InsuranceCode)
			}
		}
	}
	slices.Sort(extra)
	codes = append(codes, extra...)

	headers := append([]string{}, baseColumns...)
	for _, code := range codes {
		n := names[code]
		headers = append(headers, n+"缴费基数", n+"个人费率", n+"单位费率", n+"个人缴费", n+"单位缴费")
	}
	headers = append(headers, "计算时间")
	headers = append(headers, totalColumns...)

	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		row := baseRow(period, e)
		byCode := map[string]core.CalculationLogEntry{}
		for _, l := range latest[e.employee.ID] {
			// A skipped variant never hides the applied one.
			if prev, ok := byCode[l.InsuranceCode]; ok && prev.Applicable && !l.Applicable {
				continue
			}
			byCode[l.InsuranceCode] = l
		}
		for _, code := range codes {
			n := names[code]
			l, ok := byCode[code]
			if !ok {
				row[n+"缴费基数"] = money(decimal.Zero)
				row[n+"个人费率"] = percent(decimal.Zero)
				row[n+"单位费率"] = percent(decimal.Zero)
				row[n+"个人缴费"] = money(decimal.Zero)
				row[n+"单位缴费"] = money(decimal.Zero)
				continue
			}
			row[n+"缴费基数"] = money(l.BaseUsed)
			row[n+"个人费率"] = percent(l.EmployeeRate)
			row[n+"单位费率"] = percent(l.EmployerRate)
			row[n+"个人缴费"] = money(l.EmployeeAmount)
			row[n+"单位缴费"] = money(l.EmployerAmount)
			row["计算时间"] = l.CreatedAt.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, row)
	}
	return Dataset{Headers: headers, Rows: rows}, nil
}

// latestCalculations keeps, per employee, the entries of the most recently
// created calculation. logs must be ordered by creation.
func latestCalculations(logs []core.CalculationLogEntry) map[core.EmployeeID][]core.CalculationLogEntry {
	lastID := map[core.EmployeeID]string{}
	for _, l := range logs {
		lastID[l.EmployeeID] = l.CalculationID
	}
	out := map[core.EmployeeID][]core.CalculationLogEntry{}
	for _, l := range logs {
		if lastID[l.EmployeeID] == l.CalculationID {
			out[l.EmployeeID] = append(out[l.EmployeeID], l)
		}
	}
	return out
}

// =============================================================================
// PERSONNEL CATEGORIES
// =============================================================================

func (b *Builder) PersonnelCategories(ctx context.Context, periodID core.PeriodID) (Dataset, error) {
	period, entries, err := b.entries(ctx, periodID)
	if err != nil {
		return Dataset{}, err
	}
	headers := append([]string{}, baseColumns...)
	headers = append(headers, colCategoryCode)
	headers = append(headers, totalColumns...)

	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		row := baseRow(period, e)
		if e.position != nil {
			row[colCategoryCode] = e.position.CategoryID
		}
		rows = append(rows, row)
	}
	return Dataset{Headers: headers, Rows: rows}, nil
}

// =============================================================================
// CALCULATION SUMMARIES
// =============================================================================

var calculationHeaders = []string{
	"Employee", "Payroll", "Gross", "Deductions", "Net",
	"Employee Insurance", "Employer Insurance", "Applied", "Calculated At",
}

// Calculations summarizes each payroll of the period with its latest
// persisted calculation.
func (b *Builder) Calculations(ctx context.Context, periodID core.PeriodID) (Dataset, error) {
	_, entries, err := b.entries(ctx, periodID)
	if err != nil {
		return Dataset{}, err
	}
	logs, err := b.Store.ListLogsByPeriod(ctx, periodID)
	if err != nil {
		return Dataset{}, err
	}
	latest := latestCalculations(logs)

	rows := make([]map[string]string, 0, len(entries))
	for _, e := range entries {
		ee, er := decimal.Zero, decimal.Zero
		applied := 0
		calculatedAt := ""
		for _, l := range latest[e.employee.ID] {
			ee = ee.Add(l.EmployeeAmount)
			er = er.Add(l.EmployerAmount)
			if l.Applicable {
				applied++
			}
			calculatedAt = l.CreatedAt.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, map[string]string{
			"Employee":           e.employee.Code,
			"Payroll":            string(e.payroll.ID),
			"Gross":              money(e.payroll.GrossPay),
			"Deductions":         money(e.payroll.TotalDeductions),
			"Net":                money(e.payroll.NetPay),
			"Employee Insurance": money(ee),
			"Employer Insurance": money(er),
			"Applied":            strconv.Itoa(applied),
			"Calculated At":      calculatedAt,
		})
	}
	return Dataset{Headers: calculationHeaders, Rows: rows}, nil
}

var summaryHeaders = []string{
	"Employee", "Period", "Status", "Employee Insurance", "Employer Insurance",
	"Deleted Logs", "Deleted Items", "Error",
}

// BatchSummary renders the rows of a batch run.
func BatchSummary(rows []batch.Row) Dataset {
	out := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		ee, er := "", ""
		if r.Result != nil && r.Status == batch.StatusSuccess {
			ee = money(r.Result.TotalEmployeeAmount)
			er = money(r.Result.TotalEmployerAmount)
		}
		out = append(out, map[string]string{
			"Employee":           string(r.EmployeeID),
			"Period":             string(r.PeriodID),
			"Status":             string(r.Status),
			"Employee Insurance": ee,
			"Employer Insurance": er,
			"Deleted Logs":       strconv.Itoa(r.DeletedLogs),
			"Deleted Items":      strconv.Itoa(r.DeletedItems),
			"Error":              r.ErrorMessage,
		})
	}
	return Dataset{Headers: summaryHeaders, Rows: out}
}
