// Package store provides an in-memory core.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a core.TxStore backed by maps. WithTx holds the write lock for
// the whole callback and restores a snapshot when it fails.
type Memory struct {
	mu sync.RWMutex
	d  *memData
}

type snapshotKey struct {
	EmployeeID core.EmployeeID
	Year       int
	Month      time.Month
}

type bandKey struct {
	Region string
	Code   string
}

type ruleKey struct {
	Code       string
	CategoryID string
}

type payrollKey struct {
	EmployeeID core.EmployeeID
	PeriodID   core.PeriodID
}

type memData struct {
	employees  map[core.EmployeeID]core.Employee
	positions  map[core.EmployeeID][]core.PositionAssignment
	configs    map[core.EmployeeID][]core.PayrollConfig
	snapshots  map[snapshotKey]core.MonthlyBaseSnapshot
	insurance  map[string][]core.InsuranceTypeConfig
	bands      map[bandKey][]core.RegionBaseBand
	rules      map[ruleKey][]core.EligibilityRule
	periods    map[core.PeriodID]core.PayPeriod
	components map[core.ComponentCode]core.SalaryComponent

	payrolls     map[core.PayrollID]core.Payroll
	payrollIndex map[payrollKey]core.PayrollID
	items        map[core.PayrollID][]core.PayrollItem
	logs         []core.CalculationLogEntry
}

func newMemData() *memData {
	return &memData{
		employees:    make(map[core.EmployeeID]core.Employee),
		positions:    make(map[core.EmployeeID][]core.PositionAssignment),
		configs:      make(map[core.EmployeeID][]core.PayrollConfig),
		snapshots:    make(map[snapshotKey]core.MonthlyBaseSnapshot),
		insurance:    make(map[string][]core.InsuranceTypeConfig),
		bands:        make(map[bandKey][]core.RegionBaseBand),
		rules:        make(map[ruleKey][]core.EligibilityRule),
		periods:      make(map[core.PeriodID]core.PayPeriod),
		components:   make(map[core.ComponentCode]core.SalaryComponent),
		payrolls:     make(map[core.PayrollID]core.Payroll),
		payrollIndex: make(map[payrollKey]core.PayrollID),
		items:        make(map[core.PayrollID][]core.PayrollItem),
	}
}

var (
	_ core.TxStore = (*Memory)(nil)
	_ core.Store   = (*memData)(nil)
)

func NewMemory() *Memory {
	return &Memory{d: newMemData()}
}

// WithTx runs fn against the store under the write lock. If fn returns an
// error every change it made is discarded. fn must use the Store it is
// given; calling back into m from fn deadlocks.
func (m *Memory) WithTx(_ context.Context, fn func(core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (d *memData) clone() *memData {
	return &memData{
		employees:    cloneMap(d.employees),
		positions:    cloneSliceMap(d.positions),
		configs:      cloneSliceMap(d.configs),
		snapshots:    cloneMap(d.snapshots),
		insurance:    cloneSliceMap(d.insurance),
		bands:        cloneSliceMap(d.bands),
		rules:        cloneSliceMap(d.rules),
		periods:      cloneMap(d.periods),
		components:   cloneMap(d.components),
		payrolls:     cloneMap(d.payrolls),
		payrollIndex: cloneMap(d.payrollIndex),
		items:        cloneSliceMap(d.items),
		logs:         append([]core.CalculationLogEntry(nil), d.logs...),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSliceMap[K comparable, V any](in map[K][]V) map[K][]V {
	out := make(map[K][]V, len(in))
	for k, v := range in {
		out[k] = append([]V(nil), v...)
	}
	return out
}

// =============================================================================
// LOCKED ACCESSORS - core.Store on Memory
// =============================================================================

func (m *Memory) read() (*memData, func()) {
	m.mu.RLock()
	return m.d, m.mu.RUnlock
}

func (m *Memory) write() (*memData, func()) {
	m.mu.Lock()
	return m.d, m.mu.Unlock
}

func (m *Memory) GetEmployee(ctx context.Context, id core.EmployeeID) (*core.Employee, error) {
	d, done := m.read()
	defer done()
	return d.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	d, done := m.read()
	defer done()
	return d.ListEmployees(ctx)
}

func (m *Memory) ListPositionAssignments(ctx context.Context, id core.EmployeeID) ([]core.PositionAssignment, error) {
	d, done := m.read()
	defer done()
	return d.ListPositionAssignments(ctx, id)
}

func (m *Memory) ListPayrollConfigs(ctx context.Context, id core.EmployeeID) ([]core.PayrollConfig, error) {
	d, done := m.read()
	defer done()
	return d.ListPayrollConfigs(ctx, id)
}

func (m *Memory) GetMonthlyBaseSnapshot(ctx context.Context, id core.EmployeeID, year int, month time.Month) (*core.MonthlyBaseSnapshot, error) {
	d, done := m.read()
	defer done()
	return d.GetMonthlyBaseSnapshot(ctx, id, year, month)
}

func (m *Memory) ListInsuranceTypeConfigs(ctx context.Context) ([]core.InsuranceTypeConfig, error) {
	d, done := m.read()
	defer done()
	return d.ListInsuranceTypeConfigs(ctx)
}

func (m *Memory) ListRegionBaseBands(ctx context.Context, region, code string) ([]core.RegionBaseBand, error) {
	d, done := m.read()
	defer done()
	return d.ListRegionBaseBands(ctx, region, code)
}

func (m *Memory) ListEligibilityRules(ctx context.Context, code, categoryID string) ([]core.EligibilityRule, error) {
	d, done := m.read()
	defer done()
	return d.ListEligibilityRules(ctx, code, categoryID)
}

func (m *Memory) GetPeriod(ctx context.Context, id core.PeriodID) (*core.PayPeriod, error) {
	d, done := m.read()
	defer done()
	return d.GetPeriod(ctx, id)
}

func (m *Memory) ListPeriods(ctx context.Context, from, to core.TimePoint) ([]core.PayPeriod, error) {
	d, done := m.read()
	defer done()
	return d.ListPeriods(ctx, from, to)
}

func (m *Memory) GetComponent(ctx context.Context, code core.ComponentCode) (*core.SalaryComponent, error) {
	d, done := m.read()
	defer done()
	return d.GetComponent(ctx, code)
}

func (m *Memory) ListComponents(ctx context.Context) ([]core.SalaryComponent, error) {
	d, done := m.read()
	defer done()
	return d.ListComponents(ctx)
}

func (m *Memory) SaveEmployee(ctx context.Context, e core.Employee) error {
	d, done := m.write()
	defer done()
	return d.SaveEmployee(ctx, e)
}

func (m *Memory) SavePositionAssignment(ctx context.Context, a core.PositionAssignment) error {
	d, done := m.write()
	defer done()
	return d.SavePositionAssignment(ctx, a)
}

func (m *Memory) SavePayrollConfig(ctx context.Context, c core.PayrollConfig) error {
	d, done := m.write()
	defer done()
	return d.SavePayrollConfig(ctx, c)
}

func (m *Memory) SaveMonthlyBaseSnapshot(ctx context.Context, s core.MonthlyBaseSnapshot) error {
	d, done := m.write()
	defer done()
	return d.SaveMonthlyBaseSnapshot(ctx, s)
}

func (m *Memory) SaveInsuranceTypeConfig(ctx context.Context, c core.InsuranceTypeConfig) error {
	d, done := m.write()
	defer done()
	return d.SaveInsuranceTypeConfig(ctx, c)
}

func (m *Memory) SaveRegionBaseBand(ctx context.Context, b core.RegionBaseBand) error {
	d, done := m.write()
	defer done()
	return d.SaveRegionBaseBand(ctx, b)
}

func (m *Memory) SaveEligibilityRule(ctx context.Context, r core.EligibilityRule) error {
	d, done := m.write()
	defer done()
	return d.SaveEligibilityRule(ctx, r)
}

func (m *Memory) SavePeriod(ctx context.Context, p core.PayPeriod) error {
	d, done := m.write()
	defer done()
	return d.SavePeriod(ctx, p)
}

func (m *Memory) SaveComponent(ctx context.Context, c core.SalaryComponent) error {
	d, done := m.write()
	defer done()
	return d.SaveComponent(ctx, c)
}

func (m *Memory) GetPayroll(ctx context.Context, id core.PayrollID) (*core.Payroll, error) {
	d, done := m.read()
	defer done()
	return d.GetPayroll(ctx, id)
}

func (m *Memory) FindPayroll(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (*core.Payroll, error) {
	d, done := m.read()
	defer done()
	return d.FindPayroll(ctx, employeeID, periodID)
}

func (m *Memory) ListPayrolls(ctx context.Context, periodID core.PeriodID) ([]core.Payroll, error) {
	d, done := m.read()
	defer done()
	return d.ListPayrolls(ctx, periodID)
}

func (m *Memory) CreatePayroll(ctx context.Context, p core.Payroll) error {
	d, done := m.write()
	defer done()
	return d.CreatePayroll(ctx, p)
}

func (m *Memory) SavePayrollTotals(ctx context.Context, id core.PayrollID, totals core.Totals) error {
	d, done := m.write()
	defer done()
	return d.SavePayrollTotals(ctx, id, totals)
}

func (m *Memory) ListItems(ctx context.Context, id core.PayrollID) ([]core.PayrollItem, error) {
	d, done := m.read()
	defer done()
	return d.ListItems(ctx, id)
}

func (m *Memory) UpsertItem(ctx context.Context, item core.PayrollItem) error {
	d, done := m.write()
	defer done()
	return d.UpsertItem(ctx, item)
}

func (m *Memory) DeleteItem(ctx context.Context, id core.PayrollID, component core.ComponentCode) error {
	d, done := m.write()
	defer done()
	return d.DeleteItem(ctx, id, component)
}

func (m *Memory) DeleteItemsBySource(ctx context.Context, id core.PayrollID, source core.ItemSource) (int, error) {
	d, done := m.write()
	defer done()
	return d.DeleteItemsBySource(ctx, id, source)
}

func (m *Memory) AppendLogs(ctx context.Context, entries []core.CalculationLogEntry) error {
	d, done := m.write()
	defer done()
	return d.AppendLogs(ctx, entries)
}

func (m *Memory) ListLogs(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) ([]core.CalculationLogEntry, error) {
	d, done := m.read()
	defer done()
	return d.ListLogs(ctx, employeeID, periodID)
}

func (m *Memory) ListLogsByPeriod(ctx context.Context, periodID core.PeriodID) ([]core.CalculationLogEntry, error) {
	d, done := m.read()
	defer done()
	return d.ListLogsByPeriod(ctx, periodID)
}

func (m *Memory) DeleteLogs(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (int, error) {
	d, done := m.write()
	defer done()
	return d.DeleteLogs(ctx, employeeID, periodID)
}

// =============================================================================
// UNLOCKED DATA - core.Store on memData, used directly inside WithTx
// =============================================================================

func (d *memData) GetEmployee(_ context.Context, id core.EmployeeID) (*core.Employee, error) {
	e, ok := d.employees[id]
	if !ok {
		return nil, core.ErrEmployeeNotFound
	}
	return &e, nil
}

func (d *memData) ListEmployees(_ context.Context) ([]core.Employee, error) {
	out := make([]core.Employee, 0, len(d.employees))
	for _, e := range d.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memData) ListPositionAssignments(_ context.Context, id core.EmployeeID) ([]core.PositionAssignment, error) {
	return append([]core.PositionAssignment(nil), d.positions[id]...), nil
}

func (d *memData) ListPayrollConfigs(_ context.Context, id core.EmployeeID) ([]core.PayrollConfig, error) {
	return append([]core.PayrollConfig(nil), d.configs[id]...), nil
}

func (d *memData) GetMonthlyBaseSnapshot(_ context.Context, id core.EmployeeID, year int, month time.Month) (*core.MonthlyBaseSnapshot, error) {
	s, ok := d.snapshots[snapshotKey{EmployeeID: id, Year: year, Month: month}]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (d *memData) ListInsuranceTypeConfigs(_ context.Context) ([]core.InsuranceTypeConfig, error) {
	var out []core.InsuranceTypeConfig
	for _, cs := range d.insurance {
		out = append(out, cs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].EffectiveFrom.Before(out[j].EffectiveFrom)
	})
	return out, nil
}

func (d *memData) ListRegionBaseBands(_ context.Context, region, code string) ([]core.RegionBaseBand, error) {
	return append([]core.RegionBaseBand(nil), d.bands[bandKey{Region: region, Code: code}]...), nil
}

func (d *memData) ListEligibilityRules(_ context.Context, code, categoryID string) ([]core.EligibilityRule, error) {
	return append([]core.EligibilityRule(nil), d.rules[ruleKey{Code: code, CategoryID: categoryID}]...), nil
}

func (d *memData) GetPeriod(_ context.Context, id core.PeriodID) (*core.PayPeriod, error) {
	p, ok := d.periods[id]
	if !ok {
		return nil, core.ErrPeriodNotFound
	}
	return &p, nil
}

func (d *memData) ListPeriods(_ context.Context, from, to core.TimePoint) ([]core.PayPeriod, error) {
	window := core.Period{Start: from, End: to}
	var out []core.PayPeriod
	for _, p := range d.periods {
		if p.Range().Overlaps(window) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (d *memData) GetComponent(_ context.Context, code core.ComponentCode) (*core.SalaryComponent, error) {
	c, ok := d.components[code]
	if !ok {
		return nil, core.ErrComponentNotFound
	}
	return &c, nil
}

func (d *memData) ListComponents(_ context.Context) ([]core.SalaryComponent, error) {
	out := make([]core.SalaryComponent, 0, len(d.components))
	for _, c := range d.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (d *memData) SaveEmployee(_ context.Context, e core.Employee) error {
	d.employees[e.ID] = e
	return nil
}

func (d *memData) SavePositionAssignment(_ context.Context, a core.PositionAssignment) error {
	next, err := saveWindowed(d.positions[a.EmployeeID], a, "position_assignment", string(a.EmployeeID),
		func(x core.PositionAssignment) string { return x.ID })
	if err != nil {
		return err
	}
	d.positions[a.EmployeeID] = next
	return nil
}

func (d *memData) SavePayrollConfig(_ context.Context, c core.PayrollConfig) error {
	next, err := saveWindowed(d.configs[c.EmployeeID], c, "payroll_config", string(c.EmployeeID),
		func(x core.PayrollConfig) string { return x.ID })
	if err != nil {
		return err
	}
	d.configs[c.EmployeeID] = next
	return nil
}

func (d *memData) SaveMonthlyBaseSnapshot(_ context.Context, s core.MonthlyBaseSnapshot) error {
	d.snapshots[snapshotKey{EmployeeID: s.EmployeeID, Year: s.Year, Month: s.Month}] = s
	return nil
}

// SaveInsuranceTypeConfig checks overlap only against versions of the same
// scope; variants of one code with other applicability may run in parallel.
func (d *memData) SaveInsuranceTypeConfig(_ context.Context, c core.InsuranceTypeConfig) error {
	idOf := func(x core.InsuranceTypeConfig) string { return string(x.ID) }
	existing := d.insurance[c.Code]
	var scope []core.InsuranceTypeConfig
	for _, x := range existing {
		if x.SameScope(c) {
			scope = append(scope, x)
		}
	}
	if other, found := core.FindOverlap(scope, c.Window, func(x core.InsuranceTypeConfig) bool { return x.ID == c.ID }); found {
		return &core.OverlapError{Kind: "insurance_type_config", Key: c.Code, ExistingID: idOf(other), Existing: other.Window}
	}
	d.insurance[c.Code] = upsertByID(existing, c, idOf)
	return nil
}

func (d *memData) SaveRegionBaseBand(_ context.Context, b core.RegionBaseBand) error {
	k := bandKey{Region: b.Region, Code: b.InsuranceCode}
	next, err := saveWindowed(d.bands[k], b, "region_base_band", b.Region+"/"+b.InsuranceCode,
		func(x core.RegionBaseBand) string { return x.ID })
	if err != nil {
		return err
	}
	d.bands[k] = next
	return nil
}

func (d *memData) SaveEligibilityRule(_ context.Context, r core.EligibilityRule) error {
	k := ruleKey{Code: r.InsuranceCode, CategoryID: r.CategoryID}
	next, err := saveWindowed(d.rules[k], r, "eligibility_rule", r.InsuranceCode+"/"+r.CategoryID,
		func(x core.EligibilityRule) string { return x.ID })
	if err != nil {
		return err
	}
	d.rules[k] = next
	return nil
}

func (d *memData) SavePeriod(_ context.Context, p core.PayPeriod) error {
	d.periods[p.ID] = p
	return nil
}

func (d *memData) SaveComponent(_ context.Context, c core.SalaryComponent) error {
	d.components[c.Code] = c
	return nil
}

// saveWindowed replaces the record with the same id or appends it, after
// rejecting a window that overlaps a different record.
func saveWindowed[T core.Windowed](existing []T, rec T, kind, key string, idOf func(T) string) ([]T, error) {
	id := idOf(rec)
	if other, found := core.FindOverlap(existing, rec.EffectiveWindow(), func(x T) bool { return idOf(x) == id }); found {
		return nil, &core.OverlapError{Kind: kind, Key: key, ExistingID: idOf(other), Existing: other.EffectiveWindow()}
	}
	return upsertByID(existing, rec, idOf), nil
}

// upsertByID returns a copy of existing with rec replacing the record of
// the same id, or appended.
func upsertByID[T any](existing []T, rec T, idOf func(T) string) []T {
	id := idOf(rec)
	out := append([]T(nil), existing...)
	for i, x := range out {
		if idOf(x) == id {
			out[i] = rec
			return out
		}
	}
	return append(out, rec)
}

// =============================================================================
// PAYROLL
// =============================================================================

func (d *memData) GetPayroll(_ context.Context, id core.PayrollID) (*core.Payroll, error) {
	p, ok := d.payrolls[id]
	if !ok {
		return nil, core.ErrPayrollNotFound
	}
	return &p, nil
}

func (d *memData) FindPayroll(ctx context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (*core.Payroll, error) {
	id, ok := d.payrollIndex[payrollKey{EmployeeID: employeeID, PeriodID: periodID}]
	if !ok {
		return nil, core.ErrPayrollNotFound
	}
	return d.GetPayroll(ctx, id)
}

func (d *memData) ListPayrolls(_ context.Context, periodID core.PeriodID) ([]core.Payroll, error) {
	var out []core.Payroll
	for _, p := range d.payrolls {
		if p.PeriodID == periodID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

func (d *memData) CreatePayroll(_ context.Context, p core.Payroll) error {
	k := payrollKey{EmployeeID: p.EmployeeID, PeriodID: p.PeriodID}
	if _, exists := d.payrollIndex[k]; exists {
		return core.ErrDuplicatePayroll
	}
	if _, exists := d.payrolls[p.ID]; exists {
		return core.ErrDuplicatePayroll
	}
	d.payrolls[p.ID] = p
	d.payrollIndex[k] = p.ID
	return nil
}

func (d *memData) SavePayrollTotals(_ context.Context, id core.PayrollID, totals core.Totals) error {
	p, ok := d.payrolls[id]
	if !ok {
		return core.ErrPayrollNotFound
	}
	p.Totals = totals
	p.UpdatedAt = time.Now().UTC()
	d.payrolls[id] = p
	return nil
}

func (d *memData) ListItems(_ context.Context, id core.PayrollID) ([]core.PayrollItem, error) {
	return append([]core.PayrollItem(nil), d.items[id]...), nil
}

func (d *memData) UpsertItem(_ context.Context, item core.PayrollItem) error {
	if _, ok := d.payrolls[item.PayrollID]; !ok {
		return core.ErrPayrollNotFound
	}
	items := d.items[item.PayrollID]
	for i, existing := range items {
		if existing.Component == item.Component {
			item.ID = existing.ID
			items[i] = item
			return nil
		}
	}
	d.items[item.PayrollID] = append(items, item)
	return nil
}

func (d *memData) DeleteItem(_ context.Context, id core.PayrollID, component core.ComponentCode) error {
	items := d.items[id]
	for i, existing := range items {
		if existing.Component == component {
			d.items[id] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return core.ErrItemNotFound
}

func (d *memData) DeleteItemsBySource(_ context.Context, id core.PayrollID, source core.ItemSource) (int, error) {
	var kept []core.PayrollItem
	removed := 0
	for _, item := range d.items[id] {
		if item.Source == source {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	d.items[id] = kept
	return removed, nil
}

// =============================================================================
// CALCULATION LOGS
// =============================================================================

func (d *memData) AppendLogs(_ context.Context, entries []core.CalculationLogEntry) error {
	d.logs = append(d.logs, entries...)
	return nil
}

func (d *memData) ListLogs(_ context.Context, employeeID core.EmployeeID, periodID core.PeriodID) ([]core.CalculationLogEntry, error) {
	var out []core.CalculationLogEntry
	for _, e := range d.logs {
		if e.EmployeeID == employeeID && e.PeriodID == periodID {
			out = append(out, e)
		}
	}
	sortLogs(out)
	return out, nil
}

func (d *memData) ListLogsByPeriod(_ context.Context, periodID core.PeriodID) ([]core.CalculationLogEntry, error) {
	var out []core.CalculationLogEntry
	for _, e := range d.logs {
		if e.PeriodID == periodID {
			out = append(out, e)
		}
	}
	sortLogs(out)
	return out, nil
}

func (d *memData) DeleteLogs(_ context.Context, employeeID core.EmployeeID, periodID core.PeriodID) (int, error) {
	kept := d.logs[:0:0]
	removed := 0
	for _, e := range d.logs {
		if e.EmployeeID == employeeID && e.PeriodID == periodID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	d.logs = kept
	return removed, nil
}

func sortLogs(entries []core.CalculationLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].InsuranceCode < entries[j].InsuranceCode
	})
}
